package attention

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/watch-rewards/internal/features/abuse"
)

// Validate оценивает сессию. Чистая функция: ничего не читает и не пишет.
// recentAbuseCount — число событий злоупотребления пользователя за последние сутки.
func Validate(s Session, recentAbuseCount int) Verdict {
	v := Verdict{
		Checks:             make([]CheckResult, 0, len(Rules)),
		FailedChecks:       []string{},
		SuspiciousPatterns: []string{},
	}

	total, passed := 0, 0
	for _, r := range Rules {
		total += r.Weight
		ok := r.Passes(s)
		res := CheckResult{Name: r.Name, Passed: ok, Weight: r.Weight}
		if ok {
			passed += r.Weight
		} else {
			res.Reason = r.Reason(s)
			v.FailedChecks = append(v.FailedChecks, r.Name)
		}
		v.Checks = append(v.Checks, res)
	}
	if total > 0 {
		v.Score = 100 * float64(passed) / float64(total)
	}
	v.IsValid = v.Score >= ValidThreshold
	v.RewardMultiplier = multiplierFor(v.Score)

	for _, a := range Anomalies {
		if a.Matches(s) {
			v.SuspiciousPatterns = append(v.SuspiciousPatterns, a.Name)
		}
	}

	repeat := recentAbuseCount >= RepeatOffenderThreshold &&
		(!v.IsValid || len(v.SuspiciousPatterns) > 0)
	if repeat {
		v.SuspiciousPatterns = append(v.SuspiciousPatterns, PatternRepeatOffender)
	}

	v.ShouldRecordAbuse = !v.IsValid || len(v.SuspiciousPatterns) >= 2
	if v.ShouldRecordAbuse {
		v.Severity = abuse.SeverityMedium
		if v.Score < 50 || repeat {
			v.Severity = abuse.SeverityHigh
		}
	}
	return v
}

func multiplierFor(score float64) decimal.Decimal {
	for _, t := range Tiers {
		if score >= t.MinScore {
			return t.Multiplier
		}
	}
	return Tiers[len(Tiers)-1].Multiplier
}
