package attention

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule — одна взвешенная проверка. Новая проверка добавляется строкой в Rules.
type Rule struct {
	Name   string
	Weight int
	Passes func(s Session) bool
	Reason func(s Session) string
}

// Rules — таблица проверок сессии. Порядок определяет порядок checks и reasons в ответе.
var Rules = []Rule{
	{
		Name:   "attention_score",
		Weight: 30,
		Passes: func(s Session) bool { return s.AttentionScore >= 60 },
		Reason: func(s Session) string {
			return fmt.Sprintf("Attention score too low (%.0f < 60)", s.AttentionScore)
		},
	},
	{
		Name:   "watch_duration",
		Weight: 25,
		Passes: func(s Session) bool { return s.WatchPercent() >= 70 },
		Reason: func(s Session) string {
			return fmt.Sprintf("Watched %.0f%% of content, need at least 70%%", s.WatchPercent())
		},
	},
	{
		Name:   "face_detection",
		Weight: 25,
		Passes: func(s Session) bool { return s.FacePercent() >= 50 },
		Reason: func(s Session) string {
			return fmt.Sprintf("Face detected in %.0f%% of frames, need at least 50%%", s.FacePercent())
		},
	},
	{
		Name:   "minimum_frames",
		Weight: 10,
		Passes: func(s Session) bool { return s.TotalFrames >= 30 },
		Reason: func(s Session) string {
			return fmt.Sprintf("Too few frames sampled (%d < 30)", s.TotalFrames)
		},
	},
	{
		Name:   "timing_consistency",
		Weight: 10,
		Passes: func(s Session) bool {
			if s.TotalDuration <= 0 {
				return false
			}
			ratio := s.WatchDuration / s.TotalDuration
			return ratio >= 0.5 && ratio <= 1.5
		},
		Reason: func(Session) string {
			return "Watch time is inconsistent with content duration"
		},
	},
}

// ValidThreshold — минимальный балл валидной сессии.
const ValidThreshold = 70

// Tier — ступень множителя: балл не ниже MinScore даёт Multiplier.
type Tier struct {
	MinScore   float64
	Multiplier decimal.Decimal
}

// Tiers упорядочены по убыванию MinScore. Последняя ступень ловит всё остальное.
var Tiers = []Tier{
	{MinScore: 90, Multiplier: decimal.NewFromInt(1)},
	{MinScore: 80, Multiplier: decimal.RequireFromString("0.9")},
	{MinScore: 70, Multiplier: decimal.RequireFromString("0.75")},
	{MinScore: 0, Multiplier: decimal.RequireFromString("0.5")},
}

// Anomaly — проверка на неправдоподобную телеметрию. На балл не влияет.
type Anomaly struct {
	Name    string
	Matches func(s Session) bool
}

// Anomalies — таблица аномалий.
var Anomalies = []Anomaly{
	{
		// идеальное внимание при низкой досмотренности
		Name: PatternHighAttentionLowWatch,
		Matches: func(s Session) bool {
			return s.AttentionScore > 95 && s.WatchPercent() < 80
		},
	},
	{
		// лицо в каждом кадре длинной выборки похоже на синтетику
		Name: PatternPerfectFaceDetection,
		Matches: func(s Session) bool {
			return s.TotalFrames > 100 && s.FramesDetected == s.TotalFrames
		},
	},
}

// RepeatOffenderThreshold — сколько событий злоупотребления за окно делают пользователя рецидивистом.
const RepeatOffenderThreshold = 3
