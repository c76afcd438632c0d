package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/rewards"
	"serotonyl.ru/watch-rewards/internal/features/trust"
)

type validateResponse struct {
	Validated          bool                    `json:"validated"`
	ValidationScore    float64                 `json:"validationScore"`
	RewardMultiplier   float64                 `json:"rewardMultiplier"`
	Checks             []attention.CheckResult `json:"checks"`
	Reasons            []string                `json:"reasons"`
	SuspiciousPatterns []string                `json:"suspiciousPatterns"`
}

func newValidateResponse(v attention.Verdict) validateResponse {
	patterns := v.SuspiciousPatterns
	if patterns == nil {
		patterns = []string{}
	}
	return validateResponse{
		Validated:          v.IsValid,
		ValidationScore:    v.Score,
		RewardMultiplier:   v.RewardMultiplier.InexactFloat64(),
		Checks:             v.Checks,
		Reasons:            v.Reasons(),
		SuspiciousPatterns: patterns,
	}
}

type watchRewardRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	attention.Session
}

type watchRewardResponse struct {
	Status     rewards.Status   `json:"status"`
	Validation validateResponse `json:"validation"`
	Trust      trustResponse    `json:"trust"`
	Amount     int64            `json:"amount"`
	Balance    *ledger.Balance  `json:"balance,omitempty"`
}

// validateAttention — POST /api/v1/attention/validate.
func (s *server) validateAttention(c *fiber.Ctx) error {
	var session attention.Session
	if err := bind(c, &session); err != nil {
		return err
	}
	if session.DeviceFingerprint == "" {
		session.DeviceFingerprint = c.Get(headerDeviceFingerprint)
	}
	verdict, err := s.svc.Attention.Evaluate(c.UserContext(), currentUser(c), session)
	if err != nil {
		return err
	}
	return c.JSON(newValidateResponse(verdict))
}

// claimWatchReward — POST /api/v1/rewards/watch: проверка, доверие, начисление.
func (s *server) claimWatchReward(c *fiber.Ctx) error {
	var req watchRewardRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = c.Get(headerDeviceFingerprint)
	}
	if req.DeviceFingerprint == "" {
		return common.Invalid("deviceFingerprint", "обязательное поле")
	}

	res, err := s.svc.Rewards.ClaimWatchReward(c.UserContext(), rewards.Claim{
		UserID:    currentUser(c),
		Session:   req.Session,
		SessionID: req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(watchRewardResponse{
		Status:     res.Status,
		Validation: newValidateResponse(res.Verdict),
		Trust:      newTrustResponse(res.Trust),
		Amount:     res.Amount,
		Balance:    res.Balance,
	})
}

type trustResponse struct {
	TrustScore int    `json:"trustScore"`
	IsTrusted  bool   `json:"isTrusted"`
	IsFlagged  bool   `json:"isFlagged"`
	FlagReason string `json:"flagReason"`
}

func newTrustResponse(st trust.State) trustResponse {
	return trustResponse{
		TrustScore: st.TrustScore,
		IsTrusted:  st.IsTrusted,
		IsFlagged:  st.IsFlagged,
		FlagReason: st.FlagReason,
	}
}
