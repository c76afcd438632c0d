package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"serotonyl.ru/watch-rewards/internal/features/ledger"
)

type payoutSettlementRequest struct {
	PayoutID string `json:"payoutId" validate:"required,uuid"`
	ledger.PayoutOutcome
}

// settlePurchase — вебхук платёжного провайдера. Повтор с тем же referenceId ничего не меняет.
func (s *server) settlePurchase(c *fiber.Ctx) error {
	var req ledger.Settlement
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Ledger.SettlePurchase(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// settlePayout — подтверждение перевода от провайдера выплат.
func (s *server) settlePayout(c *fiber.Ctx) error {
	var req payoutSettlementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	payout, err := s.svc.Ledger.SettlePayout(c.UserContext(), req.PayoutID, req.PayoutOutcome)
	if err != nil {
		return err
	}
	return c.JSON(payout)
}

func (s *server) ledgerViolations(c *fiber.Ctx) error {
	violations, err := s.svc.Ledger.VerifyInvariant(c.UserContext())
	if err != nil {
		return err
	}
	if violations == nil {
		violations = []ledger.Violation{}
	}
	return c.JSON(fiber.Map{"violations": violations})
}
