package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"serotonyl.ru/watch-rewards/internal/features/ledger"
)

type convertRequest struct {
	Amount int64 `json:"amount"`
}

type spendRequest struct {
	Currency    ledger.Currency `json:"currency" validate:"required,oneof=primary premium"`
	Amount      int64           `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"max=256"`
	ReferenceID string          `json:"referenceId" validate:"max=128"`
}

type spendResponse struct {
	Balance ledger.Balance `json:"balance"`
	Applied bool           `json:"applied"`
}

type payoutRequest struct {
	Currency    ledger.Currency `json:"currency" validate:"omitempty,oneof=primary premium"`
	Amount      int64           `json:"amount" validate:"gt=0"`
	ReferenceID string          `json:"referenceId" validate:"required,max=128"`
}

// registerProfile — POST /api/v1/profile. Повторный вызов возвращает тот же профиль.
func (s *server) registerProfile(c *fiber.Ctx) error {
	profile, err := s.svc.Profiles.Register(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

func (s *server) getWallet(c *fiber.Ctx) error {
	balance, err := s.svc.Ledger.Balance(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(balance)
}

func (s *server) listTransactions(c *fiber.Ctx) error {
	txs, err := s.svc.Ledger.Transactions(c.UserContext(), currentUser(c), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// convert — POST /api/v1/wallet/convert. Сумма проверяется сервисом до обращения к балансу.
func (s *server) convert(c *fiber.Ctx) error {
	var req convertRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Ledger.Convert(c.UserContext(), currentUser(c), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *server) spend(c *fiber.Ctx) error {
	var req spendRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	balance, applied, err := s.svc.Ledger.Spend(c.UserContext(), ledger.SpendRequest{
		UserID:      currentUser(c),
		Currency:    req.Currency,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return err
	}
	return c.JSON(spendResponse{Balance: balance, Applied: applied})
}

func (s *server) requestPayout(c *fiber.Ctx) error {
	var req payoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	payout, err := s.svc.Ledger.RequestPayout(c.UserContext(), ledger.PayoutRequest{
		UserID:      currentUser(c),
		Currency:    req.Currency,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(payout)
}

func (s *server) getPayout(c *fiber.Ctx) error {
	payout, err := s.svc.Ledger.Payout(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(payout)
}
