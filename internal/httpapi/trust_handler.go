package httpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/abuse"
	"serotonyl.ru/watch-rewards/internal/features/trust"
)

// События, которые клиент не может сообщить о себе сам: их присылают
// платёжный провайдер и сервисы верификации через /internal.
var serviceOnlyEvents = map[string]bool{
	trust.EventCompletedPurchase: true,
	trust.EventVerifiedEmail:     true,
	trust.EventCompletedKYC:      true,
}

type trustRequest struct {
	DeviceFingerprint string          `json:"deviceFingerprint" validate:"required,max=256"`
	Event             string          `json:"event" validate:"required,max=64"`
	DeviceInfo        json.RawMessage `json:"deviceInfo"`
}

type internalTrustRequest struct {
	UserID            string          `json:"userId" validate:"required,max=128"`
	DeviceFingerprint string          `json:"deviceFingerprint" validate:"required,max=256"`
	Event             string          `json:"event" validate:"required,max=64"`
	DeviceInfo        json.RawMessage `json:"deviceInfo"`
}

type abuseRequest struct {
	Type              string          `json:"type" validate:"required,max=64"`
	Severity          abuse.Severity  `json:"severity" validate:"omitempty,oneof=low medium high"`
	Details           json.RawMessage `json:"details"`
	DeviceFingerprint string          `json:"deviceFingerprint" validate:"max=256"`
}

// updateTrust — POST /api/v1/trust/devices.
func (s *server) updateTrust(c *fiber.Ctx) error {
	var req trustRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if serviceOnlyEvents[req.Event] {
		return common.Invalid("event", "событие принимается только от внутренних сервисов")
	}
	return s.applyTrust(c, currentUser(c), req)
}

// updateTrustInternal — POST /internal/trust/devices, любое событие для любого пользователя.
func (s *server) updateTrustInternal(c *fiber.Ctx) error {
	var req internalTrustRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return s.applyTrust(c, req.UserID, trustRequest{
		DeviceFingerprint: req.DeviceFingerprint,
		Event:             req.Event,
		DeviceInfo:        req.DeviceInfo,
	})
}

func (s *server) applyTrust(c *fiber.Ctx, userID string, req trustRequest) error {
	rec, err := s.svc.Trust.UpdateTrust(c.UserContext(), userID, req.DeviceFingerprint, req.Event, req.DeviceInfo)
	if err != nil {
		return err
	}
	return c.JSON(newTrustResponse(rec.State()))
}

func (s *server) trustState(c *fiber.Ctx) error {
	st, err := s.svc.Trust.State(c.UserContext(), currentUser(c), c.Params("fp"))
	if err != nil {
		return err
	}
	return c.JSON(newTrustResponse(st))
}

func (s *server) trustAudit(c *fiber.Ctx) error {
	entries, err := s.svc.Trust.Audit(c.UserContext(), currentUser(c), c.Params("fp"), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"audit": entries})
}

// reportAbuse — POST /api/v1/abuse. Запись синхронная, ошибка журнала возвращается клиенту.
func (s *server) reportAbuse(c *fiber.Ctx) error {
	var req abuseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = c.Get(headerDeviceFingerprint)
	}
	event, err := s.svc.Abuse.Record(c.UserContext(), abuse.Event{
		UserID:            currentUser(c),
		Type:              req.Type,
		Severity:          req.Severity,
		Details:           req.Details,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}
