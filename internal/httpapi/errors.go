package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/admin"
)

// errTooManyRequests — пользователь исчерпал лимит запросов.
var errTooManyRequests = errors.New("too many requests")

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []common.FieldError `json:"fields,omitempty"`
}

// errorHandler переводит таксономию ошибок в HTTP-статусы.
// Подробности внутренних ошибок остаются в логе, клиент видит общее сообщение.
func errorHandler(c *fiber.Ctx, err error) error {
	status, body := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"user":   currentUser(c),
		}).WithError(err).Error("Ошибка обработки запроса")
	}
	return c.Status(status).JSON(body)
}

func errorStatus(err error) (int, errorResponse) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, errorResponse{Error: fe.Message}
	case errors.Is(err, common.ErrUnauthorized):
		return fiber.StatusUnauthorized, errorResponse{Error: "Unauthorized"}
	case errors.Is(err, admin.ErrTooManyAttempts), errors.Is(err, errTooManyRequests):
		return fiber.StatusTooManyRequests, errorResponse{Error: "Too many requests"}
	case errors.Is(err, common.ErrInvalidInput):
		return fiber.StatusBadRequest, errorResponse{Error: "Invalid input", Fields: common.FieldErrors(err)}
	case errors.Is(err, common.ErrInsufficientBalance):
		return fiber.StatusBadRequest, errorResponse{Error: "Insufficient balance"}
	case errors.Is(err, common.ErrNotFound):
		return fiber.StatusNotFound, errorResponse{Error: "Not found"}
	case errors.Is(err, common.ErrConflict):
		return fiber.StatusConflict, errorResponse{Error: "Concurrent update, retry the request"}
	default:
		return fiber.StatusInternalServerError, errorResponse{Error: "Internal server error"}
	}
}
