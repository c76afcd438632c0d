package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"serotonyl.ru/watch-rewards/internal/common"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В ошибках поля называются так же, как в JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind разбирает тело запроса и проверяет его теги validate.
func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return common.Invalid("body", "некорректный JSON")
	}
	return check(dst)
}

// check превращает ошибки validator в common.InputError.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	fields := make([]common.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, common.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return &common.InputError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "обязательное поле"
	case "min", "gte":
		return "не меньше " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return "не длиннее " + fe.Param() + " символов"
		}
		return "не больше " + fe.Param()
	case "gt":
		return "больше " + fe.Param()
	case "oneof":
		return "допустимо: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "ожидается UUID"
	default:
		return "некорректное значение"
	}
}
