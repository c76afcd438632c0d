// Package common — errors.go определяет таксономию ошибок,
// которая используется во всех модулях сервиса.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отдавать клиенту правильный HTTP-статус.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые ошибки. Модули оборачивают их через %w.
var (
	// ErrUnauthorized — нет идентичности пользователя или она невалидна
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput — нарушение схемы, диапазона или кратности
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound — пользователь, профиль или устройство не найдены
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance — недостаточно средств на счёте
	ErrInsufficientBalance = errors.New("Insufficient balance")
	// ErrConflict — конкурентная запись, нужен повтор
	ErrConflict = errors.New("conflict")
	// ErrInternal — неожиданная ошибка хранилища
	ErrInternal = errors.New("internal error")
)

// FieldError — ошибка валидации конкретного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// InputError собирает ошибки по полям. errors.Is(err, ErrInvalidInput) == true.
type InputError struct {
	Fields []FieldError
}

// Error реализует интерфейс error.
func (e *InputError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

// Unwrap позволяет errors.Is находить ErrInvalidInput.
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid создаёт InputError с одним полем.
func Invalid(field, message string) error {
	return &InputError{Fields: []FieldError{{Field: field, Message: message}}}
}

// FieldErrors достаёт ошибки полей, если они есть.
func FieldErrors(err error) []FieldError {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie.Fields
	}
	return nil
}
