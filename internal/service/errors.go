// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/repository"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс, ресурс занят).
	ErrConflict = errors.New("конфликт")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — у роли нет нужной возможности.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrInvalidCredentials — неверный логин/пароль или пользователь неактивен.
	ErrInvalidCredentials = errors.New("неверные учётные данные")
	// ErrTooManyAttempts — превышен лимит попыток входа.
	ErrTooManyAttempts = errors.New("слишком много попыток входа")
	// ErrInvalidState — операция недопустима в текущем статусе.
	// Конкретная ошибка — *lifecycle.TransitionError.
	ErrInvalidState = lifecycle.ErrInvalidState
)

// Error — ошибка сервиса с сообщением для клиента.
// Kind — одна из sentinel-ошибок пакета, Err — причина (может быть nil).
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap позволяет errors.Is находить и Kind, и причину.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

func notFoundError(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func conflictError(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

func forbiddenError(format string, args ...any) error {
	return newError(ErrForbidden, format, args...)
}

// wrapRepoError переводит ошибки репозитория в ошибки сервиса
// с сообщениями для клиента. Прочие ошибки возвращаются как есть.
func wrapRepoError(err error, notFoundMsg, conflictMsg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: ErrNotFound, Message: notFoundMsg, Err: err}
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrReferenced):
		return &Error{Kind: ErrConflict, Message: conflictMsg, Err: err}
	default:
		return err
	}
}
