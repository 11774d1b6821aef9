// Пакет errors — формат ошибок HTTP API DMS.
// Единый формат: {"error": {"code": "...", "message": "...", "details": "..."}, "current_status": "..."}.
// details — только вне production, current_status — только для INVALID_STATE.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidState    = "INVALID_STATE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error         errorDetail `json:"error"`
	CurrentStatus string      `json:"current_status,omitempty"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func write(w http.ResponseWriter, statusCode int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// FromError переводит ошибку сервисного слоя в HTTP-ответ и возвращает статус.
// withDetails — добавить текст исходной ошибки (режим development).
func FromError(w http.ResponseWriter, err error, withDetails bool) int {
	status, body := classify(err)
	if withDetails {
		body.Error.Details = err.Error()
	}
	write(w, status, body)
	return status
}

// classify определяет статус и тело ответа по ошибке.
func classify(err error) (int, errorBody) {
	message := clientMessage(err)

	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		if te.Code == lifecycle.CodeInvalidStatus {
			return http.StatusBadRequest, errorBody{Error: errorDetail{Code: CodeValidationError, Message: te.Message}}
		}
		return http.StatusBadRequest, errorBody{
			Error:         errorDetail{Code: CodeInvalidState, Message: te.Message},
			CurrentStatus: string(te.Current),
		}
	}

	kinds := []struct {
		kind   error
		status int
		code   string
		// fallback — сообщение, если у ошибки нет сообщения для клиента
		fallback string
	}{
		{service.ErrValidation, http.StatusBadRequest, CodeValidationError, "datos inválidos"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, CodeUnauthorized, "credenciales inválidas"},
		{service.ErrForbidden, http.StatusForbidden, CodeForbidden, "permisos insuficientes"},
		{service.ErrNotFound, http.StatusNotFound, CodeNotFound, "recurso no encontrado"},
		{service.ErrConflict, http.StatusConflict, CodeConflict, "conflicto"},
		{service.ErrTooManyAttempts, http.StatusTooManyRequests, CodeTooManyRequests, "demasiadas solicitudes"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			if message == "" {
				message = k.fallback
			}
			return k.status, errorBody{Error: errorDetail{Code: k.code, Message: message}}
		}
	}

	return http.StatusInternalServerError, errorBody{
		Error: errorDetail{Code: CodeInternalError, Message: "error interno del servidor"},
	}
}

// clientMessage — сообщение для клиента из *service.Error (может быть пустым).
func clientMessage(err error) string {
	var se *service.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
