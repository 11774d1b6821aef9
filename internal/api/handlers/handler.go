// handler.go — основной обработчик API DMS.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
	"github.com/bigkaa/dms/internal/api/middleware"
	"github.com/bigkaa/dms/internal/service"
)

// maxBodyBytes — ограничение размера JSON-тела запроса.
const maxBodyBytes = 1 << 20

// Services — сервисы, которые использует API.
type Services struct {
	Auth     *service.AuthService
	Workflow *service.WorkflowService
	Queries  *service.QueryService
	Modelos  *service.ModeloService
	Users    *service.UserService
}

// APIHandler — основной обработчик API DMS.
type APIHandler struct {
	health   *HealthHandler
	auth     *service.AuthService
	workflow *service.WorkflowService
	queries  *service.QueryService
	modelos  *service.ModeloService
	users    *service.UserService
	// details — выводить текст внутренних ошибок клиенту (development)
	details bool
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, svc Services, details bool, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:   health,
		auth:     svc.Auth,
		workflow: svc.Workflow,
		queries:  svc.Queries,
		modelos:  svc.Modelos,
		users:    svc.Users,
		details:  details,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// successResponse — тело успешного ответа мутирующих операций.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSuccess — {"success": true, "message": ...}.
func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: message})
}

// fail переводит ошибку сервиса в HTTP-ответ.
// Внутренние ошибки логируются с уровнем ERROR.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := apierrors.FromError(w, err, h.details)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// actor извлекает пользователя из контекста; при отсутствии пишет 401.
func actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	a, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "usuario no autenticado")
	}
	return a, ok
}

// decodeJSON декодирует тело запроса в dst.
// Пустое тело допустимо только если allowEmpty.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		apierrors.ValidationError(w, "JSON inválido: "+err.Error())
		return false
	}
	return true
}

// pathID читает целочисленный параметр маршрута.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, fmt.Sprintf("%s inválido: %q", name, raw))
		return 0, false
	}
	return id, true
}

// clientIP — IP клиента без порта (после chi middleware.RealIP).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
