// qa.go — обработчики /api/qa endpoints.
// Очередь проверки, вердикт QA (одобрение/отклонение), история и статистика инспекторов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
)

type verdictRequest struct {
	ObservacionesQA *string `json:"observaciones_qa"`
}

// ListPendingQA — GET /api/qa/pendientes.
func (h *APIHandler) ListPendingQA(w http.ResponseWriter, r *http.Request) {
	repairs, err := h.queries.PendingQA(r.Context())
	if err != nil {
		h.fail(w, r, "pending_qa", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(repairs))
}

// ApproveRepair — POST /api/qa/{repair_id}/aprobar. Требует ValidateQA.
func (h *APIHandler) ApproveRepair(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req verdictRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if err := h.workflow.ApproveRepair(r.Context(), a, chi.URLParam(r, "repair_id"), req.ObservacionesQA); err != nil {
		h.fail(w, r, "approve_repair", err)
		return
	}
	writeSuccess(w, "reparación aprobada")
}

// RejectRepair — POST /api/qa/{repair_id}/rechazar. Требует ValidateQA.
// observaciones_qa обязательны.
func (h *APIHandler) RejectRepair(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req verdictRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if err := h.workflow.RejectRepair(r.Context(), a, chi.URLParam(r, "repair_id"), req.ObservacionesQA); err != nil {
		h.fail(w, r, "reject_repair", err)
		return
	}
	writeSuccess(w, "reparación rechazada")
}

// QAHistory — GET /api/qa/historial?dias=30&inspector=.
func (h *APIHandler) QAHistory(w http.ResponseWriter, r *http.Request) {
	var (
		dias      *int
		inspector *string
	)
	if err := bindQuery(r, map[string]any{"dias": &dias, "inspector": &inspector}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	history, err := h.queries.QAHistory(r.Context(), deref(dias), deref(inspector))
	if err != nil {
		h.fail(w, r, "qa_history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(history))
}

// InspectorStats — GET /api/qa/estadisticas?dias=30.
func (h *APIHandler) InspectorStats(w http.ResponseWriter, r *http.Request) {
	var dias *int
	if err := bindQuery(r, map[string]any{"dias": &dias}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	stats, err := h.queries.InspectorStats(r.Context(), deref(dias))
	if err != nil {
		h.fail(w, r, "inspector_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stats))
}
