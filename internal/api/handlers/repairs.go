// repairs.go — обработчики /api/repairs endpoints.
// Очереди ремонта, начало/ход/завершение ремонта, история, статистика техников.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/service"
)

type startRepairRequest struct {
	DefectID string `json:"defect_id"`
}

type startRepairResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	RepairID string        `json:"repair_id"`
	Repair   *model.Repair `json:"repair"`
}

type finishRepairRequest struct {
	AccionCorrectiva string  `json:"accion_correctiva"`
	MaterialesUsados *string `json:"materiales_usados"`
	Observaciones    *string `json:"observaciones"`
}

// ListPendingRepairs — GET /api/repairs/pendientes.
func (h *APIHandler) ListPendingRepairs(w http.ResponseWriter, r *http.Request) {
	defects, err := h.queries.PendingRepairs(r.Context())
	if err != nil {
		h.fail(w, r, "pending_repairs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(defects))
}

// ListRepairsInProgress — GET /api/repairs/en-proceso.
func (h *APIHandler) ListRepairsInProgress(w http.ResponseWriter, r *http.Request) {
	repairs, err := h.queries.RepairsInProgress(r.Context())
	if err != nil {
		h.fail(w, r, "repairs_in_progress", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(repairs))
}

// StartRepair — POST /api/repairs/iniciar. Требует Repair.
func (h *APIHandler) StartRepair(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req startRepairRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.DefectID == "" {
		apierrors.ValidationError(w, "defect_id es requerido")
		return
	}

	rep, err := h.workflow.StartRepair(r.Context(), a, req.DefectID)
	if err != nil {
		h.fail(w, r, "start_repair", err)
		return
	}
	writeJSON(w, http.StatusOK, startRepairResponse{
		Success:  true,
		Message:  "reparación iniciada",
		RepairID: rep.ID,
		Repair:   rep,
	})
}

// UpdateRepairProgress — PUT /api/repairs/{id}/progreso. Требует Repair.
func (h *APIHandler) UpdateRepairProgress(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var patch model.RepairPatch
	if !decodeJSON(w, r, &patch, false) {
		return
	}

	if err := h.workflow.UpdateRepairProgress(r.Context(), a, chi.URLParam(r, "id"), patch); err != nil {
		h.fail(w, r, "update_repair_progress", err)
		return
	}
	writeSuccess(w, "progreso actualizado")
}

// FinishRepair — POST /api/repairs/{id}/finalizar. Требует Repair.
func (h *APIHandler) FinishRepair(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req finishRepairRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	err := h.workflow.FinishRepair(r.Context(), a, chi.URLParam(r, "id"), service.FinishInput{
		AccionCorrectiva: req.AccionCorrectiva,
		MaterialesUsados: req.MaterialesUsados,
		Observaciones:    req.Observaciones,
	})
	if err != nil {
		h.fail(w, r, "finish_repair", err)
		return
	}
	writeSuccess(w, "reparación finalizada, pendiente de validación QA")
}

// RepairHistory — GET /api/repairs/defecto/{defect_id}. Новые ремонты первыми.
func (h *APIHandler) RepairHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.queries.RepairHistory(r.Context(), chi.URLParam(r, "defect_id"))
	if err != nil {
		h.fail(w, r, "repair_history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(history))
}

// TechnicianStats — GET /api/repairs/estadisticas/tecnicos?dias=30&tecnico=.
func (h *APIHandler) TechnicianStats(w http.ResponseWriter, r *http.Request) {
	var (
		dias    *int
		tecnico *string
	)
	if err := bindQuery(r, map[string]any{"dias": &dias, "tecnico": &tecnico}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	stats, err := h.queries.TechnicianStats(r.Context(), deref(dias), deref(tecnico))
	if err != nil {
		h.fail(w, r, "technician_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stats))
}

// deref — значение указателя или нулевое значение.
func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
