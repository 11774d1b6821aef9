// defects.go — обработчики /api/defects и /api/modelo endpoints.
// Регистрация, выборка с фильтрами, ручная смена статуса, справочник моделей.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/repository"
	"github.com/bigkaa/dms/internal/service"
)

// defectListParams — query-параметры GET /api/defects.
type defectListParams struct {
	Fecha          *openapi_types.Date
	FechaInicio    *openapi_types.Date
	FechaFin       *openapi_types.Date
	Linea          *string
	Codigo         *string
	Defecto        *string
	Ubicacion      *string
	Area           *string
	Status         *string
	TipoInspeccion *string
	EtapaDeteccion *string
}

// flexTime — момент времени из JSON: RFC 3339, "YYYY-MM-DD HH:MM[:SS]" или дата.
// Формат без зоны трактуется как локальное время сервера.
type flexTime struct {
	time.Time
}

var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("fecha debe ser texto: %w", err)
	}
	s = strings.TrimSpace(s)
	for _, layout := range flexLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("formato de fecha no reconocido: %q", s)
}

type createDefectRequest struct {
	Fecha          *flexTime `json:"fecha"`
	Linea          string    `json:"linea"`
	Codigo         string    `json:"codigo"`
	Defecto        string    `json:"defecto"`
	Ubicacion      string    `json:"ubicacion"`
	Area           string    `json:"area"`
	Modelo         string    `json:"modelo"`
	TipoInspeccion string    `json:"tipo_inspeccion"`
	EtapaDeteccion string    `json:"etapa_deteccion"`
	RegistradoPor  string    `json:"registrado_por"`
}

type createDefectResponse struct {
	Success bool          `json:"success"`
	ID      string        `json:"id"`
	Message string        `json:"message"`
	Defect  *model.Defect `json:"defect"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Defect  *model.Defect `json:"defect"`
}

type modeloRequest struct {
	Codigo string `json:"codigo"`
	Modelo string `json:"modelo"`
}

// ListDefects — GET /api/defects. Фильтры объединяются через AND.
func (h *APIHandler) ListDefects(w http.ResponseWriter, r *http.Request) {
	var params defectListParams
	if err := bindQuery(r, map[string]any{
		"fecha":           &params.Fecha,
		"fechaInicio":     &params.FechaInicio,
		"fechaFin":        &params.FechaFin,
		"linea":           &params.Linea,
		"codigo":          &params.Codigo,
		"defecto":         &params.Defecto,
		"ubicacion":       &params.Ubicacion,
		"area":            &params.Area,
		"status":          &params.Status,
		"tipo_inspeccion": &params.TipoInspeccion,
		"etapa_deteccion": &params.EtapaDeteccion,
	}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	filters := repository.DefectFilters{
		Fecha:          dateTime(params.Fecha),
		FechaInicio:    dateTime(params.FechaInicio),
		FechaFin:       dateTime(params.FechaFin),
		Linea:          params.Linea,
		Area:           params.Area,
		Status:         params.Status,
		TipoInspeccion: params.TipoInspeccion,
		EtapaDeteccion: params.EtapaDeteccion,
		Codigo:         params.Codigo,
		Defecto:        params.Defecto,
		Ubicacion:      params.Ubicacion,
	}

	defects, err := h.queries.QueryDefects(r.Context(), filters)
	if err != nil {
		h.fail(w, r, "list_defects", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(defects))
}

// GetDefect — GET /api/defects/{id}.
func (h *APIHandler) GetDefect(w http.ResponseWriter, r *http.Request) {
	d, err := h.queries.GetDefect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get_defect", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateDefect — POST /api/defects. Требует RegisterDefect.
func (h *APIHandler) CreateDefect(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req createDefectRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	in := service.DefectInput{
		Linea:          req.Linea,
		Codigo:         req.Codigo,
		Defecto:        req.Defecto,
		Ubicacion:      req.Ubicacion,
		Area:           req.Area,
		Modelo:         req.Modelo,
		TipoInspeccion: req.TipoInspeccion,
		EtapaDeteccion: req.EtapaDeteccion,
		RegistradoPor:  req.RegistradoPor,
	}
	if req.Fecha != nil {
		t := req.Fecha.Time
		in.Fecha = &t
	}

	d, err := h.workflow.RegisterDefect(r.Context(), a, in)
	if err != nil {
		h.fail(w, r, "create_defect", err)
		return
	}
	writeJSON(w, http.StatusCreated, createDefectResponse{
		Success: true,
		ID:      d.ID,
		Message: "defecto registrado",
		Defect:  d,
	})
}

// UpdateDefectStatus — PUT /api/defects/{id}/status. Требует Repair.
func (h *APIHandler) UpdateDefectStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	d, err := h.workflow.ChangeStatus(r.Context(), a, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, "update_defect_status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success: true,
		Message: fmt.Sprintf("estado actualizado a %s", d.Status),
		Defect:  d,
	})
}

// GetModelo — GET /api/modelo?codigo=. Модель по префиксу кода ("" если неизвестна).
func (h *APIHandler) GetModelo(w http.ResponseWriter, r *http.Request) {
	var codigo *string
	if err := bindQuery(r, map[string]any{"codigo": &codigo}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if codigo == nil {
		apierrors.ValidationError(w, "codigo es requerido")
		return
	}

	modelo, err := h.modelos.Resolve(r.Context(), *codigo)
	if err != nil {
		h.fail(w, r, "get_modelo", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"modelo": modelo})
}

// SaveModelo — POST /api/modelo. Требует RegisterDefect.
func (h *APIHandler) SaveModelo(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req modeloRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	prefix, err := h.modelos.Save(r.Context(), a, req.Codigo, req.Modelo)
	if err != nil {
		h.fail(w, r, "save_modelo", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "modelo guardado",
		"prefijo": prefix,
		"modelo":  strings.TrimSpace(req.Modelo),
	})
}

// --- Query helpers ---

// bindQuery связывает query-параметры с полями через oapi-codegen runtime
// (style=form, explode=true). Пустые значения считаются отсутствующими.
func bindQuery(r *http.Request, dests map[string]any) error {
	query := url.Values{}
	for key, values := range r.URL.Query() {
		for _, v := range values {
			if strings.TrimSpace(v) != "" {
				query.Add(key, strings.TrimSpace(v))
			}
		}
	}
	for name, dest := range dests {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			return fmt.Errorf("parámetro %s inválido: %w", name, err)
		}
	}
	return nil
}

// dateTime переводит openapi Date в начало дня (UTC).
func dateTime(d *openapi_types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// nonNil гарантирует сериализацию пустого списка как [].
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
