// catalogos.go — GET /api/catalogos: справочники для форм регистрации.
package handlers

import (
	"net/http"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
)

type catalogsResponse struct {
	Areas           []string           `json:"areas"`
	Lineas          []string           `json:"lineas"`
	TiposInspeccion []string           `json:"tipos_inspeccion"`
	EtapasDeteccion []string           `json:"etapas_deteccion"`
	Estados         []lifecycle.Status `json:"estados"`
}

// Catalogs — GET /api/catalogos.
func (h *APIHandler) Catalogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogsResponse{
		Areas:           model.Areas,
		Lineas:          model.Lineas,
		TiposInspeccion: model.TiposInspeccion,
		EtapasDeteccion: model.EtapasDeteccion,
		Estados:         lifecycle.AllStatuses(),
	})
}
