// openapi.go — GET /api/openapi.json: контракт API в JSON.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler отдаёт провалидированный документ OpenAPI.
// JSON сериализуется один раз при создании.
type OpenAPIHandler struct {
	body []byte
}

// NewOpenAPIHandler сериализует документ в JSON.
func NewOpenAPIHandler(doc *openapi3.T) (*OpenAPIHandler, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("сериализация OpenAPI: %w", err)
	}
	return &OpenAPIHandler{body: body}, nil
}

// ServeHTTP — GET /api/openapi.json.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.body)
}
