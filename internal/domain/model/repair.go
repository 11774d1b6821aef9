package model

import (
	"time"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
)

// QAResult — вердикт QA по ремонту.
type QAResult string

const (
	QAApproved QAResult = "Aprobado"
	QARejected QAResult = "Rechazado"
)

// Repair — одна попытка ремонта дефекта.
// Хранится в таблице repair_data. Открытым считается ремонт без вердикта QA;
// у дефекта может быть не более одного открытого ремонта.
type Repair struct {
	// ID — идентификатор вида REP_<ms>_<suffix>
	ID       string `json:"id"`
	DefectID string `json:"defect_id"`
	// FechaRecepcion — момент приёма дефекта техником
	FechaRecepcion time.Time  `json:"fecha_recepcion"`
	FechaInicio    time.Time  `json:"fecha_inicio"`
	FechaFin       *time.Time `json:"fecha_fin"`
	// Tecnico — username техника
	Tecnico          string `json:"tecnico"`
	AccionCorrectiva string `json:"accion_correctiva"`
	MaterialesUsados string `json:"materiales_usados"`
	Observaciones    string `json:"observaciones"`
	// StatusAntes/StatusDespues — статусы дефекта до и после ремонта
	StatusAntes   lifecycle.Status `json:"status_antes"`
	StatusDespues lifecycle.Status `json:"status_despues"`
	// FechaRetornoQA — момент передачи на проверку QA
	FechaRetornoQA *time.Time `json:"fecha_retorno_qa"`

	// --- Поля проверки QA ---

	InspeccionadoPorQA    bool       `json:"inspeccionado_por_qa"`
	InspectorQA           *string    `json:"inspector_qa"`
	FechaInspeccionQA     *time.Time `json:"fecha_inspeccion_qa"`
	ResultadoInspeccionQA *QAResult  `json:"resultado_inspeccion_qa"`
	ObservacionesQA       *string    `json:"observaciones_qa"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen — ремонт ещё не получил вердикт QA.
func (r *Repair) IsOpen() bool {
	return !r.InspeccionadoPorQA
}

// RepairDetail — ремонт вместе с данными дефекта (для представлений и истории).
type RepairDetail struct {
	Repair
	Linea          string           `json:"linea"`
	Codigo         string           `json:"codigo"`
	Defecto        string           `json:"defecto"`
	Ubicacion      string           `json:"ubicacion"`
	Area           string           `json:"area"`
	Modelo         string           `json:"modelo"`
	TipoInspeccion string           `json:"tipo_inspeccion"`
	EtapaDeteccion string           `json:"etapa_deteccion"`
	DefectStatus   lifecycle.Status `json:"defect_status"`
	FechaDefecto   time.Time        `json:"fecha_defecto"`
	// TecnicoNombre / InspectorNombre — полные имена из usuarios_dms
	TecnicoNombre   string `json:"tecnico_nombre,omitempty"`
	InspectorNombre string `json:"inspector_nombre,omitempty"`
	// HorasReparacion — длительность ремонта в часах (если завершён)
	HorasReparacion *float64 `json:"horas_reparacion,omitempty"`
}

// RepairPatch — частичное обновление хода ремонта.
// nil — поле не передано и не меняется.
type RepairPatch struct {
	AccionCorrectiva *string `json:"accion_correctiva"`
	MaterialesUsados *string `json:"materiales_usados"`
	Observaciones    *string `json:"observaciones"`
}

// IsEmpty — ни одно поле не передано.
func (p RepairPatch) IsEmpty() bool {
	return p.AccionCorrectiva == nil && p.MaterialesUsados == nil && p.Observaciones == nil
}
