package model

// TechnicianStats — показатели техника за окно в днях.
type TechnicianStats struct {
	Tecnico           string  `json:"tecnico"`
	NombreCompleto    string  `json:"nombre_completo"`
	TotalReparaciones int     `json:"total_reparaciones"`
	PromedioHoras     float64 `json:"promedio_horas"`
	Aprobadas         int     `json:"aprobadas"`
	Rechazadas        int     `json:"rechazadas"`
	PendientesQA      int     `json:"pendientes_qa"`
}

// InspectorStats — показатели инспектора QA за окно в днях.
type InspectorStats struct {
	InspectorQA       string  `json:"inspector_qa"`
	NombreCompleto    string  `json:"nombre_completo"`
	TotalValidaciones int     `json:"total_validaciones"`
	Aprobadas         int     `json:"aprobadas"`
	Rechazadas        int     `json:"rechazadas"`
	// TasaAprobacion — доля одобренных, проценты с точностью 0.01
	TasaAprobacion float64 `json:"tasa_aprobacion"`
}
