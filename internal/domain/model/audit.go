package model

import "time"

// Действия журнала аудита.
const (
	AuditInsert = "INSERT"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// Таблицы, на которые ссылается журнал.
const (
	TableDefects = "defect_data"
	TableRepairs = "repair_data"
	TableUsers   = "usuarios_dms"
)

// AuditLogEntry — запись журнала аудита (audit_log_dms). Только добавление.
type AuditLogEntry struct {
	ID              int64     `json:"id"`
	Tabla           string    `json:"tabla"`
	RegistroID      string    `json:"registro_id"`
	Accion          string    `json:"accion"`
	CampoModificado string    `json:"campo_modificado"`
	ValorAnterior   *string   `json:"valor_anterior"`
	ValorNuevo      *string   `json:"valor_nuevo"`
	Usuario         string    `json:"usuario"`
	Fecha           time.Time `json:"fecha"`
}
