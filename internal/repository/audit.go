package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/dms/internal/domain/model"
)

// AuditRepository — журнал аудита audit_log_dms (только добавление).
type AuditRepository interface {
	// Append добавляет запись; ID и Fecha заполняются из БД.
	Append(ctx context.Context, e *model.AuditLogEntry) error
	// ListByRecord — записи по одной сущности, в порядке добавления.
	ListByRecord(ctx context.Context, tabla, registroID string) ([]*model.AuditLogEntry, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log_dms (tabla, registro_id, accion, campo_modificado,
			valor_anterior, valor_nuevo, usuario)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, fecha`

	err := r.db.QueryRow(ctx, query,
		e.Tabla, e.RegistroID, e.Accion, e.CampoModificado, e.ValorAnterior, e.ValorNuevo, e.Usuario,
	).Scan(&e.ID, &e.Fecha)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByRecord(ctx context.Context, tabla, registroID string) ([]*model.AuditLogEntry, error) {
	query := `
		SELECT id, tabla, registro_id, accion, campo_modificado, valor_anterior, valor_nuevo, usuario, fecha
		FROM audit_log_dms
		WHERE tabla = $1 AND registro_id = $2
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, tabla, registroID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	result := make([]*model.AuditLogEntry, 0)
	for rows.Next() {
		e := &model.AuditLogEntry{}
		if err := rows.Scan(
			&e.ID, &e.Tabla, &e.RegistroID, &e.Accion, &e.CampoModificado,
			&e.ValorAnterior, &e.ValorNuevo, &e.Usuario, &e.Fecha,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
