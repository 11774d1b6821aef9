package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/dms/internal/domain/model"
)

// ReportRepository — агрегаты по журналу ремонтов (только чтение).
type ReportRepository interface {
	// TechnicianStats — показатели техников по ремонтам, принятым за days дней.
	TechnicianStats(ctx context.Context, days int, tecnico *string) ([]*model.TechnicianStats, error)
	// InspectorStats — показатели инспекторов QA по проверкам за days дней.
	InspectorStats(ctx context.Context, days int) ([]*model.InspectorStats, error)
}

type reportRepo struct {
	db DBTX
}

// NewReportRepository создаёт репозиторий отчётов.
func NewReportRepository(db DBTX) ReportRepository {
	return &reportRepo{db: db}
}

func (r *reportRepo) TechnicianStats(ctx context.Context, days int, tecnico *string) ([]*model.TechnicianStats, error) {
	query := `
		SELECT r.tecnico,
			COALESCE(MAX(u.nombre_completo), ''),
			COUNT(*),
			COALESCE(ROUND(AVG(EXTRACT(EPOCH FROM (r.fecha_fin - r.fecha_inicio)) / 3600)::numeric, 2), 0)::float8,
			COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa = 'Aprobado'),
			COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa = 'Rechazado'),
			COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa IS NULL)
		FROM repair_data r
		LEFT JOIN usuarios_dms u ON u.username = r.tecnico
		WHERE r.fecha_recepcion >= NOW() - make_interval(days => $1)
			AND ($2::text IS NULL OR r.tecnico = $2::text)
		GROUP BY r.tecnico
		ORDER BY COUNT(*) DESC, r.tecnico`

	rows, err := r.db.Query(ctx, query, days, tecnico)
	if err != nil {
		return nil, fmt.Errorf("ошибка расчёта статистики техников: %w", err)
	}
	defer rows.Close()

	result := make([]*model.TechnicianStats, 0)
	for rows.Next() {
		s := &model.TechnicianStats{}
		if err := rows.Scan(
			&s.Tecnico, &s.NombreCompleto, &s.TotalReparaciones, &s.PromedioHoras,
			&s.Aprobadas, &s.Rechazadas, &s.PendientesQA,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики техника: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *reportRepo) InspectorStats(ctx context.Context, days int) ([]*model.InspectorStats, error) {
	query := `
		SELECT COALESCE(r.inspector_qa, ''),
			COALESCE(MAX(u.nombre_completo), ''),
			COUNT(*),
			COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa = 'Aprobado'),
			COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa = 'Rechazado'),
			ROUND(COUNT(*) FILTER (WHERE r.resultado_inspeccion_qa = 'Aprobado') * 100.0 / COUNT(*), 2)::float8
		FROM repair_data r
		LEFT JOIN usuarios_dms u ON u.username = r.inspector_qa
		WHERE r.inspeccionado_por_qa = TRUE
			AND r.fecha_inspeccion_qa >= NOW() - make_interval(days => $1)
		GROUP BY r.inspector_qa
		ORDER BY COUNT(*) DESC, r.inspector_qa`

	rows, err := r.db.Query(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("ошибка расчёта статистики QA: %w", err)
	}
	defer rows.Close()

	result := make([]*model.InspectorStats, 0)
	for rows.Next() {
		s := &model.InspectorStats{}
		if err := rows.Scan(
			&s.InspectorQA, &s.NombreCompleto, &s.TotalValidaciones,
			&s.Aprobadas, &s.Rechazadas, &s.TasaAprobacion,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики QA: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
