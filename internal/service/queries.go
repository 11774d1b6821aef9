// queries.go — чтение дефектов, очередей ремонта и отчётов.
// Только чтение, вне транзакций.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/repository"
)

// DefaultReportDays — окно отчётов по умолчанию, дней.
const DefaultReportDays = 30

// maxReportDays — максимальное окно отчётов, дней.
const maxReportDays = 3650

// QueryService — фильтрованные выборки и агрегаты по журналам.
type QueryService struct {
	defects repository.DefectRepository
	repairs repository.RepairRepository
	reports repository.ReportRepository
	limit   int
	logger  *slog.Logger
}

// NewQueryService создаёт сервис выборок. limit — предел выдачи QueryDefects.
func NewQueryService(repos *repository.Repositories, limit int, logger *slog.Logger) *QueryService {
	return &QueryService{
		defects: repos.Defects,
		repairs: repos.Repairs,
		reports: repos.Reports,
		limit:   limit,
		logger:  logger.With(slog.String("component", "queries")),
	}
}

// GetDefect возвращает дефект по ID.
func (s *QueryService) GetDefect(ctx context.Context, id string) (*model.Defect, error) {
	d, err := s.defects.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err, "defecto no encontrado", "")
	}
	return d, nil
}

// QueryDefects возвращает дефекты по фильтрам (AND), новые первыми,
// не больше limit записей.
func (s *QueryService) QueryDefects(ctx context.Context, filters repository.DefectFilters) ([]*model.Defect, error) {
	if filters.Status != nil && !lifecycle.Status(*filters.Status).IsValid() {
		return nil, validationError("status inválido: %q", *filters.Status)
	}
	if filters.TipoInspeccion != nil && !model.IsValidTipoInspeccion(*filters.TipoInspeccion) {
		return nil, validationError("tipo_inspeccion inválido: %q", *filters.TipoInspeccion)
	}
	if filters.EtapaDeteccion != nil && !model.IsValidEtapaDeteccion(*filters.EtapaDeteccion) {
		return nil, validationError("etapa_deteccion inválida: %q", *filters.EtapaDeteccion)
	}
	return s.defects.List(ctx, filters, s.limit)
}

// PendingRepairs — дефекты в очереди на ремонт.
func (s *QueryService) PendingRepairs(ctx context.Context) ([]*model.Defect, error) {
	return s.defects.ListPendingRepair(ctx)
}

// RepairsInProgress — ремонты в работе.
func (s *QueryService) RepairsInProgress(ctx context.Context) ([]*model.RepairDetail, error) {
	return s.repairs.ListInProgress(ctx)
}

// PendingQA — ремонты, ожидающие проверки QA.
func (s *QueryService) PendingQA(ctx context.Context) ([]*model.RepairDetail, error) {
	return s.repairs.ListPendingQA(ctx)
}

// RepairHistory — все попытки ремонта дефекта, новые первыми.
func (s *QueryService) RepairHistory(ctx context.Context, defectID string) ([]*model.RepairDetail, error) {
	if _, err := s.defects.GetByID(ctx, defectID); err != nil {
		return nil, wrapRepoError(err, "defecto no encontrado", "")
	}
	return s.repairs.ListByDefect(ctx, defectID)
}

// QAHistory — проверки QA за окно days, опционально одного инспектора.
func (s *QueryService) QAHistory(ctx context.Context, days int, inspector string) ([]*model.RepairDetail, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	return s.repairs.QAHistory(ctx, days, optional(inspector), s.limit)
}

// TechnicianStats — показатели техников за окно days.
func (s *QueryService) TechnicianStats(ctx context.Context, days int, tecnico string) ([]*model.TechnicianStats, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	return s.reports.TechnicianStats(ctx, days, optional(tecnico))
}

// InspectorStats — показатели инспекторов QA за окно days.
func (s *QueryService) InspectorStats(ctx context.Context, days int) ([]*model.InspectorStats, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	return s.reports.InspectorStats(ctx, days)
}

// normalizeDays: 0 — окно по умолчанию.
func normalizeDays(days int) (int, error) {
	if days == 0 {
		return DefaultReportDays, nil
	}
	if days < 0 || days > maxReportDays {
		return 0, validationError("dias debe estar entre 1 y %d", maxReportDays)
	}
	return days, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
