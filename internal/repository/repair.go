package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
)

// RepairRepository — интерфейс для таблицы repair_data.
type RepairRepository interface {
	// Create создаёт запись о попытке ремонта.
	// Второй открытый ремонт того же дефекта — ErrConflict.
	Create(ctx context.Context, rep *model.Repair) error
	// GetByID возвращает ремонт по ID.
	GetByID(ctx context.Context, id string) (*model.Repair, error)
	// GetForUpdate читает ремонт с блокировкой строки.
	GetForUpdate(ctx context.Context, id string) (*model.Repair, error)
	// GetOpenByDefect возвращает открытый ремонт дефекта или ErrNotFound.
	GetOpenByDefect(ctx context.Context, defectID string) (*model.Repair, error)
	// UpdateProgress меняет переданные поля открытого ремонта.
	UpdateProgress(ctx context.Context, id string, patch model.RepairPatch) error
	// Finish закрывает работу техника и передаёт ремонт на проверку QA.
	Finish(ctx context.Context, id string, f RepairFinish) error
	// RecordVerdict сохраняет вердикт QA. Повторный вердикт — ErrStatusConflict.
	RecordVerdict(ctx context.Context, id string, v RepairVerdict) error
	// ListInProgress — ремонты дефектов в статусе En_Reparacion.
	ListInProgress(ctx context.Context) ([]*model.RepairDetail, error)
	// ListPendingQA — ремонты, ожидающие проверки QA.
	ListPendingQA(ctx context.Context) ([]*model.RepairDetail, error)
	// ListByDefect — история ремонтов дефекта, новые первыми.
	ListByDefect(ctx context.Context, defectID string) ([]*model.RepairDetail, error)
	// QAHistory — проверенные QA ремонты за последние days дней.
	QAHistory(ctx context.Context, days int, inspector *string, limit int) ([]*model.RepairDetail, error)
}

// RepairFinish — данные завершения ремонта. nil — поле не меняется.
type RepairFinish struct {
	AccionCorrectiva string
	MaterialesUsados *string
	Observaciones    *string
	StatusDespues    lifecycle.Status
}

// RepairVerdict — результат проверки QA.
type RepairVerdict struct {
	Inspector       string
	Resultado       model.QAResult
	ObservacionesQA string
}

// repairRepo — реализация RepairRepository.
type repairRepo struct {
	db DBTX
}

// NewRepairRepository создаёт репозиторий ремонтов.
func NewRepairRepository(db DBTX) RepairRepository {
	return &repairRepo{db: db}
}

const repairColumns = `id, defect_id, fecha_recepcion, fecha_inicio, fecha_fin, tecnico,
	accion_correctiva, materiales_usados, observaciones, status_antes, status_despues,
	fecha_retorno_qa, inspeccionado_por_qa, inspector_qa, fecha_inspeccion_qa,
	resultado_inspeccion_qa, observaciones_qa, created_at, updated_at`

// repairDetailSelect — ремонт с данными дефекта и именами участников.
// Порядок столбцов совпадает с представлениями vw_*_dms.
const repairDetailSelect = `
	SELECT r.id, r.defect_id, r.fecha_recepcion, r.fecha_inicio, r.fecha_fin, r.tecnico,
		r.accion_correctiva, r.materiales_usados, r.observaciones, r.status_antes, r.status_despues,
		r.fecha_retorno_qa, r.inspeccionado_por_qa, r.inspector_qa, r.fecha_inspeccion_qa,
		r.resultado_inspeccion_qa, r.observaciones_qa, r.created_at, r.updated_at,
		d.linea, d.codigo, d.defecto, d.ubicacion, d.area, d.modelo, d.tipo_inspeccion,
		d.etapa_deteccion, d.status, d.fecha,
		COALESCE(ut.nombre_completo, ''), COALESCE(ui.nombre_completo, '')
	FROM repair_data r
	JOIN defect_data d ON d.id = r.defect_id
	LEFT JOIN usuarios_dms ut ON ut.username = r.tecnico
	LEFT JOIN usuarios_dms ui ON ui.username = r.inspector_qa`

// viewColumns — столбцы представлений очередей ремонта.
const viewColumns = `repair_id, defect_id, fecha_recepcion, fecha_inicio, fecha_fin, tecnico,
	accion_correctiva, materiales_usados, observaciones, status_antes, status_despues,
	fecha_retorno_qa, inspeccionado_por_qa, inspector_qa, fecha_inspeccion_qa,
	resultado_inspeccion_qa, observaciones_qa, created_at, updated_at,
	linea, codigo, defecto, ubicacion, area, modelo, tipo_inspeccion,
	etapa_deteccion, defect_status, fecha_defecto, tecnico_nombre, inspector_nombre`

// repairScanTargets возвращает приёмники для столбцов repairColumns.
// Статусы и вердикт читаются в строки и переносятся в rep через apply.
func repairScanTargets(rep *model.Repair) (targets []any, apply func()) {
	var antes, despues string
	var resultado *string
	targets = []any{
		&rep.ID, &rep.DefectID, &rep.FechaRecepcion, &rep.FechaInicio, &rep.FechaFin, &rep.Tecnico,
		&rep.AccionCorrectiva, &rep.MaterialesUsados, &rep.Observaciones, &antes, &despues,
		&rep.FechaRetornoQA, &rep.InspeccionadoPorQA, &rep.InspectorQA, &rep.FechaInspeccionQA,
		&resultado, &rep.ObservacionesQA, &rep.CreatedAt, &rep.UpdatedAt,
	}
	apply = func() {
		rep.StatusAntes = lifecycle.Status(antes)
		rep.StatusDespues = lifecycle.Status(despues)
		if resultado != nil {
			res := model.QAResult(*resultado)
			rep.ResultadoInspeccionQA = &res
		}
	}
	return targets, apply
}

func scanRepair(row pgx.Row) (*model.Repair, error) {
	rep := &model.Repair{}
	targets, apply := repairScanTargets(rep)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	apply()
	return rep, nil
}

func scanRepairDetail(row pgx.Row) (*model.RepairDetail, error) {
	det := &model.RepairDetail{}
	targets, apply := repairScanTargets(&det.Repair)
	var defectStatus string
	targets = append(targets,
		&det.Linea, &det.Codigo, &det.Defecto, &det.Ubicacion, &det.Area, &det.Modelo,
		&det.TipoInspeccion, &det.EtapaDeteccion, &defectStatus, &det.FechaDefecto,
		&det.TecnicoNombre, &det.InspectorNombre,
	)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	apply()
	det.DefectStatus = lifecycle.Status(defectStatus)
	det.HorasReparacion = repairHours(det.FechaInicio, det.FechaFin)
	return det, nil
}

// repairHours — длительность ремонта в часах с точностью 0.01.
func repairHours(start time.Time, end *time.Time) *float64 {
	if end == nil {
		return nil
	}
	h := math.Round(end.Sub(start).Hours()*100) / 100
	return &h
}

func (r *repairRepo) Create(ctx context.Context, rep *model.Repair) error {
	query := `
		INSERT INTO repair_data (id, defect_id, fecha_recepcion, fecha_inicio, tecnico,
			accion_correctiva, materiales_usados, observaciones, status_antes, status_despues)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rep.ID, rep.DefectID, rep.FechaRecepcion, rep.FechaInicio, rep.Tecnico,
		rep.AccionCorrectiva, rep.MaterialesUsados, rep.Observaciones,
		string(rep.StatusAntes), string(rep.StatusDespues),
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: у дефекта %s уже есть открытый ремонт", ErrConflict, rep.DefectID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: дефект %s", ErrNotFound, rep.DefectID)
		}
		return fmt.Errorf("ошибка создания ремонта: %w", err)
	}
	return nil
}

func (r *repairRepo) GetByID(ctx context.Context, id string) (*model.Repair, error) {
	return r.getOne(ctx, `SELECT `+repairColumns+` FROM repair_data WHERE id = $1`, id)
}

func (r *repairRepo) GetForUpdate(ctx context.Context, id string) (*model.Repair, error) {
	return r.getOne(ctx, `SELECT `+repairColumns+` FROM repair_data WHERE id = $1 FOR UPDATE`, id)
}

func (r *repairRepo) GetOpenByDefect(ctx context.Context, defectID string) (*model.Repair, error) {
	query := `SELECT ` + repairColumns + `
		FROM repair_data
		WHERE defect_id = $1 AND inspeccionado_por_qa = FALSE
		FOR UPDATE`
	return r.getOne(ctx, query, defectID)
}

func (r *repairRepo) getOne(ctx context.Context, query string, arg string) (*model.Repair, error) {
	rep, err := scanRepair(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ремонта: %w", err)
	}
	return rep, nil
}

// UpdateProgress — NULL в аргументе оставляет столбец без изменений.
func (r *repairRepo) UpdateProgress(ctx context.Context, id string, patch model.RepairPatch) error {
	query := `
		UPDATE repair_data
		SET accion_correctiva = COALESCE($2, accion_correctiva),
			materiales_usados = COALESCE($3, materiales_usados),
			observaciones = COALESCE($4, observaciones)
		WHERE id = $1 AND inspeccionado_por_qa = FALSE`

	tag, err := r.db.Exec(ctx, query, id, patch.AccionCorrectiva, patch.MaterialesUsados, patch.Observaciones)
	if err != nil {
		return fmt.Errorf("ошибка обновления ремонта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ремонт %s уже проверен QA", ErrStatusConflict, id)
	}
	return nil
}

func (r *repairRepo) Finish(ctx context.Context, id string, f RepairFinish) error {
	query := `
		UPDATE repair_data
		SET fecha_fin = NOW(),
			accion_correctiva = $2,
			materiales_usados = COALESCE($3, materiales_usados),
			observaciones = COALESCE($4, observaciones),
			status_despues = $5,
			fecha_retorno_qa = NOW()
		WHERE id = $1 AND fecha_fin IS NULL AND inspeccionado_por_qa = FALSE`

	tag, err := r.db.Exec(ctx, query, id, f.AccionCorrectiva, f.MaterialesUsados, f.Observaciones, string(f.StatusDespues))
	if err != nil {
		return fmt.Errorf("ошибка завершения ремонта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ремонт %s уже завершён", ErrStatusConflict, id)
	}
	return nil
}

func (r *repairRepo) RecordVerdict(ctx context.Context, id string, v RepairVerdict) error {
	query := `
		UPDATE repair_data
		SET inspeccionado_por_qa = TRUE,
			inspector_qa = $2,
			fecha_inspeccion_qa = NOW(),
			resultado_inspeccion_qa = $3,
			observaciones_qa = $4
		WHERE id = $1 AND inspeccionado_por_qa = FALSE`

	tag, err := r.db.Exec(ctx, query, id, v.Inspector, string(v.Resultado), v.ObservacionesQA)
	if err != nil {
		return fmt.Errorf("ошибка сохранения вердикта QA: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ремонт %s уже проверен QA", ErrStatusConflict, id)
	}
	return nil
}

func (r *repairRepo) ListInProgress(ctx context.Context) ([]*model.RepairDetail, error) {
	query := `SELECT ` + viewColumns + ` FROM vw_en_reparacion_dms ORDER BY fecha_inicio ASC`
	return r.queryDetails(ctx, query)
}

func (r *repairRepo) ListPendingQA(ctx context.Context) ([]*model.RepairDetail, error) {
	query := `SELECT ` + viewColumns + ` FROM vw_pendientes_validacion_qa_dms ORDER BY fecha_retorno_qa ASC`
	return r.queryDetails(ctx, query)
}

func (r *repairRepo) ListByDefect(ctx context.Context, defectID string) ([]*model.RepairDetail, error) {
	query := repairDetailSelect + `
		WHERE r.defect_id = $1
		ORDER BY r.fecha_recepcion DESC`
	return r.queryDetails(ctx, query, defectID)
}

func (r *repairRepo) QAHistory(ctx context.Context, days int, inspector *string, limit int) ([]*model.RepairDetail, error) {
	query := repairDetailSelect + `
		WHERE r.inspeccionado_por_qa = TRUE
			AND r.fecha_inspeccion_qa >= NOW() - make_interval(days => $1)
			AND ($2::text IS NULL OR r.inspector_qa = $2::text)
		ORDER BY r.fecha_inspeccion_qa DESC
		LIMIT $3`
	return r.queryDetails(ctx, query, days, inspector, limit)
}

func (r *repairRepo) queryDetails(ctx context.Context, query string, args ...any) ([]*model.RepairDetail, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ремонтов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.RepairDetail, 0)
	for rows.Next() {
		det, err := scanRepairDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ремонта: %w", err)
		}
		result = append(result, det)
	}
	return result, rows.Err()
}
