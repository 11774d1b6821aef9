package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dms/internal/domain/lifecycle"
	"github.com/bigkaa/dms/internal/domain/model"
)

// DefectRepository — интерфейс для таблицы defect_data.
type DefectRepository interface {
	// Create регистрирует новый дефект.
	Create(ctx context.Context, d *model.Defect) error
	// GetByID возвращает дефект по ID.
	GetByID(ctx context.Context, id string) (*model.Defect, error)
	// GetForUpdate читает дефект с блокировкой строки (SELECT ... FOR UPDATE).
	// Вызывается только внутри транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.Defect, error)
	// UpdateStatus переводит дефект из expected в next.
	// Если статус уже не expected — ErrStatusConflict.
	UpdateStatus(ctx context.Context, id string, expected, next lifecycle.Status) error
	// List возвращает дефекты по фильтрам, новые первыми.
	List(ctx context.Context, filters DefectFilters, limit int) ([]*model.Defect, error)
	// ListPendingRepair — дефекты, ожидающие ремонта.
	ListPendingRepair(ctx context.Context) ([]*model.Defect, error)
}

// DefectFilters — фильтры выборки дефектов. nil — фильтр не задан.
// Все заданные фильтры объединяются через AND.
type DefectFilters struct {
	// Fecha — точная дата обнаружения
	Fecha *time.Time
	// FechaInicio/FechaFin — границы диапазона дат (включительно), каждая независима
	FechaInicio    *time.Time
	FechaFin       *time.Time
	Linea          *string
	Area           *string
	Status         *string
	TipoInspeccion *string
	EtapaDeteccion *string
	// Codigo, Defecto, Ubicacion — поиск подстроки без учёта регистра
	Codigo    *string
	Defecto   *string
	Ubicacion *string
}

// defectRepo — реализация DefectRepository.
type defectRepo struct {
	db DBTX
}

// NewDefectRepository создаёт репозиторий дефектов.
func NewDefectRepository(db DBTX) DefectRepository {
	return &defectRepo{db: db}
}

// defectSelect — столбцы и источник для чтения дефекта с именем
// инспектора и моделью из справочника.
const defectSelect = `
	SELECT d.id, d.fecha, d.linea, d.codigo, d.defecto, d.ubicacion, d.area,
		COALESCE(NULLIF(d.modelo, ''), m.modelo, ''),
		d.tipo_inspeccion, d.etapa_deteccion, d.status, d.registrado_por,
		COALESCE(u.nombre_completo, ''),
		d.fecha_envio_reparacion, d.created_at, d.updated_at
	FROM defect_data d
	LEFT JOIN usuarios_dms u ON u.username = d.registrado_por
	LEFT JOIN modelos_dms m ON m.prefijo = LEFT(d.codigo, 9)`

// scanDefect читает строку в порядке столбцов defectSelect.
func scanDefect(row pgx.Row) (*model.Defect, error) {
	d := &model.Defect{}
	var status string
	err := row.Scan(
		&d.ID, &d.Fecha, &d.Linea, &d.Codigo, &d.Defecto, &d.Ubicacion, &d.Area,
		&d.Modelo, &d.TipoInspeccion, &d.EtapaDeteccion, &status, &d.RegistradoPor,
		&d.RegistradoPorNombre, &d.FechaEnvioReparacion, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = lifecycle.Status(status)
	return d, nil
}

func (r *defectRepo) Create(ctx context.Context, d *model.Defect) error {
	query := `
		INSERT INTO defect_data (id, fecha, linea, codigo, defecto, ubicacion, area, modelo,
			tipo_inspeccion, etapa_deteccion, status, registrado_por)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Fecha, d.Linea, d.Codigo, d.Defecto, d.Ubicacion, d.Area, d.Modelo,
		d.TipoInspeccion, d.EtapaDeteccion, string(d.Status), d.RegistradoPor,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: дефект %s уже существует", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка регистрации дефекта: %w", err)
	}
	return nil
}

func (r *defectRepo) GetByID(ctx context.Context, id string) (*model.Defect, error) {
	d, err := scanDefect(r.db.QueryRow(ctx, defectSelect+` WHERE d.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения дефекта: %w", err)
	}
	return d, nil
}

func (r *defectRepo) GetForUpdate(ctx context.Context, id string) (*model.Defect, error) {
	d, err := scanDefect(r.db.QueryRow(ctx, defectSelect+` WHERE d.id = $1 FOR UPDATE OF d`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки дефекта: %w", err)
	}
	return d, nil
}

// UpdateStatus — условное обновление статуса.
// При переходе в En_Reparacion фиксируется момент передачи в ремонт.
func (r *defectRepo) UpdateStatus(ctx context.Context, id string, expected, next lifecycle.Status) error {
	query := `
		UPDATE defect_data
		SET status = $3,
			fecha_envio_reparacion = CASE WHEN $4 THEN NOW() ELSE fecha_envio_reparacion END
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query, id, string(expected), string(next), next == lifecycle.StatusInRepair)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса дефекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: дефект %s не в статусе %s", ErrStatusConflict, id, expected)
	}
	return nil
}

// buildDefectWhere строит WHERE-условие и аргументы для фильтрации дефектов.
func buildDefectWhere(filters DefectFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	add := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, arg)
		argNum++
	}

	if filters.Fecha != nil {
		add("d.fecha >= $%d", dayStart(*filters.Fecha))
		add("d.fecha < $%d", nextDay(*filters.Fecha))
	}
	if filters.FechaInicio != nil {
		add("d.fecha >= $%d", dayStart(*filters.FechaInicio))
	}
	if filters.FechaFin != nil {
		add("d.fecha < $%d", nextDay(*filters.FechaFin))
	}
	if filters.Linea != nil {
		add("d.linea = $%d", *filters.Linea)
	}
	if filters.Area != nil {
		add("d.area = $%d", *filters.Area)
	}
	if filters.Status != nil {
		add("d.status = $%d", *filters.Status)
	}
	if filters.TipoInspeccion != nil {
		add("d.tipo_inspeccion = $%d", *filters.TipoInspeccion)
	}
	if filters.EtapaDeteccion != nil {
		add("d.etapa_deteccion = $%d", *filters.EtapaDeteccion)
	}
	if filters.Codigo != nil {
		add("d.codigo ILIKE $%d", containsPattern(*filters.Codigo))
	}
	if filters.Defecto != nil {
		add("d.defecto ILIKE $%d", containsPattern(*filters.Defecto))
	}
	if filters.Ubicacion != nil {
		add("d.ubicacion ILIKE $%d", containsPattern(*filters.Ubicacion))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// dayStart — начало календарного дня t в часовом поясе сервиса.
// Границы не зависят от параметра TimeZone сессии PostgreSQL.
func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// nextDay — начало следующего календарного дня.
func nextDay(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1)
}

func (r *defectRepo) List(ctx context.Context, filters DefectFilters, limit int) ([]*model.Defect, error) {
	where, args := buildDefectWhere(filters, 1)
	query := fmt.Sprintf(`%s
		%s
		ORDER BY d.fecha DESC
		LIMIT $%d`, defectSelect, where, len(args)+1)
	args = append(args, limit)

	return r.queryDefects(ctx, query, args...)
}

func (r *defectRepo) ListPendingRepair(ctx context.Context) ([]*model.Defect, error) {
	query := `
		SELECT id, fecha, linea, codigo, defecto, ubicacion, area, modelo,
			tipo_inspeccion, etapa_deteccion, status, registrado_por, registrado_por_nombre,
			fecha_envio_reparacion, created_at, updated_at
		FROM vw_pendientes_reparacion_dms
		ORDER BY fecha ASC`

	return r.queryDefects(ctx, query)
}

func (r *defectRepo) queryDefects(ctx context.Context, query string, args ...any) ([]*model.Defect, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка дефектов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Defect, 0)
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования дефекта: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
