package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dms/internal/domain/model"
)

// UserRepository — интерфейс для таблицы usuarios_dms.
type UserRepository interface {
	// Create создаёт пользователя. Дубликат username — ErrConflict.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// List возвращает пользователей по фильтрам, упорядоченных по username.
	List(ctx context.Context, filters UserListFilters) ([]*model.User, error)
	// Update применяет переданные поля и возвращает обновлённую запись.
	Update(ctx context.Context, id int64, upd model.UserUpdate) (*model.User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	// TouchLastAccess фиксирует момент успешного входа.
	TouchLastAccess(ctx context.Context, id int64) error
	// Deactivate выполняет мягкое удаление (activo = false).
	Deactivate(ctx context.Context, id int64) error
	// Delete удаляет строку безвозвратно.
	Delete(ctx context.Context, id int64) error
	// CountReferences — число дефектов и ремонтов, ссылающихся на username.
	CountReferences(ctx context.Context, username string) (int, error)
}

// UserListFilters — фильтры списка пользователей.
type UserListFilters struct {
	// Roles — допустимые роли; пустой список — любые
	Roles  []string
	Area   *string
	Activo *bool
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, username, password_hash, nombre_completo, rol, area, activo,
	fecha_creacion, ultimo_acceso`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.NombreCompleto, &u.Rol, &u.Area, &u.Activo,
		&u.FechaCreacion, &u.UltimoAcceso,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO usuarios_dms (username, password_hash, nombre_completo, rol, area, activo)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, fecha_creacion`

	err := r.db.QueryRow(ctx, query,
		u.Username, u.PasswordHash, u.NombreCompleto, u.Rol, u.Area, u.Activo,
	).Scan(&u.ID, &u.FechaCreacion)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, u.Username)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM usuarios_dms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM usuarios_dms WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

// buildUserWhere строит WHERE-условие для списка пользователей.
func buildUserWhere(filters UserListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if len(filters.Roles) > 0 {
		conditions = append(conditions, fmt.Sprintf("rol = ANY($%d)", argNum))
		args = append(args, filters.Roles)
		argNum++
	}
	if filters.Area != nil {
		conditions = append(conditions, fmt.Sprintf("area = $%d", argNum))
		args = append(args, *filters.Area)
		argNum++
	}
	if filters.Activo != nil {
		conditions = append(conditions, fmt.Sprintf("activo = $%d", argNum))
		args = append(args, *filters.Activo)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *userRepo) List(ctx context.Context, filters UserListFilters) ([]*model.User, error) {
	where, args := buildUserWhere(filters, 1)
	query := fmt.Sprintf(`SELECT %s FROM usuarios_dms %s ORDER BY username`, userColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) Update(ctx context.Context, id int64, upd model.UserUpdate) (*model.User, error) {
	query := `
		UPDATE usuarios_dms
		SET nombre_completo = COALESCE($2, nombre_completo),
			rol = COALESCE($3, rol),
			area = COALESCE($4, area),
			activo = COALESCE($5, activo)
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, id, upd.NombreCompleto, upd.Rol, upd.Area, upd.Activo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) SetPassword(ctx context.Context, id int64, hash string) error {
	return r.execByID(ctx, `UPDATE usuarios_dms SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *userRepo) TouchLastAccess(ctx context.Context, id int64) error {
	return r.execByID(ctx, `UPDATE usuarios_dms SET ultimo_acceso = NOW() WHERE id = $1`, id)
}

func (r *userRepo) Deactivate(ctx context.Context, id int64) error {
	return r.execByID(ctx, `UPDATE usuarios_dms SET activo = FALSE WHERE id = $1`, id)
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	err := r.execByID(ctx, `DELETE FROM usuarios_dms WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: пользователь %d", ErrReferenced, id)
	}
	return err
}

func (r *userRepo) execByID(ctx context.Context, query string, id int64, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("ошибка изменения пользователя %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) CountReferences(ctx context.Context, username string) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM defect_data WHERE registrado_por = $1) +
			(SELECT COUNT(*) FROM repair_data WHERE tecnico = $1 OR inspector_qa = $1)`

	var count int
	if err := r.db.QueryRow(ctx, query, username).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта ссылок на пользователя: %w", err)
	}
	return count, nil
}
