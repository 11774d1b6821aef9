// users.go — управление пользователями DMS.
// Менеджер видит и меняет только пользователей управляемых ролей
// и своей области (кроме Administer и области Administracion).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
)

// UserService — CRUD пользователей с проверкой прав менеджера.
type UserService struct {
	tx     TxRunner
	users  repository.UserRepository
	rbac   *rbac.Matrix
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
// users — репозиторий вне транзакций для чтения.
func NewUserService(tx TxRunner, users repository.UserRepository, matrix *rbac.Matrix, logger *slog.Logger) *UserService {
	return &UserService{
		tx:     tx,
		users:  users,
		rbac:   matrix,
		logger: logger.With(slog.String("component", "users")),
	}
}

// UserInput — данные создания пользователя.
type UserInput struct {
	Username       string
	Password       string
	NombreCompleto string
	Rol            string
	Area           string
	// Activo — nil означает true
	Activo *bool
}

// UserQuery — фильтры списка пользователей.
type UserQuery struct {
	Rol    string
	Area   string
	Activo *bool
}

// List возвращает пользователей, видимых менеджеру.
func (s *UserService) List(ctx context.Context, actor Actor, q UserQuery) ([]*model.User, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}

	filters := repository.UserListFilters{
		Roles:  s.rbac.ManageableRoles(actor.Rol),
		Activo: q.Activo,
	}
	if len(filters.Roles) == 0 {
		return []*model.User{}, nil
	}
	if q.Rol != "" {
		if !slices.Contains(filters.Roles, q.Rol) {
			return []*model.User{}, nil
		}
		filters.Roles = []string{q.Rol}
	}

	scope := s.rbac.AreaScope(actor.Rol, actor.Area)
	switch {
	case scope != "":
		if q.Area != "" && q.Area != scope {
			return []*model.User{}, nil
		}
		filters.Area = &scope
	case q.Area != "":
		filters.Area = &q.Area
	}

	return s.users.List(ctx, filters)
}

// Get возвращает пользователя, если он виден менеджеру.
func (s *UserService) Get(ctx context.Context, actor Actor, id int64) (*model.User, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err, "usuario no encontrado", "")
	}
	if !s.visible(actor, u) {
		return nil, notFoundError("usuario no encontrado")
	}
	return u, nil
}

// Create создаёт пользователя с управляемой ролью.
func (s *UserService) Create(ctx context.Context, actor Actor, in UserInput) (*model.User, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	in.NombreCompleto = strings.TrimSpace(in.NombreCompleto)
	if in.Username == "" || in.Password == "" || in.NombreCompleto == "" || in.Rol == "" || in.Area == "" {
		return nil, validationError("username, password, nombre_completo, rol y area son requeridos")
	}
	if len(in.Password) < MinPasswordLen {
		return nil, validationError("la contraseña debe tener al menos %d caracteres", MinPasswordLen)
	}
	if err := s.checkTarget(actor, in.Rol, in.Area); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:       in.Username,
		PasswordHash:   hash,
		NombreCompleto: in.NombreCompleto,
		Rol:            in.Rol,
		Area:           in.Area,
		Activo:         in.Activo == nil || *in.Activo,
	}

	err = s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		if err := repos.Users.Create(ctx, u); err != nil {
			return wrapRepoError(err, "", fmt.Sprintf("el usuario %s ya existe", u.Username))
		}
		return repos.Audit.Append(ctx, userAudit(u.ID, model.AuditInsert, "username", "", u.Username, actor.Username))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь создан",
		slog.String("username", u.Username),
		slog.String("rol", u.Rol),
		slog.String("area", u.Area),
		slog.String("by", actor.Username),
	)
	return u, nil
}

// Update меняет профиль пользователя. Новая роль и область тоже
// должны быть в зоне управления менеджера.
func (s *UserService) Update(ctx context.Context, actor Actor, id int64, upd model.UserUpdate) (*model.User, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}
	if upd.NombreCompleto == nil && upd.Rol == nil && upd.Area == nil && upd.Activo == nil {
		return nil, validationError("no hay campos para actualizar")
	}
	if upd.NombreCompleto != nil {
		trimmed := strings.TrimSpace(*upd.NombreCompleto)
		if trimmed == "" {
			return nil, validationError("nombre_completo no puede estar vacío")
		}
		upd.NombreCompleto = &trimmed
	}
	if id == actor.ID && (upd.Rol != nil || upd.Activo != nil) {
		return nil, validationError("no puede cambiar su propio rol ni estado")
	}

	var updated *model.User
	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		current, err := s.loadManaged(ctx, repos, actor, id)
		if err != nil {
			return err
		}

		rol, area := current.Rol, current.Area
		if upd.Rol != nil {
			rol = *upd.Rol
		}
		if upd.Area != nil {
			area = *upd.Area
		}
		if err := s.checkTarget(actor, rol, area); err != nil {
			return err
		}

		updated, err = repos.Users.Update(ctx, id, upd)
		if err != nil {
			return wrapRepoError(err, "usuario no encontrado", "")
		}
		for _, ch := range userChanges(current, updated) {
			if err := repos.Audit.Append(ctx, userAudit(id, model.AuditUpdate, ch.field, ch.from, ch.to, actor.Username)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь обновлён",
		slog.Int64("user_id", id),
		slog.String("by", actor.Username),
	)
	return updated, nil
}

// SetPassword задаёт новый пароль пользователю.
func (s *UserService) SetPassword(ctx context.Context, actor Actor, id int64, password string) error {
	if err := s.authorizeManager(actor); err != nil {
		return err
	}
	if len(password) < MinPasswordLen {
		return validationError("la contraseña debe tener al menos %d caracteres", MinPasswordLen)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	return s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		if _, err := s.loadManaged(ctx, repos, actor, id); err != nil {
			return err
		}
		if err := repos.Users.SetPassword(ctx, id, hash); err != nil {
			return wrapRepoError(err, "usuario no encontrado", "")
		}
		// Значения хэшей в журнал не пишутся
		return repos.Audit.Append(ctx, userAudit(id, model.AuditUpdate, "password_hash", "", "", actor.Username))
	})
}

// Delete удаляет пользователя в выбранном режиме.
// Deactivate требует ManageUsers, Purge — дополнительно PurgeUsers;
// Purge отклоняется, пока на пользователя ссылаются дефекты или ремонты.
func (s *UserService) Delete(ctx context.Context, actor Actor, id int64, mode model.DeleteMode) error {
	if err := s.authorizeManager(actor); err != nil {
		return err
	}
	if mode == model.DeletePurge && !s.rbac.Allows(actor.Rol, rbac.CapPurgeUsers) {
		return forbiddenError("el rol %s no puede eliminar usuarios definitivamente", actor.Rol)
	}
	if id == actor.ID {
		return validationError("no puede eliminarse a sí mismo")
	}

	var username string
	err := s.tx.RunInTx(ctx, func(repos *repository.Repositories) error {
		u, err := s.loadManaged(ctx, repos, actor, id)
		if err != nil {
			return err
		}
		username = u.Username

		switch mode {
		case model.DeletePurge:
			refs, err := repos.Users.CountReferences(ctx, u.Username)
			if err != nil {
				return err
			}
			if refs > 0 {
				return conflictError("el usuario %s tiene %d registros asociados; desactívelo en su lugar", u.Username, refs)
			}
			if err := repos.Users.Delete(ctx, id); err != nil {
				return wrapRepoError(err, "usuario no encontrado", "el usuario tiene registros asociados")
			}
			return repos.Audit.Append(ctx, userAudit(id, model.AuditDelete, "", u.Username, "", actor.Username))
		default:
			if !u.Activo {
				return nil
			}
			if err := repos.Users.Deactivate(ctx, id); err != nil {
				return wrapRepoError(err, "usuario no encontrado", "")
			}
			return repos.Audit.Append(ctx, userAudit(id, model.AuditUpdate, "activo", "true", "false", actor.Username))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("Пользователь удалён",
		slog.String("username", username),
		slog.String("mode", string(mode)),
		slog.String("by", actor.Username),
	)
	return nil
}

// Roles — роли, доступные менеджеру для назначения.
func (s *UserService) Roles(actor Actor) ([]string, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}
	return s.rbac.ManageableRoles(actor.Rol), nil
}

// Areas — области, доступные менеджеру.
func (s *UserService) Areas(actor Actor) ([]string, error) {
	if err := s.authorizeManager(actor); err != nil {
		return nil, err
	}
	if scope := s.rbac.AreaScope(actor.Rol, actor.Area); scope != "" {
		return []string{scope}, nil
	}
	return slices.Clone(model.Areas), nil
}

func (s *UserService) authorizeManager(actor Actor) error {
	if !s.rbac.Allows(actor.Rol, rbac.CapManageUsers) {
		return forbiddenError("el rol %s no puede administrar usuarios", actor.Rol)
	}
	return nil
}

// checkTarget проверяет, что менеджер может назначить роль и область.
func (s *UserService) checkTarget(actor Actor, rol, area string) error {
	if !s.rbac.IsKnownRole(rol) {
		return validationError("rol inválido: %q", rol)
	}
	if !model.IsValidArea(area) {
		return validationError("área inválida: %q", area)
	}
	if !s.rbac.CanManage(actor.Rol, rol) {
		return forbiddenError("el rol %s no puede administrar usuarios con rol %s", actor.Rol, rol)
	}
	if scope := s.rbac.AreaScope(actor.Rol, actor.Area); scope != "" && scope != area {
		return forbiddenError("solo puede administrar usuarios del área %s", scope)
	}
	return nil
}

// visible — попадает ли пользователь в зону управления менеджера.
func (s *UserService) visible(actor Actor, u *model.User) bool {
	if !s.rbac.CanManage(actor.Rol, u.Rol) {
		return false
	}
	scope := s.rbac.AreaScope(actor.Rol, actor.Area)
	return scope == "" || scope == u.Area
}

func (s *UserService) loadManaged(ctx context.Context, repos *repository.Repositories, actor Actor, id int64) (*model.User, error) {
	u, err := repos.Users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !s.visible(actor, u)) {
		return nil, notFoundError("usuario no encontrado")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

type fieldChange struct {
	field, from, to string
}

func userChanges(before, after *model.User) []fieldChange {
	var changes []fieldChange
	add := func(field, from, to string) {
		if from != to {
			changes = append(changes, fieldChange{field, from, to})
		}
	}
	add("nombre_completo", before.NombreCompleto, after.NombreCompleto)
	add("rol", before.Rol, after.Rol)
	add("area", before.Area, after.Area)
	add("activo", strconv.FormatBool(before.Activo), strconv.FormatBool(after.Activo))
	return changes
}

func userAudit(id int64, accion, field, from, to, user string) *model.AuditLogEntry {
	e := &model.AuditLogEntry{
		Tabla:           model.TableUsers,
		RegistroID:      strconv.FormatInt(id, 10),
		Accion:          accion,
		CampoModificado: field,
		Usuario:         user,
	}
	if from != "" {
		e.ValorAnterior = &from
	}
	if to != "" {
		e.ValorNuevo = &to
	}
	return e
}
