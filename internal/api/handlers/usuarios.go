// usuarios.go — обработчики /api/usuarios endpoints.
// Управление пользователями: список (в пределах зоны менеджера), получение,
// создание, изменение, смена пароля, удаление (deactivate | purge), справочники.
package handlers

import (
	"fmt"
	"net/http"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/service"
)

type createUserRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	NombreCompleto string `json:"nombre_completo"`
	Rol            string `json:"rol"`
	Area           string `json:"area"`
	Activo         *bool  `json:"activo"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

type userMutationResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// ListUsers — GET /api/usuarios?rol=&area=&activo=.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var (
		rol, area *string
		activo    *bool
	)
	if err := bindQuery(r, map[string]any{"rol": &rol, "area": &area, "activo": &activo}); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	users, err := h.users.List(r.Context(), a, service.UserQuery{Rol: deref(rol), Area: deref(area), Activo: activo})
	if err != nil {
		h.fail(w, r, "list_users", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

// GetUser — GET /api/usuarios/{id}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	u, err := h.users.Get(r.Context(), a, id)
	if err != nil {
		h.fail(w, r, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUser — POST /api/usuarios. 409 при дублирующемся username.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	u, err := h.users.Create(r.Context(), a, service.UserInput{
		Username:       req.Username,
		Password:       req.Password,
		NombreCompleto: req.NombreCompleto,
		Rol:            req.Rol,
		Area:           req.Area,
		Activo:         req.Activo,
	})
	if err != nil {
		h.fail(w, r, "create_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, userMutationResponse{
		Success: true,
		Message: fmt.Sprintf("usuario %s creado", u.Username),
		User:    u,
	})
}

// UpdateUser — PUT /api/usuarios/{id}.
func (h *APIHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd model.UserUpdate
	if !decodeJSON(w, r, &upd, false) {
		return
	}

	u, err := h.users.Update(r.Context(), a, id, upd)
	if err != nil {
		h.fail(w, r, "update_user", err)
		return
	}
	writeJSON(w, http.StatusOK, userMutationResponse{Success: true, Message: "usuario actualizado", User: u})
}

// SetUserPassword — PUT /api/usuarios/{id}/password.
func (h *APIHandler) SetUserPassword(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req setPasswordRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.users.SetPassword(r.Context(), a, id, req.Password); err != nil {
		h.fail(w, r, "set_user_password", err)
		return
	}
	writeSuccess(w, "contraseña actualizada")
}

// DeleteUser — DELETE /api/usuarios/{id}?mode=deactivate|purge.
// По умолчанию — деактивация; purge требует PurgeUsers.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mode, valid := model.ParseDeleteMode(r.URL.Query().Get("mode"))
	if !valid {
		apierrors.ValidationError(w, "mode debe ser deactivate o purge")
		return
	}

	if err := h.users.Delete(r.Context(), a, id, mode); err != nil {
		h.fail(w, r, "delete_user", err)
		return
	}
	if mode == model.DeletePurge {
		writeSuccess(w, "usuario eliminado permanentemente")
		return
	}
	writeSuccess(w, "usuario desactivado")
}

// ListRoles — GET /api/usuarios/roles/list. Роли, которыми может управлять пользователь.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	roles, err := h.users.Roles(a)
	if err != nil {
		h.fail(w, r, "list_roles", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(roles))
}

// ListAreas — GET /api/usuarios/areas/list.
func (h *APIHandler) ListAreas(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	areas, err := h.users.Areas(a)
	if err != nil {
		h.fail(w, r, "list_areas", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(areas))
}
