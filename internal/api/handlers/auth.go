// auth.go — обработчики /api/auth endpoints.
// POST /api/auth/login — вход, выдача токена.
// GET /api/auth/verify, GET /api/auth/profile, POST /api/auth/change-password.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool              `json:"success"`
	Token        string            `json:"token"`
	ExpiresAt    time.Time         `json:"expires_at"`
	User         *model.User       `json:"user"`
	Capabilities []rbac.Capability `json:"capabilities"`
}

type userResponse struct {
	Success      bool              `json:"success"`
	User         *model.User       `json:"user"`
	Capabilities []rbac.Capability `json:"capabilities"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Login — POST /api/auth/login. Публичный.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		Token:        res.Token,
		ExpiresAt:    res.ExpiresAt,
		User:         res.User,
		Capabilities: res.Capabilities,
	})
}

// Verify — GET /api/auth/verify. Токен действителен и пользователь активен.
func (h *APIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := h.auth.Verify(r.Context(), a)
	if err != nil {
		h.fail(w, r, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: u, Capabilities: h.auth.Capabilities(u.Rol)})
}

// Profile — GET /api/auth/profile.
func (h *APIHandler) Profile(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := h.auth.Profile(r.Context(), a)
	if err != nil {
		h.fail(w, r, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: u, Capabilities: h.auth.Capabilities(u.Rol)})
}

// ChangePassword — POST /api/auth/change-password.
func (h *APIHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.auth.ChangePassword(r.Context(), a, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, "change_password", err)
		return
	}
	writeSuccess(w, "contraseña actualizada")
}
