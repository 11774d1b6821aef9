package model

import "time"

// User — пользователь DMS. Хранится в таблице usuarios_dms.
// Удаление по умолчанию мягкое (activo = false).
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	// PasswordHash — bcrypt-хэш, наружу не отдаётся
	PasswordHash   string     `json:"-"`
	NombreCompleto string     `json:"nombre_completo"`
	Rol            string     `json:"rol"`
	Area           string     `json:"area"`
	Activo         bool       `json:"activo"`
	FechaCreacion  time.Time  `json:"fecha_creacion"`
	UltimoAcceso   *time.Time `json:"ultimo_acceso"`
}

// UserUpdate — изменяемые администратором поля. nil — без изменений.
type UserUpdate struct {
	NombreCompleto *string `json:"nombre_completo"`
	Rol            *string `json:"rol"`
	Area           *string `json:"area"`
	Activo         *bool   `json:"activo"`
}

// DeleteMode — режим удаления пользователя.
type DeleteMode string

const (
	// DeleteDeactivate — мягкое удаление (activo = false).
	DeleteDeactivate DeleteMode = "deactivate"
	// DeletePurge — безвозвратное удаление строки.
	DeletePurge DeleteMode = "purge"
)

// ParseDeleteMode разбирает режим удаления; пустая строка — deactivate.
func ParseDeleteMode(s string) (DeleteMode, bool) {
	switch DeleteMode(s) {
	case "", DeleteDeactivate:
		return DeleteDeactivate, true
	case DeletePurge:
		return DeletePurge, true
	default:
		return "", false
	}
}
