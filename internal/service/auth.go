// auth.go — вход по логину/паролю, проверка токена, профиль и смена пароля.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
)

// MinPasswordLen — минимальная длина пароля.
const MinPasswordLen = 4

// dummyHash сравнивается, когда пользователь не найден,
// чтобы время ответа не выдавало существование логина.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dms-dummy-password"), bcrypt.DefaultCost)

// LoginResult — результат успешного входа.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
	// Capabilities — способности роли пользователя
	Capabilities []rbac.Capability
}

// AuthService — аутентификация пользователей DMS.
type AuthService struct {
	users   repository.UserRepository
	tokens  *TokenIssuer
	limiter LoginLimiter
	rbac    *rbac.Matrix
	logger  *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	users repository.UserRepository,
	tokens *TokenIssuer,
	limiter LoginLimiter,
	matrix *rbac.Matrix,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		limiter: limiter,
		rbac:    matrix,
		logger:  logger.With(slog.String("component", "auth")),
	}
}

// Login проверяет учётные данные и выпускает токен.
// Неизвестный логин, неверный пароль и неактивный пользователь
// неразличимы для клиента (ErrInvalidCredentials).
func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, validationError("usuario y contraseña son requeridos")
	}

	key := LimiterKey(username, ip)
	blocked, err := s.limiter.Blocked(ctx, key)
	if err != nil {
		// Недоступность счётчика не блокирует вход
		s.logger.Warn("Ошибка проверки лимита попыток входа", slog.String("error", err.Error()))
	}
	if blocked {
		loginAttemptsTotal.WithLabelValues("throttled").Inc()
		s.logger.Warn("Вход заблокирован лимитом попыток",
			slog.String("username", username),
			slog.String("ip", ip),
		)
		return nil, newError(ErrTooManyAttempts, "demasiados intentos fallidos, intente más tarde")
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("поиск пользователя: %w", err)
	}

	if u == nil || !u.Activo || !CheckPassword(u.PasswordHash, password) {
		if u == nil {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		}
		if err := s.limiter.Fail(ctx, key); err != nil {
			s.logger.Warn("Ошибка учёта неудачной попытки входа", slog.String("error", err.Error()))
		}
		loginAttemptsTotal.WithLabelValues("invalid").Inc()
		s.logger.Info("Неудачная попытка входа",
			slog.String("username", username),
			slog.String("ip", ip),
		)
		return nil, newError(ErrInvalidCredentials, "usuario o contraseña incorrectos")
	}

	token, expiresAt, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastAccess(ctx, u.ID); err != nil {
		s.logger.Warn("Не удалось обновить ultimo_acceso",
			slog.Int64("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Warn("Ошибка сброса счётчика попыток входа", slog.String("error", err.Error()))
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Пользователь вошёл в систему",
		slog.String("username", u.Username),
		slog.String("rol", u.Rol),
	)

	return &LoginResult{
		Token:        token,
		ExpiresAt:    expiresAt,
		User:         u,
		Capabilities: s.rbac.Capabilities(u.Rol),
	}, nil
}

// Verify возвращает актуальную запись пользователя токена.
// Удалённый или деактивированный пользователь — ErrInvalidCredentials.
func (s *AuthService) Verify(ctx context.Context, actor Actor) (*model.User, error) {
	u, err := s.users.GetByID(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrInvalidCredentials, "usuario no encontrado")
	}
	if err != nil {
		return nil, err
	}
	if !u.Activo {
		return nil, newError(ErrInvalidCredentials, "usuario inactivo")
	}
	return u, nil
}

// Profile возвращает профиль текущего пользователя.
func (s *AuthService) Profile(ctx context.Context, actor Actor) (*model.User, error) {
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, wrapRepoError(err, "usuario no encontrado", "")
	}
	return u, nil
}

// Capabilities — способности роли.
func (s *AuthService) Capabilities(rol string) []rbac.Capability {
	return s.rbac.Capabilities(rol)
}

// ChangePassword меняет пароль текущего пользователя после проверки текущего.
func (s *AuthService) ChangePassword(ctx context.Context, actor Actor, current, next string) error {
	if current == "" || next == "" {
		return validationError("contraseña actual y nueva son requeridas")
	}
	if len(next) < MinPasswordLen {
		return validationError("la nueva contraseña debe tener al menos %d caracteres", MinPasswordLen)
	}

	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return wrapRepoError(err, "usuario no encontrado", "")
	}
	if !CheckPassword(u.PasswordHash, current) {
		return validationError("contraseña actual incorrecta")
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, u.ID, hash); err != nil {
		return wrapRepoError(err, "usuario no encontrado", "")
	}

	s.logger.Info("Пароль изменён пользователем", slog.String("username", u.Username))
	return nil
}

// HashPassword возвращает bcrypt-хэш пароля.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("хэширование пароля: %w", err)
	}
	return string(hash), nil
}

// CheckPassword сверяет пароль с bcrypt-хэшем.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
