// auth.go — JWT middleware аутентификации и авторизации DMS.
// Проверяет HS256 токен, выданный service.TokenIssuer (ключи по kid через JWKS),
// помещает аутентифицированного пользователя (service.Actor) в контекст.
// Авторизация — по матрице Role → Capabilities (RequireCapability).
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/dms/internal/api/errors"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyActor — аутентифицированный пользователь в контексте запроса.
	ContextKeyActor contextKey = "dms_actor"
)

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware.
// kf — keyfunc по набору ключей DMS_JWT_KEYS (TokenIssuer.Keyfunc()).
// issuer — ожидаемый iss, пустая строка отключает проверку.
// jwtLeeway — допустимое отклонение времени (DMS_JWT_LEEWAY).
func NewJWTAuth(kf keyfunc.Keyfunc, issuer string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (HS256) и сроки,
// формирует service.Actor из claims и помещает его в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "token no proporcionado")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "formato de autorización inválido: se espera Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "token vacío")
				return
			}

			claims := &service.TokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "token inválido o expirado")
				return
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				j.logger.Debug("Некорректные claims", slog.String("error", err.Error()))
				apierrors.Unauthorized(w, "token inválido")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorFromClaims формирует Actor из claims токена.
// sub и id должны совпадать, username и rol обязательны.
func actorFromClaims(c *service.TokenClaims) (service.Actor, error) {
	subject, err := c.GetSubject()
	if err != nil || subject == "" {
		return service.Actor{}, fmt.Errorf("отсутствует sub")
	}
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return service.Actor{}, fmt.Errorf("sub не является числом: %w", err)
	}
	if c.UserID != 0 && c.UserID != id {
		return service.Actor{}, fmt.Errorf("sub %d не совпадает с id %d", id, c.UserID)
	}
	if c.Username == "" || c.Rol == "" {
		return service.Actor{}, fmt.Errorf("отсутствует username или rol")
	}
	return service.Actor{ID: id, Username: c.Username, Rol: c.Rol, Area: c.Area}, nil
}

// --- RBAC middleware ---

// RequireCapability возвращает middleware, пропускающий пользователей, роль которых
// имеет хотя бы одну из указанных возможностей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireCapability(matrix *rbac.Matrix, caps ...rbac.Capability) func(http.Handler) http.Handler {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	required := strings.Join(names, " o ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "usuario no autenticado")
				return
			}

			if !matrix.Allows(actor.Rol, caps...) {
				apierrors.Forbidden(w, fmt.Sprintf("permisos insuficientes: se requiere %s", required))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithActor помещает пользователя в контекст.
func WithActor(ctx context.Context, actor service.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// ActorFromContext извлекает пользователя из контекста запроса.
func ActorFromContext(ctx context.Context) (service.Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(service.Actor)
	return actor, ok
}
