package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/domain/rbac"
)

var testKeys = []config.SigningKey{
	{ID: "k1", Secret: []byte("0123456789abcdef0123456789abcdef")},
}

func newTestIssuer(t *testing.T, keys []config.SigningKey) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(keys, "dms-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func parseToken(t *testing.T, issuer *TokenIssuer, token string) (*TokenClaims, error) {
	t.Helper()
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, issuer.Keyfunc().Keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer.Issuer()),
	)
	return claims, err
}

func newTestAuth(t *testing.T, maxAttempts int) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore()
	store.addUser("tec", rbac.RoleReparador, "SMD", "secreto", true)
	store.addUser("baja", rbac.RoleReparador, "SMD", "secreto", false)
	svc := NewAuthService(memUsers{store}, newTestIssuer(t, testKeys),
		NewMemoryLimiter(maxAttempts, time.Minute), rbac.DefaultMatrix(), discardLogger())
	return svc, store
}

func TestAuthService_Login(t *testing.T) {
	svc, store := newTestAuth(t, 5)
	ctx := context.Background()

	res, err := svc.Login(ctx, "tec", "secreto", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.Username != "tec" || len(res.Capabilities) == 0 {
		t.Errorf("некорректный результат входа: %+v", res)
	}
	if store.state.users[res.User.ID].UltimoAcceso == nil {
		t.Error("ultimo_acceso должен обновляться при входе")
	}

	claims, err := parseToken(t, svc.tokens, res.Token)
	if err != nil {
		t.Fatalf("токен не проходит проверку: %v", err)
	}
	if claims.Username != "tec" || claims.Rol != rbac.RoleReparador || claims.Area != "SMD" {
		t.Errorf("некорректные claims: %+v", claims)
	}
	if claims.Subject != strconv.FormatInt(res.User.ID, 10) {
		t.Errorf("sub = %q, ожидается %d", claims.Subject, res.User.ID)
	}
}

func TestAuthService_LoginRejected(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"неверный пароль", "tec", "otro", ErrInvalidCredentials},
		{"неизвестный пользователь", "nadie", "secreto", ErrInvalidCredentials},
		{"неактивный пользователь", "baja", "secreto", ErrInvalidCredentials},
		{"пустой пароль", "tec", "", ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestAuth(t, 5)
			_, err := svc.Login(context.Background(), tt.username, tt.password, "10.0.0.1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ожидается %v, получено: %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthService_LoginThrottled(t *testing.T) {
	svc, _ := newTestAuth(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(ctx, "tec", "mal", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("попытка %d: ожидается ErrInvalidCredentials, получено: %v", i+1, err)
		}
	}

	// Даже верный пароль отклоняется до истечения окна
	if _, err := svc.Login(ctx, "tec", "secreto", "10.0.0.1"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("ожидается ErrTooManyAttempts, получено: %v", err)
	}

	// Другой IP считается отдельно
	if _, err := svc.Login(ctx, "tec", "secreto", "10.0.0.2"); err != nil {
		t.Fatalf("вход с другого IP: %v", err)
	}
}

func TestAuthService_Verify(t *testing.T) {
	svc, store := newTestAuth(t, 5)
	ctx := context.Background()

	u, err := svc.Verify(ctx, Actor{ID: 1})
	if err != nil || u.Username != "tec" {
		t.Fatalf("Verify: %v, %+v", err, u)
	}

	if _, err := svc.Verify(ctx, Actor{ID: 2}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("неактивный: ожидается ErrInvalidCredentials, получено: %v", err)
	}

	delete(store.state.users, 1)
	if _, err := svc.Verify(ctx, Actor{ID: 1}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("удалённый: ожидается ErrInvalidCredentials, получено: %v", err)
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc, store := newTestAuth(t, 5)
	ctx := context.Background()
	actor := Actor{ID: 1, Username: "tec"}

	if err := svc.ChangePassword(ctx, actor, "incorrecta", "nueva1"); !errors.Is(err, ErrValidation) {
		t.Errorf("неверный текущий пароль: ожидается ErrValidation, получено: %v", err)
	}
	if err := svc.ChangePassword(ctx, actor, "secreto", "abc"); !errors.Is(err, ErrValidation) {
		t.Errorf("короткий пароль: ожидается ErrValidation, получено: %v", err)
	}
	if err := svc.ChangePassword(ctx, actor, "secreto", "nueva1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if !CheckPassword(store.state.users[1].PasswordHash, "nueva1") {
		t.Error("пароль не изменён")
	}
}
