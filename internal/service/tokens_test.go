package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/domain/model"
)

func TestBuildJWKS(t *testing.T) {
	raw, err := BuildJWKS([]config.SigningKey{
		{ID: "a", Secret: []byte("secret-a-0123456789")},
		{ID: "b", Secret: []byte("secret-b-0123456789")},
	})
	if err != nil {
		t.Fatalf("BuildJWKS: %v", err)
	}

	var set struct {
		Keys []struct {
			KTY string `json:"kty"`
			KID string `json:"kid"`
			ALG string `json:"alg"`
			K   string `json:"k"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("JWKS не является JSON: %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("ключей = %d, ожидается 2", len(set.Keys))
	}
	for _, k := range set.Keys {
		if k.KTY != "oct" || k.ALG != "HS256" || k.K == "" {
			t.Errorf("некорректный JWK: %+v", k)
		}
	}
}

func TestTokenIssuer_KeyRotation(t *testing.T) {
	oldKey := config.SigningKey{ID: "old", Secret: []byte("old-secret-0123456789")}
	newKey := config.SigningKey{ID: "new", Secret: []byte("new-secret-0123456789")}
	u := &model.User{ID: 7, Username: "tec", Rol: "Reparador", Area: "SMD"}

	// Токен, подписанный старым ключом до ротации
	before := newTestIssuer(t, []config.SigningKey{oldKey})
	token, _, err := before.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// После ротации новый ключ подписывает, старый ещё принимается
	after := newTestIssuer(t, []config.SigningKey{newKey, oldKey})
	if _, err := parseToken(t, after, token); err != nil {
		t.Fatalf("токен старого ключа должен приниматься после ротации: %v", err)
	}

	// Старый ключ удалён — токен отклоняется
	removed := newTestIssuer(t, []config.SigningKey{newKey})
	if _, err := parseToken(t, removed, token); err == nil {
		t.Fatal("токен удалённого ключа должен отклоняться")
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	issuer := newTestIssuer(t, testKeys)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, expiresAt, err := issuer.Issue(&model.User{ID: 1, Username: "tec"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Before(time.Now()) {
		t.Fatalf("expiresAt = %v, ожидается в прошлом", expiresAt)
	}
	if _, err := parseToken(t, issuer, token); err == nil {
		t.Fatal("просроченный токен должен отклоняться")
	}
}

func TestTokenIssuer_WrongAlgorithm(t *testing.T) {
	issuer := newTestIssuer(t, testKeys)

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer.Issuer(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Username: "tec",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	token.Header["kid"] = testKeys[0].ID
	signed, err := token.SignedString(testKeys[0].Secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := parseToken(t, issuer, signed); err == nil {
		t.Fatal("токен HS512 должен отклоняться")
	}
}

func TestNewTokenIssuer_NoKeys(t *testing.T) {
	if _, err := NewTokenIssuer(nil, "dms", time.Hour); err == nil {
		t.Fatal("ожидается ошибка без ключей")
	}
}
