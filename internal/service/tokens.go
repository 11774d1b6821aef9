// tokens.go — выпуск JWT (HS256) и набор ключей проверки.
// Ключи задаются списком kid:secret; первый подписывает, все проверяют,
// что позволяет ротацию: новый ключ ставится первым, старый остаётся
// в списке до истечения выданных им токенов.
package service

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/dms/internal/config"
	"github.com/bigkaa/dms/internal/domain/model"
)

// TokenClaims — claims токена DMS.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Rol      string `json:"rol"`
	Area     string `json:"area"`
}

// TokenIssuer подписывает токены пользователей.
type TokenIssuer struct {
	signing config.SigningKey
	issuer  string
	ttl     time.Duration
	jwks    keyfunc.Keyfunc
	now     func() time.Time
}

// NewTokenIssuer создаёт выпускающий токены сервис и keyfunc для их проверки.
func NewTokenIssuer(keys []config.SigningKey, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(keys) == 0 {
		return nil, errors.New("не задан ни один ключ подписи")
	}

	raw, err := BuildJWKS(keys)
	if err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &TokenIssuer{
		signing: keys[0],
		issuer:  issuer,
		ttl:     ttl,
		jwks:    kf,
		now:     time.Now,
	}, nil
}

// BuildJWKS строит симметричный JWK Set (kty=oct, alg=HS256) из ключей.
func BuildJWKS(keys []config.SigningKey) (json.RawMessage, error) {
	set := jwkset.JWKSMarshal{Keys: make([]jwkset.JWKMarshal, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, jwkset.JWKMarshal{
			KTY: jwkset.KtyOct,
			KID: k.ID,
			ALG: jwkset.AlgHS256,
			USE: jwkset.UseSig,
			K:   base64.RawURLEncoding.EncodeToString(k.Secret),
		})
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("сериализация JWKS: %w", err)
	}
	return raw, nil
}

// Issue выпускает токен для пользователя. Возвращает токен и момент истечения.
func (t *TokenIssuer) Issue(u *model.User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   u.ID,
		Username: u.Username,
		Rol:      u.Rol,
		Area:     u.Area,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = t.signing.ID

	signed, err := token.SignedString(t.signing.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Keyfunc возвращает keyfunc для проверки подписи по kid.
func (t *TokenIssuer) Keyfunc() keyfunc.Keyfunc {
	return t.jwks
}

// Issuer — значение iss выпускаемых токенов.
func (t *TokenIssuer) Issuer() string {
	return t.issuer
}
