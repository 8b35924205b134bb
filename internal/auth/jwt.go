package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/protocol"
)

// Issuer - издатель токенов
const Issuer = "cubestack"

var (
	// ErrInvalidToken - подпись, срок или формат токена неверны
	ErrInvalidToken = errors.New("auth: недействительный токен")
	// ErrShortSecret - секрет короче 32 байт
	ErrShortSecret = errors.New("auth: секрет должен быть не короче 32 байт")
)

// Claims represents JWT claims
type Claims struct {
	Name    string        `json:"name"`
	Role    protocol.Role `json:"role"`
	IsAdmin bool          `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenIssuer выпускает и проверяет токены подключения участников
// и доступа к административному REST API.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer создает издателя с заданным секретом (сырые байты)
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl}, nil
}

// FromConfig создает издателя из конфигурации. Пустой секрет заменяется
// случайным; второй результат - true, если секрет сгенерирован.
func FromConfig(cfg config.AuthConfig) (*TokenIssuer, bool, error) {
	ttl := time.Duration(cfg.TokenTTL * float64(time.Hour))
	if cfg.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, false, fmt.Errorf("auth: генерация секрета: %w", err)
		}
		issuer, err := NewTokenIssuer(secret, ttl)
		return issuer, true, err
	}

	secret, err := base64.StdEncoding.DecodeString(cfg.JWTSecret)
	if err != nil {
		return nil, false, fmt.Errorf("auth: секрет не в base64: %w", err)
	}
	issuer, err := NewTokenIssuer(secret, ttl)
	return issuer, false, err
}

// Issue создает токен участника
func (ti *TokenIssuer) Issue(name string, role protocol.Role, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name:    name,
		Role:    role,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Validate проверяет токен и возвращает его claims
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
