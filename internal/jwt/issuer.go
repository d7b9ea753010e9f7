// Package jwt emite y valida los tokens de servicio (HS256) con los que los
// colaboradores (proxy, bot de chat, operadores) llaman a la API del gate.
package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role es el rol del colaborador portador del token.
type Role string

const (
	RoleProxy Role = "proxy"
	RoleBot   Role = "bot"
	RoleAdmin Role = "admin"
)

// ParseRole valida un rol textual.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleProxy, RoleBot, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Claims son las claims de un token de servicio.
type Claims struct {
	Role Role `json:"role"`
	jwtv5.RegisteredClaims
}

// Issuer firma y valida tokens con un secreto compartido.
type Issuer struct {
	Iss    string
	TTL    time.Duration
	secret []byte
	now    func() time.Time
}

// NewIssuer crea el issuer. El secreto debe tener al menos 32 bytes.
func NewIssuer(iss, secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt: secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{Iss: iss, TTL: ttl, secret: []byte(secret), now: time.Now}, nil
}

// Issue firma un token para sub con role. ttl<=0 usa el TTL por defecto.
func (i *Issuer) Issue(sub string, role Role, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.TTL
	}
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.Iss,
			Subject:   sub,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
