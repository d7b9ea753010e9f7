// Package identity verifica nombres de usuario del juego contra el servicio upstream.
//
// El gate llama a Verify antes de abrir una sesión (fuera de cualquier lock del
// core). Las identidades de cliente alternativo (prefijo configurable, por defecto
// ".") sólo pasan el chequeo de formato.
package identity

import (
	"context"
	"regexp"
	"strings"

	"github.com/dropDatabas3/lobbygate/internal/domain"
)

// Profile es el resultado de una verificación exitosa.
type Profile struct {
	GameID    string `json:"game_id"`
	Name      string `json:"name"`
	UUID      string `json:"uuid,omitempty"`
	AltClient bool   `json:"alt_client"`
}

// Verifier valida que una identidad de juego exista.
// Identidades inexistentes retornan un error con razón INVALID_IDENTITY;
// fallas del upstream retornan SYSTEM_ERROR.
type Verifier interface {
	Verify(ctx context.Context, gameID string) (Profile, error)
}

// VerifierFunc adapta una función a Verifier.
type VerifierFunc func(ctx context.Context, gameID string) (Profile, error)

func (f VerifierFunc) Verify(ctx context.Context, gameID string) (Profile, error) { return f(ctx, gameID) }

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// ValidName chequea el formato de un nombre de usuario (sin prefijo alternativo).
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Format es el verificador de sólo-formato. Reconoce el prefijo alternativo.
type Format struct {
	AltPrefix string
}

func (f Format) Verify(_ context.Context, gameID string) (Profile, error) {
	const op = "identity.Verify"
	name, alt := f.split(gameID)
	if !ValidName(name) {
		return Profile{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
	}
	return Profile{GameID: gameID, Name: name, AltClient: alt}, nil
}

func (f Format) split(gameID string) (string, bool) {
	if f.AltPrefix != "" && strings.HasPrefix(gameID, f.AltPrefix) {
		return strings.TrimPrefix(gameID, f.AltPrefix), true
	}
	return gameID, false
}

// Chain aplica el formato y delega a upstream sólo para identidades no alternativas.
type Chain struct {
	Format   Format
	Upstream Verifier // nil = sólo formato
}

func (c Chain) Verify(ctx context.Context, gameID string) (Profile, error) {
	p, err := c.Format.Verify(ctx, gameID)
	if err != nil || p.AltClient || c.Upstream == nil {
		return p, err
	}
	up, err := c.Upstream.Verify(ctx, p.Name)
	if err != nil {
		return Profile{}, err
	}
	up.GameID = gameID
	return up, nil
}
