package code

import (
	"time"

	"github.com/dropDatabas3/lobbygate/internal/domain"
)

// Tier es el nivel de seguridad de un código; define largo y vida útil.
type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
	TierCritical Tier = "critical"
)

// TierSpec define largo en caracteres hex y vida útil.
type TierSpec struct {
	Length   int
	Lifetime time.Duration
}

// VerificationCode es un secreto de un solo uso ligado a una identidad de chat.
type VerificationCode struct {
	Value     string
	Ref       string // huella corta; segura para logs y referencias
	ChatID    string
	GameID    string // vacío hasta que se presenta
	Tier      Tier
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    time.Time
	Attempts  int
}

// Expired indica si el código venció en now.
func (c VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Result es el resultado cerrado de una validación.
type Result string

const (
	Valid             Result = "VALID"
	InvalidFormat     Result = "INVALID_FORMAT"
	NotFound          Result = "NOT_FOUND"
	Expired           Result = "EXPIRED"
	AlreadyUsed       Result = "ALREADY_USED"
	RateLimited       Result = "RATE_LIMITED"
	Blocked           Result = "BLOCKED"
	OwnershipMismatch Result = "OWNERSHIP_MISMATCH"
)

// Reason mapea el resultado a la taxonomía compartida.
func (r Result) Reason() domain.Reason {
	if r == Valid {
		return domain.ReasonNone
	}
	return domain.Reason(r)
}

// ValidateRequest es una presentación de código.
type ValidateRequest struct {
	Code          string
	ClaimedChatID string // opcional
	GameID        string // opcional; si el código ya tiene GameID debe coincidir
	SourceAddr    string
}

// Outcome es la respuesta de Validate. Code sólo se completa con Valid,
// o con los datos no sensibles del código en OwnershipMismatch/Expired.
type Outcome struct {
	Result     Result
	Code       VerificationCode
	RetryAfter time.Duration
}

// OK indica si el código fue consumido.
func (o Outcome) OK() bool { return o.Result == Valid }
