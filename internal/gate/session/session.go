package session

import (
	"time"
)

// Session es el progreso de una identidad por la verificación. Los valores
// retornados por la Machine son copias; mutarlos no afecta al estado interno.
type Session struct {
	ID        string
	GameID    string
	ChatID    string
	CodeRef   string // huella corta del código vigente, nunca el valor
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
	ChangedAt time.Time
	Attempts  int
	Failures  int
	AltClient bool

	CodeRedeemed     bool
	QuarantineEndsAt time.Time
	QuarantineDone   bool
	ReviewDeadline   time.Time
	Metadata         map[string]string
}

// Claimed indica si el código de la sesión ya fue canjeado.
func (s Session) Claimed() bool { return s.CodeRedeemed }

// Deadline retorna el vencimiento aplicable al estado actual, o cero si el
// estado no vence:
//   - PURGATORY vence en ExpiresAt.
//   - QUARANTINE vence en ExpiresAt mientras el código no haya sido canjeado.
//   - PENDING_MANUAL vence en ReviewDeadline.
func (s Session) Deadline() time.Time {
	switch s.State {
	case Purgatory:
		return s.ExpiresAt
	case Quarantine:
		if !s.CodeRedeemed {
			return s.ExpiresAt
		}
	case PendingManual:
		return s.ReviewDeadline
	}
	return time.Time{}
}

// ExpiredAt indica si la sesión está vencida en now. El vencimiento es una
// propiedad derivada: no depende de que un barrido haya corrido.
func (s Session) ExpiredAt(now time.Time) bool {
	d := s.Deadline()
	return !d.IsZero() && now.After(d)
}

// Effective retorna el estado observable en now.
func (s Session) Effective(now time.Time) State {
	if s.ExpiredAt(now) {
		return Expired
	}
	return s.State
}

func (s Session) clone() Session {
	if s.Metadata != nil {
		md := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		s.Metadata = md
	}
	return s
}
