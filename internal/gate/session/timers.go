package session

import (
	"context"
	"time"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/store"
)

type timerKind string

const (
	timerExpiry     timerKind = "expiry"
	timerQuarantine timerKind = "quarantine"
	timerPromotion  timerKind = "promotion"
	timerReview     timerKind = "review"
)

// scheduleLocked programa los timers que corresponden al estado actual de e.
// Cada callback captura (e, gen): si la sesión cambió de generación cuando
// dispara, no hace nada. Requiere m.mu.
func (m *Machine) scheduleLocked(e *entry) {
	if m.deps.Timers == nil || m.closed {
		return
	}
	now := m.now.Now()
	s := e.s
	switch s.State {
	case Purgatory:
		m.afterLocked(e, s.ExpiresAt.Sub(now), timerExpiry)
	case Quarantine:
		if !s.QuarantineDone {
			m.afterLocked(e, s.QuarantineEndsAt.Sub(now), timerQuarantine)
		}
		if !s.CodeRedeemed {
			m.afterLocked(e, s.ExpiresAt.Sub(now), timerExpiry)
		}
	case Verified:
		m.afterLocked(e, m.cfg.PromotionDelay, timerPromotion)
	case PendingManual:
		m.afterLocked(e, s.Deadline().Sub(now), timerReview)
	}
}

func (m *Machine) afterLocked(e *entry, d time.Duration, kind timerKind) {
	gen := e.gen
	name := string(kind) + ":" + e.s.GameID
	h := m.deps.Timers.After(d, name, func(ctx context.Context) {
		m.fire(ctx, e, gen, kind)
	})
	e.timers = append(e.timers, h)
}

func (m *Machine) cancelTimersLocked(e *entry) {
	for _, h := range e.timers {
		h.Cancel()
	}
	e.timers = nil
}

// fire es el punto de entrada de todos los timers. Re-chequea bajo lock que
// la sesión siga activa, sea la misma y no haya cambiado de generación.
func (m *Machine) fire(ctx context.Context, e *entry, gen uint64, kind timerKind) {
	m.mu.Lock()
	if m.closed || m.byGame[e.s.GameID] != e || e.gen != gen {
		m.mu.Unlock()
		m.log.Debug("stale timer ignored", logger.GameID(e.s.GameID), logger.String("timer", string(kind)))
		return
	}
	now := m.now.Now()

	var promoted *store.Member
	switch kind {
	case timerExpiry, timerReview:
		if e.s.ExpiredAt(now) {
			m.transitionLocked(e, Expired, "system", string(kind))
		} else if d := e.s.Deadline(); !d.IsZero() {
			// disparó antes de tiempo respecto del reloj de la máquina
			m.afterLocked(e, d.Sub(now)+time.Millisecond, kind)
		}
	case timerQuarantine:
		if e.s.State == Quarantine {
			e.s.QuarantineDone = true
			if e.s.CodeRedeemed {
				m.transitionLocked(e, Verified, "system", "quarantine_complete")
			}
		}
	case timerPromotion:
		if e.s.State == Verified && m.transitionLocked(e, Member, "system", "promotion") {
			mem := memberFrom(e.s, now)
			promoted = &mem
			m.promoted.Add(1)
		}
	}
	m.mu.Unlock()

	if promoted != nil {
		m.persistMember(ctx, *promoted)
	}
}

func memberFrom(s Session, now time.Time) store.Member {
	verifiedAt := s.ChangedAt
	return store.Member{
		GameID:     s.GameID,
		ChatID:     s.ChatID,
		UUID:       s.Metadata["uuid"],
		AltClient:  s.AltClient,
		SessionID:  s.ID,
		VerifiedAt: verifiedAt,
		PromotedAt: now,
	}
}

// persistMember escribe el registro durable fuera del lock. Si falla, queda
// encolado para el barrido medio.
func (m *Machine) persistMember(ctx context.Context, mem store.Member) {
	m.cacheMember(ctx, mem.GameID, true)
	if m.deps.Members == nil {
		return
	}
	if err := m.deps.Members.Upsert(ctx, mem); err != nil {
		m.log.Warn("member persist failed, queued for retry", logger.GameID(mem.GameID), logger.Err(err))
		m.record(mem.GameID, audit.ActionMemberPersist, "queued", map[string]any{"error": err.Error()})
		m.mu.Lock()
		m.retry = append(m.retry, mem)
		m.mu.Unlock()
		return
	}
	m.record(mem.GameID, audit.ActionMemberPersist, "ok", map[string]any{"session_id": mem.SessionID})
	m.log.Info("member promoted", logger.GameID(mem.GameID), logger.ChatID(mem.ChatID))
}
