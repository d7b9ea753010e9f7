package session

import (
	"context"
	"strings"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// Redemption es el resultado de RedeemCode.
type Redemption struct {
	Outcome code.Outcome
	State   State
}

// RedeemCode valida value contra la sesión de gameID. El servicio de códigos
// se consulta fuera del lock de la máquina; al volver se re-chequea que la
// sesión siga siendo la misma antes de registrar el canje.
//
// Un canje exitoso en QUARANTINE con la cuarentena ya cumplida pasa a
// VERIFIED. Fallos repetidos (SoftFailureThreshold) pasan a PENDING_MANUAL.
func (m *Machine) RedeemCode(ctx context.Context, gameID, value, sourceAddr string) (Redemption, error) {
	const op = "session.RedeemCode"

	m.mu.Lock()
	if _, ok := m.banned[gameID]; ok {
		m.mu.Unlock()
		return Redemption{State: Banned}, domain.E(op, domain.ReasonBanned, nil)
	}
	e := m.byGame[gameID]
	if e == nil {
		if m.recentlyExpiredLocked(gameID) {
			m.mu.Unlock()
			return Redemption{Outcome: code.Outcome{Result: code.Expired}, State: Expired}, nil
		}
		m.mu.Unlock()
		return Redemption{Outcome: code.Outcome{Result: code.NotFound}, State: Unverified}, nil
	}
	now := m.now.Now()
	if e.s.ExpiredAt(now) {
		m.transitionLocked(e, Expired, gameID, "expired")
		m.mu.Unlock()
		return Redemption{Outcome: code.Outcome{Result: code.Expired}, State: Expired}, nil
	}
	switch {
	case e.s.State == PendingManual:
		m.mu.Unlock()
		return Redemption{State: PendingManual}, domain.E(op, domain.ReasonPendingReview, nil)
	case e.s.CodeRedeemed || e.s.State == Verified:
		st := e.s.State
		m.mu.Unlock()
		return Redemption{Outcome: code.Outcome{Result: code.AlreadyUsed}, State: st}, nil
	}
	chatID, gen := e.s.ChatID, e.gen
	m.mu.Unlock()

	out := m.deps.Codes.Validate(ctx, code.ValidateRequest{
		Code:          value,
		ClaimedChatID: chatID,
		GameID:        gameID,
		SourceAddr:    sourceAddr,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byGame[gameID] != e || e.gen != gen {
		// la sesión cambió mientras se validaba (ban, cancelación, vencimiento)
		st := Unverified
		if cur := m.byGame[gameID]; cur != nil {
			st = cur.s.State
		} else if _, ok := m.banned[gameID]; ok {
			st = Banned
		}
		if out.OK() {
			m.log.Warn("code consumed for superseded session", logger.GameID(gameID))
		}
		return Redemption{Outcome: out, State: st}, nil
	}

	e.s.Attempts++
	if out.OK() {
		e.s.CodeRedeemed = true
		e.s.Failures = 0
		if e.s.Metadata == nil {
			e.s.Metadata = map[string]string{}
		}
		e.s.Metadata["redeemed_from"] = sourceAddr
		if e.s.State == Quarantine {
			if e.s.QuarantineDone {
				m.transitionLocked(e, Verified, gameID, "code_redeemed")
			} else {
				// el vencimiento deja de aplicar: reprogramar sin el timer de expiry
				e.gen++
				m.cancelTimersLocked(e)
				m.scheduleLocked(e)
			}
		}
		m.log.Info("code redeemed", logger.GameID(gameID), logger.State(string(e.s.State)))
		return Redemption{Outcome: out, State: e.s.State}, nil
	}

	e.s.Failures++
	if out.Result != code.Blocked && out.Result != code.RateLimited && e.s.Failures >= m.cfg.SoftFailureThreshold {
		m.transitionLocked(e, PendingManual, "system", "repeated_failures")
	}
	return Redemption{Outcome: out, State: e.s.State}, nil
}

// ReissueCode revoca el código vigente de la sesión de chatID y emite otro
// que no vence después que la sesión.
func (m *Machine) ReissueCode(ctx context.Context, chatID string) (code.VerificationCode, error) {
	const op = "session.ReissueCode"
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.byChat[chatID]
	if e == nil {
		return code.VerificationCode{}, domain.E(op, domain.ReasonNotFound, nil)
	}
	if e.s.ExpiredAt(m.now.Now()) {
		m.transitionLocked(e, Expired, chatID, "expired")
		return code.VerificationCode{}, domain.E(op, domain.ReasonExpired, nil)
	}
	if e.s.CodeRedeemed || (e.s.State != Purgatory && e.s.State != Quarantine) {
		return code.VerificationCode{}, domain.E(op, domain.ReasonInvalidTransition, nil)
	}
	m.deps.Codes.Revoke(chatID)
	vc, err := m.deps.Codes.GenerateWithin(chatID, e.s.GameID, m.cfg.CodeTier, e.s.ExpiresAt)
	if err != nil {
		return code.VerificationCode{}, domain.E(op, domain.ReasonSystemError, err)
	}
	e.s.CodeRef = vc.Ref
	m.record(e.s.GameID, audit.ActionCodeIssue, "reissue", map[string]any{"session_id": e.s.ID, "fp": vc.Ref})
	return vc, nil
}

// Ban registra el ban de gameID y, si hay una sesión activa, la pasa a BANNED
// cancelando sus timers. El ban persiste para lecturas de estado posteriores.
func (m *Machine) Ban(ctx context.Context, gameID, actor, reason string) (State, error) {
	const op = "session.Ban"
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return Unverified, domain.E(op, domain.ReasonInvalidIdentity, nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[gameID] = m.now.Now()
	if e := m.byGame[gameID]; e != nil {
		m.transitionLocked(e, Banned, actor, reason)
	}
	m.record(gameID, audit.ActionModeration, "ban", map[string]any{"actor": actor, "reason": reason})
	return Banned, nil
}

// Unban levanta el ban; la identidad vuelve a UNVERIFIED (o MEMBER si lo era).
func (m *Machine) Unban(ctx context.Context, gameID, actor string) bool {
	m.mu.Lock()
	_, ok := m.banned[gameID]
	delete(m.banned, gameID)
	m.mu.Unlock()
	if ok {
		m.record(gameID, audit.ActionModeration, "unban", map[string]any{"actor": actor})
	}
	return ok
}

// Cancel pasa una sesión activa a EXPIRED.
func (m *Machine) Cancel(ctx context.Context, gameID, actor string) error {
	const op = "session.Cancel"
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byGame[gameID]
	if e == nil {
		return domain.E(op, domain.ReasonNotFound, nil)
	}
	m.transitionLocked(e, Expired, actor, "cancelled")
	m.record(gameID, audit.ActionModeration, "cancel", map[string]any{"actor": actor})
	return nil
}

// ResolveManual resuelve una sesión PENDING_MANUAL: approve la pasa a VERIFIED
// (y sigue la promoción normal), reject a EXPIRED.
func (m *Machine) ResolveManual(ctx context.Context, gameID string, approve bool, actor string) (State, error) {
	const op = "session.ResolveManual"
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byGame[gameID]
	if e == nil {
		return Unverified, domain.E(op, domain.ReasonNotFound, nil)
	}
	if e.s.ExpiredAt(m.now.Now()) {
		m.transitionLocked(e, Expired, "system", "review_timeout")
		return Expired, domain.E(op, domain.ReasonExpired, nil)
	}
	if e.s.State != PendingManual {
		return e.s.State, domain.E(op, domain.ReasonInvalidTransition, nil)
	}
	status := "reject"
	if approve {
		status = "approve"
		e.s.CodeRedeemed = true
		m.deps.Codes.Revoke(e.s.ChatID)
		m.transitionLocked(e, Verified, actor, "manual_approve")
	} else {
		m.transitionLocked(e, Expired, actor, "manual_reject")
	}
	m.record(gameID, audit.ActionModeration, status, map[string]any{"actor": actor})
	return e.s.State, nil
}
