package session

import (
	"context"
	"time"

	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/store"
)

// ExpireSessions cierra las sesiones vencidas en now. Retorna cuántas.
func (m *Machine) ExpireSessions(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*entry
	for _, e := range m.byGame {
		if e.s.ExpiredAt(now) {
			due = append(due, e)
		}
	}
	for _, e := range due {
		m.transitionLocked(e, Expired, "sweeper", "expired")
	}
	return len(due)
}

// CleanupReport resume un pase de Cleanup.
type CleanupReport struct {
	Expired        int
	ArchivePruned  int
	MembersRetried int
	MembersFailed  int
}

// Removed es el total de elementos retirados.
func (r CleanupReport) Removed() int {
	return r.Expired + r.ArchivePruned + r.MembersRetried
}

// Cleanup es el pase delegado del barrido medio: vence sesiones, recorta el
// archivo por antigüedad y reintenta las membresías que no se pudieron escribir.
func (m *Machine) Cleanup(ctx context.Context) CleanupReport {
	now := m.now.Now()
	rep := CleanupReport{Expired: m.ExpireSessions(now)}

	m.mu.Lock()
	cutoff := now.Add(-m.cfg.ArchiveRetention)
	i := 0
	for i < len(m.archive) && m.archive[i].ChangedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.dropArchivedLocked(i)
	}
	rep.ArchivePruned = i
	pending := m.retry
	m.retry = nil
	m.mu.Unlock()

	var failed []store.Member
	for _, mem := range pending {
		if m.deps.Members == nil {
			break
		}
		if err := m.deps.Members.Upsert(ctx, mem); err != nil {
			m.log.Warn("member persist retry failed", logger.GameID(mem.GameID), logger.Err(err))
			failed = append(failed, mem)
			continue
		}
		rep.MembersRetried++
	}
	if len(failed) > 0 {
		m.mu.Lock()
		m.retry = append(failed, m.retry...)
		m.mu.Unlock()
	}
	rep.MembersFailed = len(failed)
	return rep
}

// CountByState cuenta sesiones activas por estado efectivo, más los bans vigentes.
func (m *Machine) CountByState() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now.Now()
	out := make(map[State]int, len(States))
	for _, e := range m.byGame {
		out[e.s.Effective(now)]++
	}
	if len(m.banned) > 0 {
		out[Banned] += len(m.banned)
	}
	return out
}

// Active cuenta las sesiones en seguimiento.
func (m *Machine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byGame)
}

// Counters retorna promociones y vencimientos desde el arranque.
func (m *Machine) Counters() (promoted, expired int64) {
	return m.promoted.Load(), m.expired.Load()
}

// PendingPersists cuenta membresías a la espera de reintento.
func (m *Machine) PendingPersists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retry)
}

// Shutdown cancela todos los timers de sesión y deja de aceptar sesiones nuevas.
// Las sesiones activas quedan en memoria para el barrido final.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, e := range m.byGame {
		e.gen++
		m.cancelTimersLocked(e)
	}
	m.log.Info("session machine stopped", logger.Count(len(m.byGame)))
}
