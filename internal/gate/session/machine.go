// Package session implementa la máquina de estados de verificación:
// UNVERIFIED → PURGATORY → QUARANTINE → VERIFIED → MEMBER, con las ramas
// EXPIRED, BANNED y PENDING_MANUAL.
//
// Todas las transiciones se linearizan bajo un único lock de la máquina. Las
// llamadas externas (verificación upstream, store de miembros) ocurren fuera
// del lock. Cada transición invalida los timers pendientes de la sesión y
// todo callback vuelve a chequear estado y generación antes de actuar.
//
// Orden de locks: machine → codes → audit.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/cache"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
	"github.com/dropDatabas3/lobbygate/internal/identity"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/store"
	"github.com/dropDatabas3/lobbygate/internal/timer"
)

// Codes es lo que la máquina necesita del servicio de códigos.
type Codes interface {
	GenerateWithin(chatID, gameHint string, tier code.Tier, notAfter time.Time) (code.VerificationCode, error)
	Validate(ctx context.Context, req code.ValidateRequest) code.Outcome
	Revoke(chatID string) int
	Expire(chatID string) int
}

// AccessChecker responde si una identidad puede entrar a una clase de destino.
type AccessChecker interface {
	CanAccess(ctx context.Context, gameID, class string) bool
}

// Deps agrupa los colaboradores de la máquina. Verifier, Members, Audit y
// MemberCache son opcionales.
type Deps struct {
	Codes       Codes
	Verifier    identity.Verifier
	Members     store.Members
	Timers      *timer.Scheduler
	Audit       *audit.Log
	MemberCache cache.Client
}

// Started es el resultado de StartVerification. Code lleva el valor en claro
// para que el colaborador de chat lo entregue al usuario.
type Started struct {
	Session Session
	Code    code.VerificationCode
}

type entry struct {
	s      Session
	gen    uint64
	timers []*timer.Handle
}

// Machine es dueña de la tabla de sesiones activas.
type Machine struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  domain.Clock
	format identity.Format

	access atomic.Value // AccessChecker

	mu      sync.Mutex
	byGame  map[string]*entry
	byChat  map[string]*entry
	banned  map[string]time.Time
	archive []Session // terminales, más vieja primero
	retry   []store.Member
	closed  bool

	promoted atomic.Int64
	expired  atomic.Int64
}

// New crea la máquina. deps.Codes y deps.Timers son obligatorios.
func New(cfg Config, deps Deps, log *zap.Logger) *Machine {
	cfg.defaults()
	m := &Machine{
		cfg:    cfg,
		deps:   deps,
		log:    logger.OrNamed(log, "session"),
		format: identity.Format{AltPrefix: cfg.AltClientPrefix},
		byGame: make(map[string]*entry),
		byChat: make(map[string]*entry),
		banned: make(map[string]time.Time),
	}
	if m.deps.Verifier == nil {
		m.deps.Verifier = m.format
	}
	return m
}

// WithClock reemplaza el reloj usado para vencimientos derivados (tests).
func (m *Machine) WithClock(now domain.Clock) *Machine {
	m.now = now
	return m
}

// SetAccessChecker registra el validador de acceso usado por CanAccess.
func (m *Machine) SetAccessChecker(c AccessChecker) {
	m.access.Store(&c)
}

// Initialized indica que la máquina puede recibir tráfico.
func (m *Machine) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.byGame != nil
}

// StartVerification abre una sesión PURGATORY para (gameID, chatID) y emite su
// código. Falla con ALREADY_ACTIVE si alguna de las dos identidades ya tiene
// una sesión activa o si gameID ya es miembro, y con INVALID_IDENTITY si la
// verificación upstream la rechaza.
func (m *Machine) StartVerification(ctx context.Context, gameID, chatID string) (Started, error) {
	const op = "session.StartVerification"
	gameID, chatID = strings.TrimSpace(gameID), strings.TrimSpace(chatID)
	if gameID == "" || chatID == "" {
		return Started{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
	}

	m.mu.Lock()
	err := m.admissibleLocked(op, gameID, chatID)
	m.mu.Unlock()
	if err != nil {
		return Started{}, err
	}
	if m.isMember(ctx, gameID) {
		return Started{}, domain.E(op, domain.ReasonAlreadyActive, errors.New("already a member"))
	}

	profile, err := m.deps.Verifier.Verify(ctx, gameID)
	if err != nil {
		m.record(gameID, audit.ActionSessionReject, string(domain.ReasonOf(err)), map[string]any{"chat_id": chatID})
		if domain.ReasonOf(err) == domain.ReasonInvalidIdentity {
			return Started{}, domain.E(op, domain.ReasonInvalidIdentity, err)
		}
		return Started{}, domain.E(op, domain.ReasonSystemError, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.admissibleLocked(op, gameID, chatID); err != nil {
		return Started{}, err
	}

	now := m.now.Now()
	s := Session{
		ID:        uuid.NewString(),
		GameID:    gameID,
		ChatID:    chatID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.PurgatoryWindow),
		State:     Purgatory,
		ChangedAt: now,
		AltClient: profile.AltClient,
		Metadata:  map[string]string{},
	}
	if profile.UUID != "" {
		s.Metadata["uuid"] = profile.UUID
	}

	m.deps.Codes.Revoke(chatID)
	vc, err := m.deps.Codes.GenerateWithin(chatID, gameID, m.cfg.CodeTier, s.ExpiresAt)
	if err != nil {
		m.log.Error("code generation failed", logger.GameID(gameID), logger.Err(err))
		return Started{}, domain.E(op, domain.ReasonSystemError, err)
	}
	s.CodeRef = vc.Ref

	e := &entry{s: s}
	m.byGame[gameID] = e
	m.byChat[chatID] = e
	m.scheduleLocked(e)

	m.record(gameID, audit.ActionSessionStart, string(Purgatory), map[string]any{
		"session_id": s.ID, "chat_id": chatID, "expires_at": s.ExpiresAt, "alt_client": s.AltClient,
	})
	m.log.Info("verification started",
		logger.GameID(gameID), logger.ChatID(chatID), logger.SessionID(s.ID), logger.Bool("alt_client", s.AltClient))
	return Started{Session: s.clone(), Code: vc}, nil
}

// admissibleLocked chequea bans y unicidad por identidad. Una sesión vencida
// por tiempo se cierra acá mismo y deja de bloquear. Requiere m.mu.
func (m *Machine) admissibleLocked(op, gameID, chatID string) error {
	if m.closed {
		return domain.E(op, domain.ReasonSystemError, errors.New("machine closed"))
	}
	if _, ok := m.banned[gameID]; ok {
		return domain.E(op, domain.ReasonBanned, nil)
	}
	now := m.now.Now()
	for _, e := range []*entry{m.byGame[gameID], m.byChat[chatID]} {
		if e == nil || e.s.State.Terminal() {
			continue
		}
		if e.s.ExpiredAt(now) {
			m.transitionLocked(e, Expired, "system", "expired")
			continue
		}
		return domain.E(op, domain.ReasonAlreadyActive, nil)
	}
	return nil
}

// OnIdentityConnect se llama en cada conexión. Idempotente: sólo una sesión
// PURGATORY vigente avanza a QUARANTINE; una vencida pasa antes a EXPIRED.
func (m *Machine) OnIdentityConnect(ctx context.Context, gameID string) (State, error) {
	m.mu.Lock()
	if _, ok := m.banned[gameID]; ok {
		m.mu.Unlock()
		return Banned, nil
	}
	e := m.byGame[gameID]
	if e == nil {
		expired := m.recentlyExpiredLocked(gameID)
		m.mu.Unlock()
		if expired {
			return Expired, nil
		}
		return m.inactiveState(ctx, gameID), nil
	}
	now := m.now.Now()
	if e.s.ExpiredAt(now) {
		m.transitionLocked(e, Expired, gameID, "expired")
		m.mu.Unlock()
		return Expired, nil
	}
	if e.s.State == Purgatory {
		e.s.QuarantineEndsAt = now.Add(m.cfg.QuarantineWindow)
		m.transitionLocked(e, Quarantine, gameID, "connected")
	}
	st := e.s.State
	m.mu.Unlock()
	return st, nil
}

// CanAccess es una lectura pura: delega en el validador de acceso registrado.
func (m *Machine) CanAccess(ctx context.Context, gameID, class string) bool {
	v, _ := m.access.Load().(*AccessChecker)
	if v == nil || *v == nil {
		return false
	}
	return (*v).CanAccess(ctx, gameID, class)
}

// QuerySession busca por identidad de juego o de chat; si no hay sesión activa
// retorna la última archivada. El estado retornado es el efectivo.
func (m *Machine) QuerySession(identity string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now.Now()
	e := m.byGame[identity]
	if e == nil {
		e = m.byChat[identity]
	}
	if e != nil {
		s := e.s.clone()
		s.State = s.Effective(now)
		return s, true
	}
	for i := len(m.archive) - 1; i >= 0; i-- {
		if a := m.archive[i]; a.GameID == identity || a.ChatID == identity {
			return a.clone(), true
		}
	}
	return Session{}, false
}

// State retorna el estado efectivo de gameID sin mutar nada.
func (m *Machine) State(ctx context.Context, gameID string) (State, error) {
	m.mu.Lock()
	if _, ok := m.banned[gameID]; ok {
		m.mu.Unlock()
		return Banned, nil
	}
	if e := m.byGame[gameID]; e != nil {
		st := e.s.Effective(m.now.Now())
		m.mu.Unlock()
		return st, nil
	}
	expired := m.recentlyExpiredLocked(gameID)
	m.mu.Unlock()
	if expired {
		return Expired, nil
	}
	return m.inactiveState(ctx, gameID), nil
}

// inactiveState resuelve el estado de una identidad sin sesión activa.
func (m *Machine) inactiveState(ctx context.Context, gameID string) State {
	if m.isMember(ctx, gameID) {
		return Member
	}
	return Unverified
}

const (
	memberYes = "1"
	memberNo  = "0"
)

func memberKey(gameID string) string { return "member:" + gameID }

// isMember consulta el cache y luego el store. Nunca se llama con m.mu tomado.
func (m *Machine) isMember(ctx context.Context, gameID string) bool {
	if m.deps.Members == nil {
		return false
	}
	if c := m.deps.MemberCache; c != nil {
		if v, err := c.Get(ctx, memberKey(gameID)); err == nil {
			return v == memberYes
		}
	}
	_, err := m.deps.Members.Get(ctx, gameID)
	switch {
	case err == nil:
		m.cacheMember(ctx, gameID, true)
		return true
	case errors.Is(err, store.ErrNotFound):
		m.cacheMember(ctx, gameID, false)
	default:
		m.log.Warn("member lookup failed", logger.GameID(gameID), logger.Err(err))
	}
	return false
}

func (m *Machine) cacheMember(ctx context.Context, gameID string, yes bool) {
	c := m.deps.MemberCache
	if c == nil {
		return
	}
	val, ttl := memberYes, m.cfg.MemberCacheTTL
	if !yes {
		val = memberNo
		if ttl > 30*time.Second {
			ttl = 30 * time.Second
		}
	}
	if err := c.Set(ctx, memberKey(gameID), val, ttl); err != nil {
		m.log.Debug("member cache write failed", logger.Err(err))
	}
}

// transitionLocked aplica from → to si la arista existe. Invalida los timers
// de la sesión, programa los del nuevo estado y archiva si es terminal.
// Retorna false si la transición no es válida (no-op). Requiere m.mu.
func (m *Machine) transitionLocked(e *entry, to State, actor, reason string) bool {
	from := e.s.State
	if from == to || !CanTransition(from, to) {
		return false
	}
	now := m.now.Now()
	e.s.State = to
	e.s.ChangedAt = now
	e.gen++
	m.cancelTimersLocked(e)

	switch to {
	case PendingManual:
		e.s.ReviewDeadline = now.Add(m.cfg.ManualReviewWindow)
	case Verified:
		e.s.ReviewDeadline = time.Time{}
	}

	m.record(e.s.GameID, audit.ActionSessionTransition, string(to), map[string]any{
		"session_id": e.s.ID, "from": string(from), "to": string(to), "actor": actor, "reason": reason,
	})
	m.log.Info("session transition",
		logger.GameID(e.s.GameID), logger.SessionID(e.s.ID), logger.Transition(string(from), string(to)), logger.Reason(reason))

	if to.Terminal() {
		m.retireLocked(e)
		if to == Expired {
			m.expired.Add(1)
		}
		return true
	}
	m.scheduleLocked(e)
	return true
}

// retireLocked quita la sesión de las tablas activas y la archiva. Los códigos
// de una sesión vencida quedan como lápida (validar sigue dando EXPIRED); los de
// cualquier otro final se revocan.
func (m *Machine) retireLocked(e *entry) {
	if m.byGame[e.s.GameID] == e {
		delete(m.byGame, e.s.GameID)
	}
	if m.byChat[e.s.ChatID] == e {
		delete(m.byChat, e.s.ChatID)
	}
	if e.s.State == Expired {
		m.deps.Codes.Expire(e.s.ChatID)
	} else {
		m.deps.Codes.Revoke(e.s.ChatID)
	}
	m.archive = append(m.archive, e.s.clone())
	if over := len(m.archive) - m.cfg.ArchiveSize; over > 0 {
		m.dropArchivedLocked(over)
	}
}

// dropArchivedLocked descarta las n sesiones archivadas más viejas sin copiar
// el resto; append compacta al agotar la capacidad. Requiere m.mu.
func (m *Machine) dropArchivedLocked(n int) {
	clear(m.archive[:n])
	m.archive = m.archive[n:]
}

// lastArchivedLocked retorna la sesión archivada más reciente de gameID.
// Requiere m.mu.
func (m *Machine) lastArchivedLocked(gameID string) (Session, bool) {
	for i := len(m.archive) - 1; i >= 0; i-- {
		if m.archive[i].GameID == gameID {
			return m.archive[i], true
		}
	}
	return Session{}, false
}

// recentlyExpiredLocked indica si la última sesión de gameID terminó en EXPIRED.
// Sigue observándose así hasta que se abra otra sesión o el archivo la descarte.
// Requiere m.mu.
func (m *Machine) recentlyExpiredLocked(gameID string) bool {
	a, ok := m.lastArchivedLocked(gameID)
	return ok && a.State == Expired
}

func (m *Machine) record(actor string, action audit.Action, status string, detail map[string]any) {
	if m.deps.Audit != nil {
		m.deps.Audit.Record(actor, action, status, detail)
	}
}
