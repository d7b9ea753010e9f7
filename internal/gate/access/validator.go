// Package access decide si una identidad puede moverse a un destino del
// network. El orden de evaluación es fijo: rate limit, estado de sesión,
// requisitos de la clase destino y por último vida/mantenimiento del destino.
package access

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/rate"
)

// Origin es quién inicia el cambio de destino.
type Origin string

const (
	OriginPlayer     Origin = "player"
	OriginSystem     Origin = "system"     // movimientos internos; sin rate limit
	OriginDisconnect Origin = "disconnect" // caída involuntaria del destino
)

// Kind es el tipo de decisión.
type Kind string

const (
	Allow    Kind = "ALLOW"
	Deny     Kind = "DENY"
	Redirect Kind = "REDIRECT"
)

// Decision es el resultado de CheckAccess. Target sólo se completa en REDIRECT.
type Decision struct {
	Kind   Kind          `json:"decision"`
	Reason domain.Reason `json:"reason,omitempty"`
	Target string        `json:"target,omitempty"`
}

func allow() Decision               { return Decision{Kind: Allow} }
func deny(r domain.Reason) Decision { return Decision{Kind: Deny, Reason: r} }

// Allowed indica si la decisión es ALLOW.
func (d Decision) Allowed() bool { return d.Kind == Allow }

func (d Decision) String() string {
	switch d.Kind {
	case Deny:
		return "DENY(" + d.Reason.String() + ")"
	case Redirect:
		return "REDIRECT(" + d.Target + "," + d.Reason.String() + ")"
	default:
		return string(d.Kind)
	}
}

// Request es un intento de cambio de destino.
type Request struct {
	GameID string `json:"game_id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Origin Origin `json:"origin"`
}

// StateReader es la vista de sólo lectura del estado de sesión.
type StateReader interface {
	State(ctx context.Context, gameID string) (session.State, error)
}

// Deps agrupa los colaboradores del validador.
type Deps struct {
	States       StateReader
	Policy       *Policy
	Registry     *Registry
	Capabilities Capabilities
	Limiter      rate.Limiter // opcional
	Audit        *audit.Log   // opcional
}

// Validator implementa CheckAccess. Seguro para uso concurrente; no guarda
// estado propio salvo contadores.
type Validator struct {
	deps Deps
	log  *zap.Logger

	allowed    atomic.Int64
	denied     atomic.Int64
	redirected atomic.Int64
}

// New construye el validador. Policy y States son obligatorios.
func New(deps Deps, log *zap.Logger) *Validator {
	if deps.Registry == nil {
		deps.Registry = NewRegistry(deps.Policy)
	}
	if deps.Capabilities == nil {
		deps.Capabilities = NewStaticCapabilities(nil)
	}
	return &Validator{deps: deps, log: logger.OrNamed(log, "access")}
}

// CheckAccess evalúa req y audita la decisión.
func (v *Validator) CheckAccess(ctx context.Context, req Request) Decision {
	req.GameID = strings.TrimSpace(req.GameID)
	d, st := v.evaluate(ctx, req)
	v.observe(req, d, st)
	return d
}

func (v *Validator) evaluate(ctx context.Context, req Request) (Decision, session.State) {
	if req.GameID == "" {
		return deny(domain.ReasonInvalidIdentity), ""
	}

	// 1. rate limit
	if req.Origin != OriginSystem && v.deps.Limiter != nil {
		res, err := v.deps.Limiter.Allow(ctx, "transfer:"+req.GameID)
		switch {
		case err != nil:
			v.log.Warn("transfer limiter unavailable, allowing", logger.GameID(req.GameID), logger.Err(err))
		case !res.Allowed:
			return deny(domain.ReasonRateLimited), ""
		}
	}

	class, ok := v.deps.Policy.ClassOf(req.Target)
	if !ok {
		return deny(domain.ReasonUnknownDestination), ""
	}

	// 2. estado
	st, err := v.deps.States.State(ctx, req.GameID)
	if err != nil {
		v.log.Error("state read failed", logger.GameID(req.GameID), logger.Err(err))
		return v.redirect(req, domain.ReasonSystemError), st
	}
	if !class.Lobby {
		switch st {
		case session.Verified, session.Member:
		case session.Quarantine:
			return v.redirect(req, domain.ReasonQuarantineMode), st
		case session.PendingManual:
			return v.redirect(req, domain.ReasonPendingReview), st
		case session.Banned:
			return v.redirect(req, domain.ReasonBanned), st
		default:
			return v.redirect(req, domain.ReasonNotAuthenticated), st
		}

		// 3. requisitos de la clase
		if class.MinState == session.Member && st != session.Member {
			return v.redirect(req, domain.ReasonPromotionPending), st
		}
		for _, c := range class.Capabilities {
			if !v.deps.Capabilities.Has(ctx, req.GameID, c) {
				return deny(domain.ReasonInsufficientPerm), st
			}
		}
	}

	// 4. vida del destino
	status, _ := v.deps.Registry.Get(req.Target)
	if !status.Online {
		if class.Lobby {
			return v.redirect(req, domain.ReasonOffline), st
		}
		return deny(domain.ReasonOffline), st
	}
	if status.Maintenance {
		bypass := v.deps.Policy.MaintenanceBypass()
		if bypass == "" || !v.deps.Capabilities.Has(ctx, req.GameID, bypass) {
			if class.Lobby {
				return v.redirect(req, domain.ReasonMaintenance), st
			}
			return deny(domain.ReasonMaintenance), st
		}
	}
	return allow(), st
}

// redirect manda al primer lobby vivo distinto del destino pedido. Si el
// jugador ya está en ese lobby la decisión es DENY (se queda donde está); sin
// lobbies vivos también es DENY.
func (v *Validator) redirect(req Request, reason domain.Reason) Decision {
	lobby := v.liveLobby(req.Target)
	if lobby == "" || lobby == req.Source {
		return deny(reason)
	}
	return Decision{Kind: Redirect, Reason: reason, Target: lobby}
}

func (v *Validator) liveLobby(exclude string) string {
	for _, l := range v.deps.Policy.Lobbies() {
		if l != exclude && v.deps.Registry.Live(l) {
			return l
		}
	}
	return ""
}

// Fallback resuelve a dónde mover a un jugador cuyo destino from se cayó.
func (v *Validator) Fallback(ctx context.Context, gameID, from string) Decision {
	req := Request{GameID: strings.TrimSpace(gameID), Source: from, Target: from, Origin: OriginDisconnect}
	d := deny(domain.ReasonOffline)
	if lobby := v.liveLobby(from); lobby != "" {
		d = Decision{Kind: Redirect, Reason: domain.ReasonOffline, Target: lobby}
	}
	st, _ := v.deps.States.State(ctx, req.GameID)
	v.observe(req, d, st)
	return d
}

// CanAccess responde si gameID cumple los requisitos de la clase, sin
// rate limit, sin auditar y sin mirar la vida de los destinos.
func (v *Validator) CanAccess(ctx context.Context, gameID, className string) bool {
	class, ok := v.deps.Policy.Class(className)
	if !ok {
		return false
	}
	st, err := v.deps.States.State(ctx, gameID)
	if err != nil || st == session.Banned {
		return false
	}
	if class.Lobby {
		return true
	}
	if st != session.Verified && st != session.Member {
		return false
	}
	if class.MinState == session.Member && st != session.Member {
		return false
	}
	for _, c := range class.Capabilities {
		if !v.deps.Capabilities.Has(ctx, gameID, c) {
			return false
		}
	}
	return true
}

// Counters retorna el total de decisiones por tipo.
func (v *Validator) Counters() map[Kind]int64 {
	return map[Kind]int64{
		Allow:    v.allowed.Load(),
		Deny:     v.denied.Load(),
		Redirect: v.redirected.Load(),
	}
}

// PruneLimits poda ventanas vencidas del limitador si es de memoria.
func (v *Validator) PruneLimits(now time.Time) int {
	if p, ok := v.deps.Limiter.(interface{ Prune(time.Time) int }); ok {
		return p.Prune(now)
	}
	return 0
}

func (v *Validator) observe(req Request, d Decision, st session.State) {
	switch d.Kind {
	case Allow:
		v.allowed.Add(1)
	case Deny:
		v.denied.Add(1)
	case Redirect:
		v.redirected.Add(1)
	}
	if v.deps.Audit != nil {
		detail := map[string]any{
			"source": req.Source,
			"target": req.Target,
			"origin": string(req.Origin),
			"state":  string(st),
		}
		if d.Reason != domain.ReasonNone {
			detail["reason"] = d.Reason.String()
		}
		if d.Target != "" {
			detail["redirect"] = d.Target
		}
		v.deps.Audit.Record(req.GameID, audit.ActionAccessDecision, string(d.Kind), detail)
	}
	v.log.Debug("access decision",
		logger.GameID(req.GameID),
		logger.Destination(req.Target),
		logger.Result(d.String()),
		logger.State(string(st)),
	)
}
