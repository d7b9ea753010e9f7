// Package app es la raíz de composición: traduce la configuración en
// componentes del gate, los conecta y maneja su ciclo de vida.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/cache"
	"github.com/dropDatabas3/lobbygate/internal/config"
	"github.com/dropDatabas3/lobbygate/internal/gate/access"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
	"github.com/dropDatabas3/lobbygate/internal/gate/command"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/gate/sweeper"
	"github.com/dropDatabas3/lobbygate/internal/http/controllers"
	mw "github.com/dropDatabas3/lobbygate/internal/http/middlewares"
	"github.com/dropDatabas3/lobbygate/internal/http/router"
	"github.com/dropDatabas3/lobbygate/internal/identity"
	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
	"github.com/dropDatabas3/lobbygate/internal/metrics"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/rate"
	"github.com/dropDatabas3/lobbygate/internal/store"
	"github.com/dropDatabas3/lobbygate/internal/timer"
	migrations "github.com/dropDatabas3/lobbygate/migrations/postgres"
)

// App es la aplicación cableada.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Redis    *rdb.Client
	Pool     *pgxpool.Pool
	Cache    cache.Client
	Timers   *timer.Scheduler
	Audit    *audit.Log
	Codes    *code.Service
	Sessions *session.Machine
	Registry *access.Registry
	Access   *access.Validator
	Verify   *command.Verify
	Sweeper  *sweeper.Sweeper
	Issuer   *jwtx.Issuer

	Registerer *prometheus.Registry
	Handler    http.Handler

	started bool
}

// New construye la aplicación a partir de cfg. Abre las conexiones externas
// configuradas (redis, postgres) y las verifica; no arranca timers ni barridos
// hasta Start.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (a *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a = &App{cfg: cfg, log: logger.OrNamed(log, "app")}
	defer func() {
		if err != nil {
			if a.Audit != nil {
				a.Audit.Close()
			}
			a.closeConns()
		}
	}()

	// 1. External connections
	if cfg.Rate.Backend == "redis" || cfg.Cache.Kind == "redis" {
		a.Redis = rdb.NewClient(&rdb.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return a, fmt.Errorf("redis ping: %w", err)
		}
		a.log.Info("redis connected", logger.String("addr", cfg.Redis.Addr))
	}

	var members store.Members = store.NewMemoryMembers()
	if cfg.Storage.Driver == "postgres" {
		a.Pool, err = store.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return a, fmt.Errorf("postgres: %w", err)
		}
		res, err := store.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, a.Pool)
		if err != nil {
			return a, fmt.Errorf("migrations: %w", err)
		}
		a.log.Info("migrations applied",
			logger.Count(len(res.Applied)),
			logger.Int("skipped", len(res.Skipped)),
			logger.Duration(res.Duration))
		members = store.NewPGMembers(a.Pool)
	}

	a.Cache, err = cache.New(cache.Config{
		Driver:     cfg.Cache.Kind,
		Prefix:     cfg.Redis.Prefix + ":cache:",
		DefaultTTL: cfg.Cache.DefaultTTL,
		Redis:      a.Redis,
	})
	if err != nil {
		return a, err
	}

	// 2. Ambient components
	sinks := []audit.Sink{audit.NewLoggerSink(logger.OrNamed(log, "audit"))}
	if cfg.Audit.Postgres && a.Pool != nil {
		sinks = append(sinks, audit.NewPGSink(a.Pool))
	}
	a.Audit = audit.New(audit.Config{
		MaxEntries: cfg.Audit.MaxEntries,
		MaxAge:     cfg.Audit.MaxAge,
		BatchSize:  cfg.Audit.BatchSize,
	}, log, sinks...)
	a.Timers = timer.New(timer.Config{Workers: cfg.Workers.Size, Queue: cfg.Workers.Queue}, log)

	// 3. Code service
	var (
		validateLimiter rate.Limiter
		transferLimiter rate.Limiter
		journal         store.ReplayJournal = store.NewMemoryJournal()
	)
	if cfg.Rate.Backend == "redis" {
		validateLimiter = rate.NewRedisLimiter(a.Redis, cfg.Redis.Prefix+":rl:validate:", cfg.Rate.Validate.Limit, cfg.Rate.Validate.Window)
		transferLimiter = rate.NewRedisLimiter(a.Redis, cfg.Redis.Prefix+":rl:transfer:", cfg.Rate.Transfer.Limit, cfg.Rate.Transfer.Window)
		journal = store.NewRedisJournal(a.Redis, cfg.Redis.Prefix)
	} else {
		validateLimiter = rate.NewSlidingWindow(cfg.Rate.Validate.Limit, cfg.Rate.Validate.Window)
		transferLimiter = rate.NewSlidingWindow(cfg.Rate.Transfer.Limit, cfg.Rate.Transfer.Window)
	}
	guard := rate.NewGuard(cfg.Rate.Brute.HardThreshold, cfg.Rate.Brute.Window, cfg.Rate.Brute.Cooldown)

	a.Codes = code.New(code.ConfigFrom(cfg.Codes), validateLimiter, guard, journal, a.Audit, log)
	if err := a.Codes.Load(ctx); err != nil {
		return a, fmt.Errorf("load replay journal: %w", err)
	}

	// 4. Session machine
	verifier := identity.Chain{Format: identity.Format{AltPrefix: cfg.Session.AltClientPrefix}}
	if cfg.Identity.BaseURL != "" {
		verifier.Upstream = identity.NewCached(
			identity.NewHTTP(cfg.Identity.BaseURL, cfg.Identity.Timeout),
			a.Cache, cfg.Identity.CacheTTL, log)
	}
	a.Sessions = session.New(session.ConfigFrom(cfg.Session), session.Deps{
		Codes:       a.Codes,
		Verifier:    verifier,
		Members:     members,
		Timers:      a.Timers,
		Audit:       a.Audit,
		MemberCache: a.Cache,
	}, log)

	// 5. Access validator
	policy, err := access.NewPolicy(cfg.Access)
	if err != nil {
		return a, fmt.Errorf("access policy: %w", err)
	}
	a.Registry = access.NewRegistry(policy)
	a.Access = access.New(access.Deps{
		States:       a.Sessions,
		Policy:       policy,
		Registry:     a.Registry,
		Capabilities: access.NewStaticCapabilities(cfg.Access.Capabilities),
		Limiter:      transferLimiter,
		Audit:        a.Audit,
	}, log)
	a.Sessions.SetAccessChecker(a.Access)
	a.Verify = command.NewVerify(a.Sessions, a.Codes, log)

	// 6. Sweeper
	targets := sweeper.Targets{
		Codes:    a.Codes,
		Sessions: a.Sessions,
		Limits:   []sweeper.LimitPruner{a.Access},
	}
	if e, ok := a.Cache.(sweeper.Expirer); ok {
		targets.Caches = append(targets.Caches, e)
	}
	for name, fn := range a.pings() {
		targets.Checks = append(targets.Checks, sweeper.Check{Name: name, Fn: fn})
	}
	a.Sweeper = sweeper.New(sweeper.ConfigFrom(cfg.Sweeper), targets, a.Timers, a.Audit, log)

	// 7. HTTP surface
	if !cfg.Auth.Disabled {
		a.Issuer, err = jwtx.NewIssuer(cfg.Auth.Issuer, cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return a, fmt.Errorf("auth: %w", err)
		}
	} else {
		a.log.Warn("auth disabled: every request runs as admin")
	}

	httpMetrics := mw.NewHTTPMetrics()
	a.Registerer = prometheus.NewRegistry()
	cs := []prometheus.Collector{
		metrics.NewGateCollector(a.Reading),
		metrics.NewPoolCollector(func() *pgxpool.Pool { return a.Pool }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	cs = append(cs, httpMetrics.Collectors()...)
	if err := metrics.Register(a.Registerer, cs...); err != nil {
		return a, fmt.Errorf("metrics: %w", err)
	}

	ctrls := controllers.New(controllers.Deps{
		Sessions: a.Sessions,
		Access:   a.Access,
		Registry: a.Registry,
		Verify:   a.Verify,
		Sweeper:  a.Sweeper,
		Audit:    a.Audit,
		Snapshot: func(context.Context) any { return a.Snapshot() },
		Ready:    a.Ready,
		Version:  cfg.App.Version,
	})
	a.Handler = router.New(router.Deps{
		Controllers: ctrls,
		Issuer:      a.Issuer,
		Metrics:     promhttp.HandlerFor(a.Registerer, promhttp.HandlerOpts{}),
		HTTPMetrics: httpMetrics,
	})

	a.log.Info("app wired",
		logger.String("rate_backend", cfg.Rate.Backend),
		logger.String("cache", cfg.Cache.Kind),
		logger.String("storage", cfg.Storage.Driver))
	return a, nil
}

// pings son los chequeos de conectividad de las dependencias externas.
func (a *App) pings() map[string]func(context.Context) error {
	out := map[string]func(context.Context) error{}
	if a.Redis != nil {
		out["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.Pool != nil {
		out["postgres"] = a.Pool.Ping
	}
	return out
}

// Start arranca el pool de timers y los barridos periódicos.
func (a *App) Start() {
	if a.started {
		return
	}
	a.started = true
	a.Timers.Start()
	a.Sweeper.Start()
	a.log.Info("app started")
}

// Ready retorna el error de cada componente que no está listo.
func (a *App) Ready(ctx context.Context) map[string]error {
	out := map[string]error{}
	if !a.Codes.Initialized() {
		out["codes"] = errors.New("not initialized")
	}
	if !a.Sessions.Initialized() {
		out["sessions"] = errors.New("not initialized")
	}
	if a.started && !a.Timers.Running() {
		out["timers"] = errors.New("not running")
	}
	for name, ping := range a.pings() {
		if err := ping(ctx); err != nil {
			out[name] = err
		}
	}
	return out
}

// AuditStats resume el log de auditoría.
type AuditStats struct {
	Retained int `json:"retained"`
	Evicted  int `json:"evicted"`
	Dropped  int `json:"dropped"`
}

// Snapshot es la vista de monitoreo del gate.
type Snapshot struct {
	At                 time.Time                 `json:"at"`
	SessionsByState    map[string]int            `json:"sessions_by_state"`
	ActiveSessions     int                       `json:"active_sessions"`
	CodesOutstanding   int                       `json:"codes_outstanding"`
	ReplaySize         int                       `json:"replay_size"`
	BlockedIdentifiers int                       `json:"blocked_identifiers"`
	Audit              AuditStats                `json:"audit"`
	PendingTimers      int                       `json:"pending_timers"`
	PendingPersists    int                       `json:"pending_persists"`
	Promoted           int64                     `json:"promoted"`
	Expired            int64                     `json:"expired"`
	Decisions          map[string]int64          `json:"decisions"`
	Sweeps             map[string]sweeper.Totals `json:"sweeps"`
	RecentSweeps       []sweeper.Result          `json:"recent_sweeps"`
	Destinations       map[string]access.Status  `json:"destinations"`
}

const recentSweeps = 10

// Snapshot lee el estado actual de todos los componentes.
func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		At:                 time.Now().UTC(),
		SessionsByState:    map[string]int{},
		ActiveSessions:     a.Sessions.Active(),
		CodesOutstanding:   a.Codes.Outstanding(),
		ReplaySize:         a.Codes.ReplaySize(),
		BlockedIdentifiers: a.Codes.BlockedCount(),
		PendingTimers:      a.Timers.Pending(),
		PendingPersists:    a.Sessions.PendingPersists(),
		Decisions:          map[string]int64{},
		Sweeps:             map[string]sweeper.Totals{},
		Destinations:       a.Registry.Snapshot(),
	}
	for st, n := range a.Sessions.CountByState() {
		s.SessionsByState[string(st)] = n
	}
	s.Audit.Retained, s.Audit.Evicted, s.Audit.Dropped = a.Audit.Stats()
	s.Promoted, s.Expired = a.Sessions.Counters()
	for k, n := range a.Access.Counters() {
		s.Decisions[string(k)] = n
	}
	for k, t := range a.Sweeper.Totals() {
		s.Sweeps[string(k)] = t
	}
	stats := a.Sweeper.Stats()
	if len(stats) > recentSweeps {
		stats = stats[len(stats)-recentSweeps:]
	}
	s.RecentSweeps = stats
	return s
}

// Reading traduce el snapshot a la vista numérica de los collectors.
func (a *App) Reading() metrics.Reading {
	s := a.Snapshot()
	r := metrics.Reading{
		SessionsByState:    s.SessionsByState,
		CodesOutstanding:   s.CodesOutstanding,
		ReplaySize:         s.ReplaySize,
		BlockedIdentifiers: s.BlockedIdentifiers,
		AuditEntries:       s.Audit.Retained,
		AuditDropped:       s.Audit.Dropped,
		PendingTimers:      s.PendingTimers,
		PendingPersists:    s.PendingPersists,
		Promoted:           s.Promoted,
		Expired:            s.Expired,
		Decisions:          s.Decisions,
		Sweeps:             make(map[string]metrics.SweepTotals, len(s.Sweeps)),
	}
	for k, t := range s.Sweeps {
		r.Sweeps[k] = metrics.SweepTotals{Runs: t.Runs, Failures: t.Failures, Removed: t.Removed}
	}
	return r
}

// Shutdown detiene la aplicación en orden: barrido final, sesiones, timers,
// auditoría y conexiones. El barrido final corre con la máquina todavía viva
// para que el chequeo de salud y los reintentos de membresía sean válidos.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Sweeper.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweeper: %w", err))
	}
	a.Sessions.Shutdown()
	if err := a.Timers.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("timers: %w", err))
	}
	a.Audit.Close()
	a.closeConns()
	a.log.Info("app stopped")
	return errors.Join(errs...)
}

func (a *App) closeConns() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("cache close failed", logger.Err(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn("redis close failed", logger.Err(err))
		}
	}
}
