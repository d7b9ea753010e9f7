package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/lobbygate/internal/validation"
)

// Config es la configuración completa de lobbygate.
// Todos los campos tienen defaults seguros (ver applyDefaults) y se validan al cargar.
type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	// Auth protege la API de colaboradores (proxy y bot) con tokens HS256.
	Auth struct {
		Secret   string        `yaml:"secret"`
		Issuer   string        `yaml:"issuer"`
		TokenTTL time.Duration `yaml:"token_ttl"`
		Disabled bool          `yaml:"disabled"` // sólo dev
	} `yaml:"auth"`

	Session Session `yaml:"session"`
	Codes   Codes   `yaml:"codes"`
	Rate    Rate    `yaml:"rate"`
	Audit   Audit   `yaml:"audit"`
	Sweeper Sweeper `yaml:"sweeper"`
	Workers Workers `yaml:"workers"`
	Access  Access  `yaml:"access"`

	Identity struct {
		// BaseURL del servicio upstream de nombres de usuario; vacío = sólo formato.
		BaseURL  string        `yaml:"base_url"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"identity"`

	Cache struct {
		Kind       string        `yaml:"kind"` // memory | redis
		DefaultTTL time.Duration `yaml:"default_ttl"`
	} `yaml:"cache"`

	Storage struct {
		Driver string `yaml:"driver"` // memory | postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

// Session agrupa las ventanas del ciclo de vida de la sesión.
type Session struct {
	PurgatoryWindow      time.Duration `yaml:"purgatory_window"`
	QuarantineWindow     time.Duration `yaml:"quarantine_window"`
	PromotionDelay       time.Duration `yaml:"promotion_delay"`
	ManualReviewWindow   time.Duration `yaml:"manual_review_window"`
	// SoftFailureThreshold: fallos de canje por sesión que la pasan a PENDING_MANUAL.
	SoftFailureThreshold int           `yaml:"soft_failure_threshold"`
	ArchiveSize          int           `yaml:"archive_size"`
	ArchiveRetention     time.Duration `yaml:"archive_retention"`
	AltClientPrefix      string        `yaml:"alt_client_prefix"`
	CodeTier             string        `yaml:"code_tier"`
	MemberCacheTTL       time.Duration `yaml:"member_cache_ttl"`
}

// CodeTier define largo (hex) y vida de un código.
type CodeTier struct {
	Length   int           `yaml:"length"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// Codes configura el servicio de códigos.
type Codes struct {
	Tiers               map[string]CodeTier `yaml:"tiers"`
	PerUserCap          int                 `yaml:"per_user_cap"`
	MaxGenerateAttempts int                 `yaml:"max_generate_attempts"`
	ReplayRetention     time.Duration       `yaml:"replay_retention"`
	ExpiredRetention    time.Duration       `yaml:"expired_retention"`
	// FingerprintKey se usa para las huellas blake2b de códigos consumidos.
	FingerprintKey      string              `yaml:"fingerprint_key"`
}

// Limit es un par límite/ventana.
type Limit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Rate configura los limitadores.
type Rate struct {
	Backend  string `yaml:"backend"` // memory | redis
	Validate Limit  `yaml:"validate"`
	Transfer Limit  `yaml:"transfer"`
	Brute    struct {
		HardThreshold int           `yaml:"hard_threshold"`
		Window        time.Duration `yaml:"window"`
		Cooldown      time.Duration `yaml:"cooldown"`
	} `yaml:"brute_force"`
}

// Audit configura la retención del log de auditoría.
type Audit struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`
	Postgres   bool          `yaml:"postgres"`
	BatchSize  int           `yaml:"batch_size"`
}

// Sweeper configura las cadencias de limpieza.
type Sweeper struct {
	Fast             time.Duration `yaml:"fast"`
	Medium           time.Duration `yaml:"medium"`
	Slow             time.Duration `yaml:"slow"`
	StatsWindow      int           `yaml:"stats_window"`
	ShutdownWait     time.Duration `yaml:"shutdown_wait"`
	// MemoryPressureMB dispara el barrido de emergencia; 0 lo desactiva.
	MemoryPressureMB int           `yaml:"memory_pressure_mb"`
}

// Workers configura el pool de timers.
type Workers struct {
	Size  int `yaml:"size"`
	Queue int `yaml:"queue"`
}

// DestinationClass es un grupo de destinos con el mismo requisito de acceso.
type DestinationClass struct {
	// MinState: VERIFIED | MEMBER. Ignorado para clases lobby.
	MinState     string   `yaml:"min_state"`
	Capabilities []string `yaml:"capabilities"`
	Lobby        bool     `yaml:"lobby"`
}

// Access es la política de destinos (propiedad del colaborador, el core sólo la lee).
type Access struct {
	DefaultLobby      string                      `yaml:"default_lobby"`
	FallbackLobbies   []string                    `yaml:"fallback_lobbies"`
	Classes           map[string]DestinationClass `yaml:"classes"`
	Destinations      map[string]string           `yaml:"destinations"` // destino -> clase
	Capabilities      map[string][]string         `yaml:"capabilities"` // capability -> game ids
	MaintenanceBypass string                      `yaml:"maintenance_bypass"`
}

// Load lee el YAML en path, aplica defaults, overrides por env y valida.
// Si path está vacío o no existe se usan sólo defaults + env.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults
		default:
			return nil, err
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default retorna una configuración con todos los defaults aplicados.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "lobbygate"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "lobbygate"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 720 * time.Hour
	}

	s := &c.Session
	if s.PurgatoryWindow == 0 {
		s.PurgatoryWindow = 10 * time.Minute
	}
	if s.QuarantineWindow == 0 {
		s.QuarantineWindow = 5 * time.Minute
	}
	if s.PromotionDelay == 0 {
		s.PromotionDelay = time.Minute
	}
	if s.ManualReviewWindow == 0 {
		s.ManualReviewWindow = 24 * time.Hour
	}
	if s.SoftFailureThreshold == 0 {
		s.SoftFailureThreshold = 5
	}
	if s.ArchiveSize == 0 {
		s.ArchiveSize = 1000
	}
	if s.ArchiveRetention == 0 {
		s.ArchiveRetention = 24 * time.Hour
	}
	if s.AltClientPrefix == "" {
		s.AltClientPrefix = "."
	}
	if s.CodeTier == "" {
		s.CodeTier = "standard"
	}
	if s.MemberCacheTTL == 0 {
		s.MemberCacheTTL = 10 * time.Minute
	}

	if c.Codes.Tiers == nil {
		c.Codes.Tiers = map[string]CodeTier{
			"standard": {Length: 8, Lifetime: 10 * time.Minute},
			"elevated": {Length: 12, Lifetime: 5 * time.Minute},
			"critical": {Length: 16, Lifetime: 3 * time.Minute},
		}
	}
	if c.Codes.PerUserCap == 0 {
		c.Codes.PerUserCap = 3
	}
	if c.Codes.MaxGenerateAttempts == 0 {
		c.Codes.MaxGenerateAttempts = 10
	}
	if c.Codes.ReplayRetention == 0 {
		c.Codes.ReplayRetention = 24 * time.Hour
	}
	if c.Codes.ExpiredRetention == 0 {
		c.Codes.ExpiredRetention = time.Hour
	}

	if c.Rate.Backend == "" {
		c.Rate.Backend = "memory"
	}
	if c.Rate.Validate.Limit == 0 {
		c.Rate.Validate.Limit = 10
	}
	if c.Rate.Validate.Window == 0 {
		c.Rate.Validate.Window = 5 * time.Minute
	}
	if c.Rate.Transfer.Limit == 0 {
		c.Rate.Transfer.Limit = 20
	}
	if c.Rate.Transfer.Window == 0 {
		c.Rate.Transfer.Window = time.Minute
	}
	if c.Rate.Brute.HardThreshold == 0 {
		c.Rate.Brute.HardThreshold = 20
	}
	if c.Rate.Brute.Window == 0 {
		c.Rate.Brute.Window = time.Hour
	}
	if c.Rate.Brute.Cooldown == 0 {
		c.Rate.Brute.Cooldown = 30 * time.Minute
	}

	if c.Audit.MaxEntries == 0 {
		c.Audit.MaxEntries = 10000
	}
	if c.Audit.MaxAge == 0 {
		c.Audit.MaxAge = 72 * time.Hour
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}

	if c.Sweeper.Fast == 0 {
		c.Sweeper.Fast = 30 * time.Second
	}
	if c.Sweeper.Medium == 0 {
		c.Sweeper.Medium = 5 * time.Minute
	}
	if c.Sweeper.Slow == 0 {
		c.Sweeper.Slow = time.Hour
	}
	if c.Sweeper.StatsWindow == 0 {
		c.Sweeper.StatsWindow = 100
	}
	if c.Sweeper.ShutdownWait == 0 {
		c.Sweeper.ShutdownWait = 10 * time.Second
	}

	if c.Workers.Size == 0 {
		c.Workers.Size = 4
	}
	if c.Workers.Queue == 0 {
		c.Workers.Queue = 256
	}

	a := &c.Access
	if a.DefaultLobby == "" {
		a.DefaultLobby = "lobby"
	}
	if a.Classes == nil {
		a.Classes = map[string]DestinationClass{
			"lobby":    {Lobby: true},
			"survival": {MinState: "VERIFIED"},
			"staff":    {MinState: "MEMBER", Capabilities: []string{"staff"}},
		}
	}
	if a.Destinations == nil {
		a.Destinations = map[string]string{
			"lobby":    "lobby",
			"survival": "survival",
			"staff":    "staff",
		}
	}
	if a.MaintenanceBypass == "" {
		a.MaintenanceBypass = "maintenance.bypass"
	}

	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 5 * time.Second
	}
	if c.Identity.CacheTTL == 0 {
		c.Identity.CacheTTL = 15 * time.Minute
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 2 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "lobbygate"
	}
}

// applyEnvOverrides aplica LOBBYGATE_* sobre lo leído del YAML.
// En prod nunca se permite auth deshabilitada.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("LOBBYGATE_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOBBYGATE_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LOBBYGATE_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOBBYGATE_AUTH_SECRET"); ok {
		c.Auth.Secret = v
	}
	if v, ok := getEnvStr("LOBBYGATE_STORAGE_DSN"); ok {
		c.Storage.DSN = v
		if c.Storage.Driver == "memory" {
			c.Storage.Driver = "postgres"
		}
	}
	if v, ok := getEnvStr("LOBBYGATE_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("LOBBYGATE_REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("LOBBYGATE_REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("LOBBYGATE_IDENTITY_URL"); ok {
		c.Identity.BaseURL = v
	}
	if v, ok := getEnvStr("LOBBYGATE_FINGERPRINT_KEY"); ok {
		c.Codes.FingerprintKey = v
	}
	if v, ok := getEnvDuration("LOBBYGATE_PURGATORY_WINDOW"); ok {
		c.Session.PurgatoryWindow = v
	}
	if v, ok := getEnvDuration("LOBBYGATE_QUARANTINE_WINDOW"); ok {
		c.Session.QuarantineWindow = v
	}
	if strings.EqualFold(c.App.Env, "prod") {
		c.Auth.Disabled = false
	}
}

// Validate rechaza duraciones no positivas, códigos sin largo y políticas incoherentes.
func (c *Config) Validate() error {
	var errs []error
	pos := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %s)", name, d))
		}
	}
	posInt := func(name string, n int) {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %d)", name, n))
		}
	}

	pos("session.purgatory_window", c.Session.PurgatoryWindow)
	pos("session.quarantine_window", c.Session.QuarantineWindow)
	pos("session.promotion_delay", c.Session.PromotionDelay)
	pos("session.manual_review_window", c.Session.ManualReviewWindow)
	pos("session.archive_retention", c.Session.ArchiveRetention)
	pos("session.member_cache_ttl", c.Session.MemberCacheTTL)
	posInt("session.soft_failure_threshold", c.Session.SoftFailureThreshold)
	posInt("session.archive_size", c.Session.ArchiveSize)

	if len(c.Codes.Tiers) == 0 {
		errs = append(errs, errors.New("codes.tiers must not be empty"))
	}
	for name, t := range c.Codes.Tiers {
		if t.Length < 4 || t.Length > 64 {
			errs = append(errs, fmt.Errorf("codes.tiers.%s.length must be in [4,64] (got %d)", name, t.Length))
		}
		pos("codes.tiers."+name+".lifetime", t.Lifetime)
	}
	if _, ok := c.Codes.Tiers[c.Session.CodeTier]; !ok {
		errs = append(errs, fmt.Errorf("session.code_tier %q is not a configured tier", c.Session.CodeTier))
	}
	posInt("codes.per_user_cap", c.Codes.PerUserCap)
	posInt("codes.max_generate_attempts", c.Codes.MaxGenerateAttempts)
	pos("codes.replay_retention", c.Codes.ReplayRetention)
	pos("codes.expired_retention", c.Codes.ExpiredRetention)

	posInt("rate.validate.limit", c.Rate.Validate.Limit)
	pos("rate.validate.window", c.Rate.Validate.Window)
	posInt("rate.transfer.limit", c.Rate.Transfer.Limit)
	pos("rate.transfer.window", c.Rate.Transfer.Window)
	pos("rate.brute_force.window", c.Rate.Brute.Window)
	pos("rate.brute_force.cooldown", c.Rate.Brute.Cooldown)
	if c.Rate.Brute.HardThreshold <= c.Rate.Validate.Limit {
		errs = append(errs, fmt.Errorf("rate.brute_force.hard_threshold (%d) must exceed rate.validate.limit (%d)",
			c.Rate.Brute.HardThreshold, c.Rate.Validate.Limit))
	}
	if c.Session.SoftFailureThreshold >= c.Rate.Brute.HardThreshold {
		errs = append(errs, fmt.Errorf("session.soft_failure_threshold (%d) must be below rate.brute_force.hard_threshold (%d)",
			c.Session.SoftFailureThreshold, c.Rate.Brute.HardThreshold))
	}
	switch c.Rate.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rate.backend %q is not supported", c.Rate.Backend))
	}

	posInt("audit.max_entries", c.Audit.MaxEntries)
	pos("audit.max_age", c.Audit.MaxAge)
	posInt("audit.batch_size", c.Audit.BatchSize)

	pos("sweeper.fast", c.Sweeper.Fast)
	pos("sweeper.medium", c.Sweeper.Medium)
	pos("sweeper.slow", c.Sweeper.Slow)
	pos("sweeper.shutdown_wait", c.Sweeper.ShutdownWait)
	posInt("sweeper.stats_window", c.Sweeper.StatsWindow)
	if c.Sweeper.MemoryPressureMB < 0 {
		errs = append(errs, errors.New("sweeper.memory_pressure_mb must be >= 0"))
	}

	posInt("workers.size", c.Workers.Size)
	posInt("workers.queue", c.Workers.Queue)

	errs = append(errs, c.validateAccess()...)

	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q is not supported", c.Cache.Kind))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Audit.Postgres && c.Storage.Driver != "postgres" {
		errs = append(errs, errors.New("audit.postgres requires storage.driver=postgres"))
	}
	if !c.Auth.Disabled && len(c.Auth.Secret) < 32 && strings.EqualFold(c.App.Env, "prod") {
		errs = append(errs, errors.New("auth.secret must be at least 32 bytes in prod"))
	}
	pos("identity.timeout", c.Identity.Timeout)
	pos("identity.cache_ttl", c.Identity.CacheTTL)

	return errors.Join(errs...)
}

func (c *Config) validateAccess() []error {
	var errs []error
	a := c.Access
	lobbyClass := func(dest string) bool {
		cls, ok := a.Destinations[dest]
		if !ok {
			return false
		}
		return a.Classes[cls].Lobby
	}
	if !lobbyClass(a.DefaultLobby) {
		errs = append(errs, fmt.Errorf("access.default_lobby %q must be a destination of a lobby class", a.DefaultLobby))
	}
	for _, l := range a.FallbackLobbies {
		if !lobbyClass(l) {
			errs = append(errs, fmt.Errorf("access.fallback_lobbies: %q is not a lobby destination", l))
		}
	}
	for dest, cls := range a.Destinations {
		if !validation.ValidDestination(dest) {
			errs = append(errs, fmt.Errorf("access.destinations: invalid destination id %q", dest))
		}
		if _, ok := a.Classes[cls]; !ok {
			errs = append(errs, fmt.Errorf("access.destinations.%s references unknown class %q", dest, cls))
		}
	}
	for name, cls := range a.Classes {
		if cls.Lobby {
			continue
		}
		for _, c := range cls.Capabilities {
			if !validation.ValidCapability(c) {
				errs = append(errs, fmt.Errorf("access.classes.%s: invalid capability %q", name, c))
			}
		}
		switch strings.ToUpper(cls.MinState) {
		case "VERIFIED", "MEMBER":
		default:
			errs = append(errs, fmt.Errorf("access.classes.%s.min_state must be VERIFIED or MEMBER (got %q)", name, cls.MinState))
		}
	}
	for c := range a.Capabilities {
		if !validation.ValidCapability(c) {
			errs = append(errs, fmt.Errorf("access.capabilities: invalid capability %q", c))
		}
	}
	if !validation.ValidCapability(a.MaintenanceBypass) {
		errs = append(errs, fmt.Errorf("access.maintenance_bypass: invalid capability %q", a.MaintenanceBypass))
	}
	return errs
}

func getEnvStr(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func getEnvInt(k string) (int, bool) {
	v, ok := getEnvStr(k)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvDuration(k string) (time.Duration, bool) {
	v, ok := getEnvStr(k)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
