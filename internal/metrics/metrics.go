// Package metrics expone el estado del gate a Prometheus. Los collectors leen
// una Reading en cada scrape; ningún collector modifica estado.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Reading es la vista numérica del snapshot del gate.
type Reading struct {
	SessionsByState    map[string]int
	CodesOutstanding   int
	ReplaySize         int
	BlockedIdentifiers int
	AuditEntries       int
	AuditDropped       int
	PendingTimers      int
	PendingPersists    int
	Promoted           int64
	Expired            int64
	Decisions          map[string]int64 // ALLOW | DENY | REDIRECT
	Sweeps             map[string]SweepTotals
}

// SweepTotals son los agregados de un tipo de barrido.
type SweepTotals struct {
	Runs     int64
	Failures int64
	Removed  int64
}

// GateCollector publica una Reading como gauges y counters constantes.
type GateCollector struct {
	read func() Reading

	sessions  *prometheus.Desc
	codes     *prometheus.Desc
	replay    *prometheus.Desc
	blocked   *prometheus.Desc
	audit     *prometheus.Desc
	dropped   *prometheus.Desc
	timers    *prometheus.Desc
	persists  *prometheus.Desc
	promoted  *prometheus.Desc
	expired   *prometheus.Desc
	decisions *prometheus.Desc
	sweeps    *prometheus.Desc
	sweepFail *prometheus.Desc
	removed   *prometheus.Desc
}

// NewGateCollector crea el collector sobre read.
func NewGateCollector(read func() Reading) *GateCollector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("lobbygate_"+name, help, labels, nil)
	}
	return &GateCollector{
		read:      read,
		sessions:  d("sessions", "Sesiones por estado", "state"),
		codes:     d("codes_outstanding", "Códigos vivos sin consumir"),
		replay:    d("replay_set_size", "Huellas en el set anti-replay"),
		blocked:   d("blocked_identifiers", "Identificadores bloqueados por fuerza bruta"),
		audit:     d("audit_entries", "Entradas retenidas en el log de auditoría"),
		dropped:   d("audit_sink_dropped_total", "Entradas descartadas por sinks saturados"),
		timers:    d("timers_pending", "Timers programados pendientes"),
		persists:  d("member_persists_pending", "Membresías a reintentar"),
		promoted:  d("members_promoted_total", "Sesiones promovidas a MEMBER"),
		expired:   d("sessions_expired_total", "Sesiones vencidas"),
		decisions: d("access_decisions_total", "Decisiones de acceso por tipo", "decision"),
		sweeps:    d("sweeps_total", "Barridos ejecutados por tipo", "kind"),
		sweepFail: d("sweep_failures_total", "Barridos fallidos por tipo", "kind"),
		removed:   d("sweep_removed_total", "Elementos retirados por barridos", "kind"),
	}
}

func (c *GateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.sessions, c.codes, c.replay, c.blocked, c.audit, c.dropped, c.timers,
		c.persists, c.promoted, c.expired, c.decisions, c.sweeps, c.sweepFail, c.removed,
	} {
		ch <- d
	}
}

func (c *GateCollector) Collect(ch chan<- prometheus.Metric) {
	r := c.read()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	for st, n := range r.SessionsByState {
		gauge(c.sessions, float64(n), st)
	}
	gauge(c.codes, float64(r.CodesOutstanding))
	gauge(c.replay, float64(r.ReplaySize))
	gauge(c.blocked, float64(r.BlockedIdentifiers))
	gauge(c.audit, float64(r.AuditEntries))
	counter(c.dropped, float64(r.AuditDropped))
	gauge(c.timers, float64(r.PendingTimers))
	gauge(c.persists, float64(r.PendingPersists))
	counter(c.promoted, float64(r.Promoted))
	counter(c.expired, float64(r.Expired))
	for k, n := range r.Decisions {
		counter(c.decisions, float64(n), k)
	}
	for k, t := range r.Sweeps {
		counter(c.sweeps, float64(t.Runs), k)
		counter(c.sweepFail, float64(t.Failures), k)
		counter(c.removed, float64(t.Removed), k)
	}
}

// poolCollector expone el uso del pool de postgres.
type poolCollector struct {
	pool func() *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
}

// NewPoolCollector crea el collector del pool; pool puede retornar nil.
func NewPoolCollector(pool func() *pgxpool.Pool) prometheus.Collector {
	return &poolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("lobbygate_pg_acquired", "Conexiones adquiridas", nil, nil),
		idle:     prometheus.NewDesc("lobbygate_pg_idle", "Conexiones inactivas", nil, nil),
		total:    prometheus.NewDesc("lobbygate_pg_total", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	p := c.pool()
	if p == nil {
		return
	}
	stat := p.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
}

// Register registra los collectors en reg (o el default si es nil),
// ignorando los que ya estaban registrados.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
