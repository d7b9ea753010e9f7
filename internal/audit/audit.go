// Package audit mantiene el rastro append-only de transiciones, acciones sobre
// códigos y decisiones de acceso. El log en memoria es acotado (MaxEntries,
// MaxAge) y replica cada entrada a los sinks configurados de forma asíncrona.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// Action es el tipo de evento auditado.
type Action string

const (
	ActionSessionStart      Action = "session.start"
	ActionSessionTransition Action = "session.transition"
	ActionSessionReject     Action = "session.reject"
	ActionCodeIssue         Action = "code.issue"
	ActionCodeEvict         Action = "code.evict"
	ActionCodeRevoke        Action = "code.revoke"
	ActionCodeValidate      Action = "code.validate"
	ActionAccessDecision    Action = "access.decision"
	ActionMemberPersist     Action = "member.persist"
	ActionSweep             Action = "sweeper.run"
	ActionModeration        Action = "moderation"
)

// Entry es un registro inmutable del log.
type Entry struct {
	ID     string         `json:"id"`
	Seq    uint64         `json:"seq"`
	Time   time.Time      `json:"time"`
	Actor  string         `json:"actor"`
	Action Action         `json:"action"`
	Status string         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Sink recibe lotes de entradas ya agregadas al log.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Config acota el log.
type Config struct {
	MaxEntries int
	MaxAge     time.Duration
	// SinkBuffer es el tamaño del canal hacia los sinks; lleno => se descarta.
	SinkBuffer int
	BatchSize  int
}

// Log es el log de auditoría compartido. Seguro para uso concurrente.
type Log struct {
	cfg Config
	now func() time.Time
	log *zap.Logger

	mu      sync.Mutex
	entries []Entry // ordenado por Seq
	seq     uint64
	last    time.Time
	evicted int

	sinks   []Sink
	sendMu  sync.RWMutex // protege out contra Close
	out     chan Entry
	dropped int
	wg      sync.WaitGroup
	once    sync.Once
}

// New crea el log. Los sinks reciben las entradas en lotes desde una goroutine propia.
func New(cfg Config, log *zap.Logger, sinks ...Sink) *Log {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	l := &Log{
		cfg:   cfg,
		now:   time.Now,
		log:   logger.OrNamed(log, "audit"),
		sinks: sinks,
	}
	if len(sinks) > 0 {
		l.out = make(chan Entry, cfg.SinkBuffer)
		l.wg.Add(1)
		go l.drain(l.out)
	}
	return l
}

// WithClock reemplaza el reloj (tests).
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append agrega una entrada asignando ID, Seq y un timestamp estrictamente
// creciente dentro del proceso. Retorna la entrada almacenada.
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	ts := l.now().UTC()
	if !ts.After(l.last) {
		ts = l.last.Add(time.Nanosecond)
	}
	l.last = ts
	l.seq++
	e.Seq = l.seq
	e.Time = ts
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cfg.MaxEntries; over > 0 {
		l.dropOldestLocked(over)
	}
	l.mu.Unlock()

	l.sendMu.RLock()
	if l.out != nil {
		select {
		case l.out <- e:
		default:
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
		}
	}
	l.sendMu.RUnlock()
	return e
}

// Record es un atajo para Append.
func (l *Log) Record(actor string, action Action, status string, detail map[string]any) Entry {
	return l.Append(Entry{Actor: actor, Action: action, Status: status, Detail: detail})
}

// Recent retorna hasta n entradas, de la más vieja a la más nueva.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Filter retorna las entradas de actor (más nuevas al final).
func (l *Log) Filter(actor string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if l.entries[i].Actor == actor {
			out = append(out, l.entries[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len retorna la cantidad de entradas retenidas.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stats retorna contadores de retención.
func (l *Log) Stats() (retained, evicted, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), l.evicted, l.dropped
}

// Prune elimina entradas más viejas que MaxAge y aplica el tope de tamaño.
// Retorna la cantidad eliminada.
func (l *Log) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	if l.cfg.MaxAge > 0 {
		cutoff := now.Add(-l.cfg.MaxAge)
		for i < len(l.entries) && l.entries[i].Time.Before(cutoff) {
			i++
		}
	}
	if over := len(l.entries) - i - l.cfg.MaxEntries; over > 0 {
		i += over
	}
	if i == 0 {
		return 0
	}
	l.dropOldestLocked(i)
	return i
}

// dropOldestLocked descarta las n entradas más viejas sin copiar el resto: el
// slice avanza y append compacta al agotar la capacidad, con costo amortizado
// O(1) por entrada. Requiere l.mu.
func (l *Log) dropOldestLocked(n int) {
	clear(l.entries[:n])
	l.entries = l.entries[n:]
	l.evicted += n
}

// Close drena los sinks pendientes. Posteriores Append sólo quedan en memoria.
func (l *Log) Close() {
	l.once.Do(func() {
		l.sendMu.Lock()
		out := l.out
		l.out = nil
		l.sendMu.Unlock()
		if out != nil {
			close(out)
			l.wg.Wait()
		}
	})
}

func (l *Log) drain(in <-chan Entry) {
	defer l.wg.Done()
	batch := make([]Entry, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, s := range l.sinks {
			if err := s.Write(ctx, batch); err != nil {
				l.log.Warn("audit sink write failed", logger.Err(err), logger.Count(len(batch)))
			}
		}
		cancel()
		batch = batch[:0]
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
