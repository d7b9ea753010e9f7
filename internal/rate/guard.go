package rate

import (
	"sync"
	"time"
)

// Guard cuenta fallos por identificador y bloquea al superar HardThreshold
// dentro de Window. Un identificador bloqueado sigue bloqueado durante Cooldown
// aunque su ventana de rate limit ya se haya vaciado.
type Guard struct {
	failures *SlidingWindow
	hard     int
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	blocked map[string]time.Time // key -> bloqueado hasta
}

// NewGuard crea un Guard. hard es la cantidad de fallos tolerados en window.
func NewGuard(hard int, window, cooldown time.Duration) *Guard {
	return &Guard{
		failures: NewSlidingWindow(hard, window),
		hard:     hard,
		cooldown: cooldown,
		now:      time.Now,
		blocked:  make(map[string]time.Time),
	}
}

// WithClock reemplaza el reloj (tests).
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	g.failures.WithClock(now)
	return g
}

// Blocked indica si key está bloqueada y hasta cuándo.
func (g *Guard) Blocked(key string) (bool, time.Time) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.blocked[key]
	if !ok {
		return false, time.Time{}
	}
	if !now.Before(until) {
		delete(g.blocked, key)
		return false, time.Time{}
	}
	return true, until
}

// Fail registra un fallo. Retorna true si con este fallo key queda bloqueada.
func (g *Guard) Fail(key string) bool {
	res := g.failures.Hit(key)
	if res.Allowed {
		return false
	}
	g.mu.Lock()
	g.blocked[key] = g.now().Add(g.cooldown)
	g.mu.Unlock()
	g.failures.Reset(key)
	return true
}

// Failures retorna los fallos vigentes para key.
func (g *Guard) Failures(key string) int {
	return g.failures.Count(key)
}

// Reset limpia fallos y bloqueo de key (éxito o intervención manual).
func (g *Guard) Reset(key string) {
	g.failures.Reset(key)
	g.mu.Lock()
	delete(g.blocked, key)
	g.mu.Unlock()
}

// BlockedCount retorna cuántos identificadores siguen bloqueados.
func (g *Guard) BlockedCount() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, until := range g.blocked {
		if now.Before(until) {
			n++
		}
	}
	return n
}

// Prune elimina bloqueos vencidos y ventanas de fallos vacías.
func (g *Guard) Prune(now time.Time) int {
	removed := g.failures.Prune(now)
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, until := range g.blocked {
		if !now.Before(until) {
			delete(g.blocked, k)
			removed++
		}
	}
	return removed
}
