package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// seq desambigua miembros del ZSET registrados en el mismo nanosegundo.
var seq atomic.Uint64

// SlidingWindow es un limitador en memoria por ventana deslizante.
// Invariante: los timestamps de cada key son siempre el sufijo >= now-Window.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow crea un limitador de max intentos por ventana.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// WithClock reemplaza el reloj (tests).
func (w *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	w.now = now
	return w
}

// Allow registra el intento y retorna si entra dentro del límite. El (max+1)-ésimo
// intento dentro de la ventana siempre es rechazado.
func (w *SlidingWindow) Allow(_ context.Context, key string) (Result, error) {
	return w.Hit(key), nil
}

// Hit es Allow sin contexto ni error.
func (w *SlidingWindow) Hit(key string) Result {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	stamps := trim(w.hits[key], now.Add(-w.window))
	stamps = append(stamps, now)
	w.hits[key] = stamps

	hits := int64(len(stamps))
	res := Result{
		Allowed:     hits <= int64(w.max),
		Remaining:   max64(int64(w.max)-hits, 0),
		CurrentHits: hits,
		WindowTTL:   stamps[0].Add(w.window).Sub(now),
	}
	if !res.Allowed {
		// El próximo intento entra cuando la ventana baja a max-1.
		res.RetryAfter = w.window
		if w.max > 0 {
			res.RetryAfter = stamps[len(stamps)-w.max].Add(w.window).Sub(now)
		}
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
	}
	return res
}

// Count retorna los intentos vigentes para key sin registrar uno nuevo.
func (w *SlidingWindow) Count(key string) int {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	stamps := trim(w.hits[key], now.Add(-w.window))
	if len(stamps) == 0 {
		delete(w.hits, key)
		return 0
	}
	w.hits[key] = stamps
	return len(stamps)
}

// Reset olvida los intentos de key.
func (w *SlidingWindow) Reset(key string) {
	w.mu.Lock()
	delete(w.hits, key)
	w.mu.Unlock()
}

// Prune recorta todas las ventanas y elimina las vacías. Retorna las keys eliminadas.
func (w *SlidingWindow) Prune(now time.Time) int {
	cutoff := now.Add(-w.window)
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for k, stamps := range w.hits {
		stamps = trim(stamps, cutoff)
		if len(stamps) == 0 {
			delete(w.hits, k)
			removed++
			continue
		}
		w.hits[k] = stamps
	}
	return removed
}

// Len retorna la cantidad de keys con ventana viva.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// trim descarta el prefijo anterior a cutoff. Los timestamps están ordenados.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	out := make([]time.Time, len(stamps)-i)
	copy(out, stamps[i:])
	return out
}
