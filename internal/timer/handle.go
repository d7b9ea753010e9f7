package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle representa una continuación programada.
type Handle struct {
	id    uint64
	name  string
	fn    Func
	every time.Duration
	s     *Scheduler

	// timer se reasigna en cada reprogramación de Every; protegido por s.mu.
	timer *time.Timer

	cancelled atomic.Bool
	fired     atomic.Int64

	// runMu serializa ejecuciones de un mismo handle y ordena Cancel contra run.
	runMu   sync.Mutex
	running bool
}

// Name retorna el nombre con el que se programó.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Cancel evita ejecuciones futuras. Retorna false si ya estaba cancelado o si
// era un After que ya se ejecutó. Es seguro llamarlo sobre un handle nil.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	h.runMu.Lock()
	if !h.cancelled.CompareAndSwap(false, true) {
		h.runMu.Unlock()
		return false
	}
	beforeFire := h.fired.Load() == 0
	h.runMu.Unlock()

	h.s.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.s.mu.Unlock()
	h.s.forget(h)
	return h.every > 0 || beforeFire
}

// Cancelled indica si el handle fue cancelado.
func (h *Handle) Cancelled() bool {
	return h != nil && h.cancelled.Load()
}

// Fired cuenta las ejecuciones del callback.
func (h *Handle) Fired() int64 {
	if h == nil {
		return 0
	}
	return h.fired.Load()
}

// claim marca el inicio de una ejecución; false si el handle fue cancelado
// antes de que el worker lo tome.
func (h *Handle) claim() bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.cancelled.Load() || h.running {
		return false
	}
	if h.every == 0 && h.fired.Load() > 0 {
		return false
	}
	h.running = true
	h.fired.Add(1)
	return true
}

func (h *Handle) release() {
	h.runMu.Lock()
	h.running = false
	h.runMu.Unlock()
	if h.every > 0 {
		h.s.reschedule(h)
		return
	}
	h.s.forget(h)
}
