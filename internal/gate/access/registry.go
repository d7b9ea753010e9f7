package access

import (
	"fmt"
	"sync"
	"time"
)

// Status es el estado operativo de un destino.
type Status struct {
	Online      bool      `json:"online"`
	Maintenance bool      `json:"maintenance"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
}

// Registry guarda los flags de vida/mantenimiento por destino. Los operadores
// los cambian vía API; el validador sólo los lee.
type Registry struct {
	mu     sync.RWMutex
	status map[string]Status
}

// NewRegistry crea el registro con todos los destinos de la política online.
func NewRegistry(p *Policy) *Registry {
	r := &Registry{status: make(map[string]Status)}
	now := time.Now().UTC()
	for _, d := range p.Destinations() {
		r.status[d] = Status{Online: true, UpdatedAt: now}
	}
	return r
}

// Set actualiza el estado de un destino conocido.
func (r *Registry) Set(dest string, st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.status[dest]; !ok {
		return fmt.Errorf("unknown destination %q", dest)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	r.status[dest] = st
	return nil
}

// Get retorna el estado de un destino.
func (r *Registry) Get(dest string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.status[dest]
	return st, ok
}

// Snapshot copia todos los estados.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.status))
	for k, v := range r.status {
		out[k] = v
	}
	return out
}

// Live indica si el destino acepta jugadores sin bypass.
func (r *Registry) Live(dest string) bool {
	st, ok := r.Get(dest)
	return ok && st.Online && !st.Maintenance
}
