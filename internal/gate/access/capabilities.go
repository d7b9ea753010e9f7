package access

import (
	"context"
	"sync"
)

// Capabilities responde si una identidad tiene una capability. El sistema de
// rangos/permisos es externo; el validador sólo consulta.
type Capabilities interface {
	Has(ctx context.Context, gameID, capability string) bool
}

// StaticCapabilities es un mapa capability -> identidades, cargado de config
// y editable en caliente.
type StaticCapabilities struct {
	mu    sync.RWMutex
	grant map[string]map[string]bool
}

// NewStaticCapabilities crea el mapa desde config.Access.Capabilities.
func NewStaticCapabilities(m map[string][]string) *StaticCapabilities {
	s := &StaticCapabilities{grant: make(map[string]map[string]bool, len(m))}
	for capability, ids := range m {
		for _, id := range ids {
			s.Grant(id, capability)
		}
	}
	return s
}

func (s *StaticCapabilities) Has(_ context.Context, gameID, capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grant[capability][gameID]
}

// Grant otorga capability a gameID.
func (s *StaticCapabilities) Grant(gameID, capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grant[capability] == nil {
		s.grant[capability] = make(map[string]bool)
	}
	s.grant[capability][gameID] = true
}

// Revoke quita capability a gameID.
func (s *StaticCapabilities) Revoke(gameID, capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grant[capability], gameID)
}
