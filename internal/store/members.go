package store

import (
	"context"
	"sync"
	"time"
)

// Member es el registro permanente de una identidad que completó la verificación.
type Member struct {
	GameID     string    `json:"game_id"`
	ChatID     string    `json:"chat_id"`
	UUID       string    `json:"uuid,omitempty"`
	AltClient  bool      `json:"alt_client"`
	SessionID  string    `json:"session_id"`
	VerifiedAt time.Time `json:"verified_at"`
	PromotedAt time.Time `json:"promoted_at"`
}

// Members persiste membresías.
type Members interface {
	Upsert(ctx context.Context, m Member) error
	// Get retorna ErrNotFound si la identidad no es miembro.
	Get(ctx context.Context, gameID string) (Member, error)
	Delete(ctx context.Context, gameID string) error
	Count(ctx context.Context) (int, error)
}

// MemoryMembers implementa Members en memoria (dev y tests).
type MemoryMembers struct {
	mu   sync.RWMutex
	data map[string]Member
}

// NewMemoryMembers crea un store vacío.
func NewMemoryMembers() *MemoryMembers {
	return &MemoryMembers{data: make(map[string]Member)}
}

func (s *MemoryMembers) Upsert(_ context.Context, m Member) error {
	s.mu.Lock()
	s.data[m.GameID] = m
	s.mu.Unlock()
	return nil
}

func (s *MemoryMembers) Get(_ context.Context, gameID string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[gameID]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryMembers) Delete(_ context.Context, gameID string) error {
	s.mu.Lock()
	delete(s.data, gameID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryMembers) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}
