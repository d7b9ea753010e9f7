package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMembers implementa Members sobre la tabla gate_members.
type PGMembers struct {
	pool *pgxpool.Pool
}

// NewPGMembers crea el repositorio sobre un pool existente.
func NewPGMembers(pool *pgxpool.Pool) *PGMembers {
	return &PGMembers{pool: pool}
}

func (r *PGMembers) Upsert(ctx context.Context, m Member) error {
	query := `
		INSERT INTO gate_members (
			game_id, chat_id, uuid, alt_client, session_id, verified_at, promoted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (game_id) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			uuid = EXCLUDED.uuid,
			alt_client = EXCLUDED.alt_client,
			session_id = EXCLUDED.session_id,
			verified_at = EXCLUDED.verified_at,
			promoted_at = EXCLUDED.promoted_at,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		m.GameID, m.ChatID, nullIfEmpty(m.UUID), m.AltClient, m.SessionID, m.VerifiedAt, m.PromotedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (r *PGMembers) Get(ctx context.Context, gameID string) (Member, error) {
	query := `
		SELECT game_id, chat_id, uuid, alt_client, session_id, verified_at, promoted_at
		FROM gate_members
		WHERE game_id = $1
	`
	var m Member
	var uuid *string
	err := r.pool.QueryRow(ctx, query, gameID).Scan(
		&m.GameID, &m.ChatID, &uuid, &m.AltClient, &m.SessionID, &m.VerifiedAt, &m.PromotedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("get member: %w", err)
	}
	if uuid != nil {
		m.UUID = *uuid
	}
	return m, nil
}

func (r *PGMembers) Delete(ctx context.Context, gameID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM gate_members WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

func (r *PGMembers) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gate_members`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
