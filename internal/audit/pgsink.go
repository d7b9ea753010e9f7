package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink persiste lotes en la tabla gate_audit_log (ver migrations/postgres).
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink crea el sink sobre un pool existente.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			detail = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO gate_audit_log (id, seq, ts, actor, action, status, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, int64(e.Seq), e.Time, e.Actor, string(e.Action), e.Status, detail,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}
