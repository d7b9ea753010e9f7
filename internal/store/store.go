// Package store contiene los colaboradores durables del gate: el registro de
// miembros (destino final de una sesión promovida) y el journal anti-replay de
// códigos consumidos. Ambos tienen implementación en memoria y una durable
// (postgres para miembros, redis para el journal).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indica que el registro no existe.
var ErrNotFound = errors.New("store: not found")

// OpenPostgres abre un pool pgx y verifica la conexión.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
