// Package rate implementa los contadores de intentos del gate: ventanas
// deslizantes (memoria o Redis) y el Guard anti fuerza bruta.
package rate

import (
	"context"
	"time"
)

// Result es el resultado de registrar un intento.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter registra un intento para key y decide si entra en la ventana.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
