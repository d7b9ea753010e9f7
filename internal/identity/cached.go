package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/lobbygate/internal/cache"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

const negativeMarker = "-"

// Cached envuelve un Verifier con cache (positivo y negativo) y colapsa
// lookups concurrentes del mismo nombre con singleflight.
// Los errores del sistema nunca se cachean.
type Cached struct {
	next Verifier
	c    cache.Client
	ttl  time.Duration
	sf   singleflight.Group
	log  *zap.Logger
}

// NewCached crea el verificador cacheado.
func NewCached(next Verifier, c cache.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{next: next, c: c, ttl: ttl, log: logger.OrNamed(log, "identity")}
}

func cacheKey(name string) string { return "identity:" + strings.ToLower(name) }

func (v *Cached) Verify(ctx context.Context, name string) (Profile, error) {
	const op = "identity.Cached.Verify"
	key := cacheKey(name)

	if raw, err := v.c.Get(ctx, key); err == nil {
		if raw == negativeMarker {
			return Profile{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
		}
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, nil
		}
	} else if !cache.IsNotFound(err) {
		v.log.Warn("identity cache read failed", logger.Err(err))
	}

	res, err, shared := v.sf.Do(key, func() (any, error) {
		p, err := v.next.Verify(ctx, name)
		switch {
		case err == nil:
			if b, mErr := json.Marshal(p); mErr == nil {
				v.store(ctx, key, string(b))
			}
		case errors.Is(err, domain.ErrInvalidIdentity):
			v.store(ctx, key, negativeMarker)
		}
		return p, err
	})
	if shared {
		v.log.Debug("identity lookup collapsed", logger.String("name", name))
	}
	if err != nil {
		return Profile{}, err
	}
	return res.(Profile), nil
}

func (v *Cached) store(ctx context.Context, key, val string) {
	if err := v.c.Set(ctx, key, val, v.ttl); err != nil {
		v.log.Warn("identity cache write failed", logger.Err(err))
	}
}
