package session

import (
	"time"

	"github.com/dropDatabas3/lobbygate/internal/config"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
)

// Config define las ventanas del ciclo de vida.
type Config struct {
	PurgatoryWindow      time.Duration
	QuarantineWindow     time.Duration
	PromotionDelay       time.Duration
	ManualReviewWindow   time.Duration
	SoftFailureThreshold int
	ArchiveSize          int
	ArchiveRetention     time.Duration
	AltClientPrefix      string
	CodeTier             code.Tier
	MemberCacheTTL       time.Duration
}

// ConfigFrom traduce la sección session de la configuración global.
func ConfigFrom(c config.Session) Config {
	return Config{
		PurgatoryWindow:      c.PurgatoryWindow,
		QuarantineWindow:     c.QuarantineWindow,
		PromotionDelay:       c.PromotionDelay,
		ManualReviewWindow:   c.ManualReviewWindow,
		SoftFailureThreshold: c.SoftFailureThreshold,
		ArchiveSize:          c.ArchiveSize,
		ArchiveRetention:     c.ArchiveRetention,
		AltClientPrefix:      c.AltClientPrefix,
		CodeTier:             code.Tier(c.CodeTier),
		MemberCacheTTL:       c.MemberCacheTTL,
	}
}

func (c *Config) defaults() {
	if c.PurgatoryWindow <= 0 {
		c.PurgatoryWindow = 10 * time.Minute
	}
	if c.QuarantineWindow <= 0 {
		c.QuarantineWindow = 5 * time.Minute
	}
	if c.PromotionDelay <= 0 {
		c.PromotionDelay = time.Minute
	}
	if c.ManualReviewWindow <= 0 {
		c.ManualReviewWindow = 24 * time.Hour
	}
	if c.SoftFailureThreshold <= 0 {
		c.SoftFailureThreshold = 5
	}
	if c.ArchiveSize <= 0 {
		c.ArchiveSize = 1000
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = 24 * time.Hour
	}
	if c.CodeTier == "" {
		c.CodeTier = code.TierStandard
	}
	if c.MemberCacheTTL <= 0 {
		c.MemberCacheTTL = 10 * time.Minute
	}
}
