package code

import (
	"time"

	"github.com/dropDatabas3/lobbygate/internal/config"
)

// Config configura el servicio.
type Config struct {
	Tiers               map[Tier]TierSpec
	PerUserCap          int
	MaxGenerateAttempts int
	ReplayRetention     time.Duration
	ExpiredRetention    time.Duration
	FingerprintKey      string
}

// ConfigFrom traduce la sección codes de la configuración global.
func ConfigFrom(c config.Codes) Config {
	tiers := make(map[Tier]TierSpec, len(c.Tiers))
	for name, t := range c.Tiers {
		tiers[Tier(name)] = TierSpec{Length: t.Length, Lifetime: t.Lifetime}
	}
	return Config{
		Tiers:               tiers,
		PerUserCap:          c.PerUserCap,
		MaxGenerateAttempts: c.MaxGenerateAttempts,
		ReplayRetention:     c.ReplayRetention,
		ExpiredRetention:    c.ExpiredRetention,
		FingerprintKey:      c.FingerprintKey,
	}
}

func (c *Config) defaults() {
	if len(c.Tiers) == 0 {
		c.Tiers = map[Tier]TierSpec{
			TierStandard: {Length: 8, Lifetime: 10 * time.Minute},
			TierElevated: {Length: 12, Lifetime: 5 * time.Minute},
			TierCritical: {Length: 16, Lifetime: 3 * time.Minute},
		}
	}
	if c.PerUserCap <= 0 {
		c.PerUserCap = 3
	}
	if c.MaxGenerateAttempts <= 0 {
		c.MaxGenerateAttempts = 10
	}
	if c.ReplayRetention <= 0 {
		c.ReplayRetention = 24 * time.Hour
	}
	if c.ExpiredRetention <= 0 {
		c.ExpiredRetention = time.Hour
	}
}
