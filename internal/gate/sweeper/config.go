package sweeper

import (
	"time"

	"github.com/dropDatabas3/lobbygate/internal/config"
)

// Config define las cadencias y límites del barrendero.
type Config struct {
	Fast         time.Duration
	Medium       time.Duration
	Slow         time.Duration
	StatsWindow  int
	ShutdownWait time.Duration
	// MemoryPressureMB: heap en uso que dispara un barrido de emergencia; 0 lo desactiva.
	MemoryPressureMB int
}

// ConfigFrom adapta la sección sweeper de la configuración.
func ConfigFrom(c config.Sweeper) Config {
	return Config{
		Fast:             c.Fast,
		Medium:           c.Medium,
		Slow:             c.Slow,
		StatsWindow:      c.StatsWindow,
		ShutdownWait:     c.ShutdownWait,
		MemoryPressureMB: c.MemoryPressureMB,
	}
}

func (c *Config) defaults() {
	if c.Fast <= 0 {
		c.Fast = 30 * time.Second
	}
	if c.Medium <= 0 {
		c.Medium = 5 * time.Minute
	}
	if c.Slow <= 0 {
		c.Slow = time.Hour
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = 100
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = 10 * time.Second
	}
}
