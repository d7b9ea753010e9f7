package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "lobbygate.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	require.Equal(t, 10*time.Minute, c.Session.PurgatoryWindow)
	require.Equal(t, 5*time.Minute, c.Session.QuarantineWindow)
	require.Equal(t, time.Minute, c.Session.PromotionDelay)
	require.Equal(t, 3, c.Codes.PerUserCap)
	require.Equal(t, 8, c.Codes.Tiers["standard"].Length)
	require.Equal(t, 10, c.Rate.Validate.Limit)
	require.Equal(t, 5*time.Minute, c.Rate.Validate.Window)
	require.Equal(t, 20, c.Rate.Brute.HardThreshold)
	require.Equal(t, "lobby", c.Access.DefaultLobby)
}

func TestLoad_ParsesDurations(t *testing.T) {
	p := writeYAML(t, `
session:
  purgatory_window: 90s
  quarantine_window: 45s
codes:
  tiers:
    standard: { length: 10, lifetime: 2m }
rate:
  validate: { limit: 3, window: 1m }
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, c.Session.PurgatoryWindow)
	require.Equal(t, 45*time.Second, c.Session.QuarantineWindow)
	require.Equal(t, 10, c.Codes.Tiers["standard"].Length)
	require.Equal(t, 2*time.Minute, c.Codes.Tiers["standard"].Lifetime)
	require.Equal(t, 3, c.Rate.Validate.Limit)
}

func TestValidate_RejectsUnsafeValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"negative purgatory":   func(c *Config) { c.Session.PurgatoryWindow = -time.Second },
		"zero-length code":     func(c *Config) { c.Codes.Tiers["standard"] = CodeTier{Length: 0, Lifetime: time.Minute} },
		"hard below rate":      func(c *Config) { c.Rate.Brute.HardThreshold = 5 },
		"unknown lobby":        func(c *Config) { c.Access.DefaultLobby = "nowhere" },
		"bad class min state":  func(c *Config) { c.Access.Classes["survival"] = DestinationClass{MinState: "PURGATORY"} },
		"postgres without dsn": func(c *Config) { c.Storage.Driver = "postgres" },
		"unknown tier":         func(c *Config) { c.Session.CodeTier = "ultra" },
		"bad destination id":   func(c *Config) { c.Access.Destinations["Lobby 2"] = "lobby" },
		"bad capability":       func(c *Config) { c.Access.Capabilities = map[string][]string{"Staff;x": {"Steve"}} },
		"bad bypass":           func(c *Config) { c.Access.MaintenanceBypass = "BYPASS" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOBBYGATE_PURGATORY_WINDOW", "3m")
	t.Setenv("LOBBYGATE_ADDR", ":9999")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3*time.Minute, c.Session.PurgatoryWindow)
	require.Equal(t, ":9999", c.Server.Addr)
}
