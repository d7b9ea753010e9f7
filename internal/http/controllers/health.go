package controllers

import (
	"net/http"

	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
)

// HealthController maneja /readyz.
type HealthController struct {
	deps Deps
}

type readyResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready", Version: c.deps.Version, Components: map[string]string{}}
	status := http.StatusOK
	if c.deps.Ready != nil {
		for name, err := range c.deps.Ready(r.Context()) {
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	if c.deps.Version != "" {
		w.Header().Set("X-Service-Version", c.deps.Version)
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, status, resp)
}
