// Package router arma el árbol de rutas chi de la API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/lobbygate/internal/http/controllers"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	mw "github.com/dropDatabas3/lobbygate/internal/http/middlewares"
	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Controllers *controllers.Controllers
	// Issuer valida los tokens de servicio; nil deshabilita auth (sólo dev).
	Issuer *jwtx.Issuer
	// Metrics es el handler de /metrics; nil lo omite.
	Metrics     http.Handler
	HTTPMetrics *mw.HTTPMetrics
}

// New construye el handler raíz.
func New(deps Deps) http.Handler {
	c := deps.Controllers
	r := chi.NewRouter()

	r.Use(mw.WithRecover(), mw.WithRequestID())
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware())
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { errors.WriteError(w, errors.ErrNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { errors.WriteError(w, errors.ErrMethodNotAllowed) })

	// Sin auth ni logging: probes frecuentes.
	r.Get("/readyz", c.Health.Readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.RequireAuth(deps.Issuer))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(jwtx.RoleBot))
			r.Post("/verifications", c.Verification.Start)
			r.Post("/verifications/reissue", c.Verification.Reissue)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(jwtx.RoleProxy))
			r.Post("/connections", c.Verification.Connect)
			r.Post("/codes/redeem", c.Verification.Redeem)
			r.Post("/transfers", c.Transfer.Check)
			r.Post("/transfers/fallback", c.Transfer.Fallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(jwtx.RoleBot, jwtx.RoleProxy))
			r.Get("/sessions/{identity}", c.Verification.Session)
			r.Get("/states/{gameID}", c.Verification.State)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(jwtx.RoleAdmin))
			r.Post("/moderation/ban", c.Moderation.Ban)
			r.Post("/moderation/unban", c.Moderation.Unban)
			r.Post("/moderation/cancel", c.Moderation.Cancel)
			r.Post("/moderation/resolve", c.Moderation.Resolve)
			r.Get("/destinations", c.Moderation.Destinations)
			r.Put("/destinations/{id}/status", c.Moderation.SetDestination)
			r.Get("/admin/snapshot", c.Admin.Snapshot)
			r.Get("/admin/audit", c.Admin.Audit)
			r.Post("/admin/sweep", c.Admin.Sweep)
		})
	})
	return r
}
