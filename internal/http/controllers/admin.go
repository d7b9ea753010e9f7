package controllers

import (
	"net/http"
	"strconv"

	"github.com/dropDatabas3/lobbygate/internal/http/dto"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
	mw "github.com/dropDatabas3/lobbygate/internal/http/middlewares"
)

// AdminController expone la vista de monitoreo (sólo lectura), el log de
// auditoría y el barrido de emergencia.
type AdminController struct {
	deps Deps
}

// Snapshot maneja GET /v1/admin/snapshot
func (c *AdminController) Snapshot(w http.ResponseWriter, r *http.Request) {
	if c.deps.Snapshot == nil {
		errors.WriteError(w, errors.ErrServiceUnavailable)
		return
	}
	ok(w, c.deps.Snapshot(r.Context()))
}

// Audit maneja GET /v1/admin/audit?actor=&limit=
func (c *AdminController) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			errors.WriteError(w, errors.ErrBadRequest.WithDetail("limit must be 1..1000"))
			return
		}
		limit = n
	}
	if actor := r.URL.Query().Get("actor"); actor != "" {
		ok(w, c.deps.Audit.Filter(actor, limit))
		return
	}
	ok(w, c.deps.Audit.Recent(limit))
}

// Sweep maneja POST /v1/admin/sweep: barrido de emergencia sincrónico.
func (c *AdminController) Sweep(w http.ResponseWriter, r *http.Request) {
	var req dto.SweepRequest
	if r.ContentLength > 0 && !helpers.ReadJSON(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual by " + mw.Caller(r.Context())
	}
	ok(w, c.deps.Sweeper.Emergency(r.Context(), reason))
}
