package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/lobbygate/internal/gate/access"
	"github.com/dropDatabas3/lobbygate/internal/http/dto"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
	mw "github.com/dropDatabas3/lobbygate/internal/http/middlewares"
)

// ModerationController expone bans, cancelaciones, revisión manual y el
// registro de destinos a operadores.
type ModerationController struct {
	deps Deps
}

// Ban maneja POST /v1/moderation/ban
func (c *ModerationController) Ban(w http.ResponseWriter, r *http.Request) {
	var req dto.BanRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	st, err := c.deps.Sessions.Ban(r.Context(), req.GameID, mw.Caller(r.Context()), req.Reason)
	if err != nil {
		fail(w, r, "ModerationController.Ban", err)
		return
	}
	ok(w, dto.StateResponse{GameID: req.GameID, State: st})
}

// Unban maneja POST /v1/moderation/unban
func (c *ModerationController) Unban(w http.ResponseWriter, r *http.Request) {
	var req dto.BanRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	if !c.deps.Sessions.Unban(r.Context(), req.GameID, mw.Caller(r.Context())) {
		errors.WriteError(w, errors.ErrNotFound)
		return
	}
	st, _ := c.deps.Sessions.State(r.Context(), req.GameID)
	ok(w, dto.StateResponse{GameID: req.GameID, State: st})
}

// Cancel maneja POST /v1/moderation/cancel
func (c *ModerationController) Cancel(w http.ResponseWriter, r *http.Request) {
	var req dto.BanRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	if err := c.deps.Sessions.Cancel(r.Context(), req.GameID, mw.Caller(r.Context())); err != nil {
		fail(w, r, "ModerationController.Cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve maneja POST /v1/moderation/resolve
func (c *ModerationController) Resolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	st, err := c.deps.Sessions.ResolveManual(r.Context(), req.GameID, req.Approve, mw.Caller(r.Context()))
	if err != nil {
		fail(w, r, "ModerationController.Resolve", err)
		return
	}
	ok(w, dto.StateResponse{GameID: req.GameID, State: st})
}

// Destinations maneja GET /v1/destinations
func (c *ModerationController) Destinations(w http.ResponseWriter, r *http.Request) {
	ok(w, c.deps.Registry.Snapshot())
}

// SetDestination maneja PUT /v1/destinations/{id}/status
func (c *ModerationController) SetDestination(w http.ResponseWriter, r *http.Request) {
	var req dto.DestinationStatusRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	st := access.Status{Online: req.Online, Maintenance: req.Maintenance, UpdatedBy: mw.Caller(r.Context())}
	if err := c.deps.Registry.Set(id, st); err != nil {
		errors.WriteError(w, errors.ErrNotFound.WithDetail(err.Error()))
		return
	}
	cur, _ := c.deps.Registry.Get(id)
	ok(w, cur)
}
