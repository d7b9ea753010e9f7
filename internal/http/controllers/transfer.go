package controllers

import (
	"net/http"

	"github.com/dropDatabas3/lobbygate/internal/gate/access"
	"github.com/dropDatabas3/lobbygate/internal/http/dto"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
	mw "github.com/dropDatabas3/lobbygate/internal/http/middlewares"
	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
)

// TransferController expone el validador de acceso al proxy.
type TransferController struct {
	deps Deps
}

// Check maneja POST /v1/transfers. Siempre responde 200 con la decisión.
func (c *TransferController) Check(w http.ResponseWriter, r *http.Request) {
	var req dto.TransferRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID, "target": req.Target}) {
		return
	}
	origin := access.Origin(req.Origin)
	switch origin {
	case "":
		origin = access.OriginPlayer
	case access.OriginPlayer, access.OriginDisconnect:
	case access.OriginSystem:
		// el origen system saltea el rate limit: sólo para operadores
		if c := mw.GetClaims(r.Context()); c == nil || c.Role != jwtx.RoleAdmin {
			errors.WriteError(w, errors.ErrForbidden.WithDetail("origin system requires the admin role"))
			return
		}
	default:
		errors.WriteError(w, errors.ErrBadRequest.WithDetail("origin must be player, system or disconnect"))
		return
	}
	ok(w, c.deps.Access.CheckAccess(r.Context(), access.Request{
		GameID: req.GameID,
		Source: req.Source,
		Target: req.Target,
		Origin: origin,
	}))
}

// Fallback maneja POST /v1/transfers/fallback
func (c *TransferController) Fallback(w http.ResponseWriter, r *http.Request) {
	var req dto.FallbackRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID, "from": req.From}) {
		return
	}
	ok(w, c.deps.Access.Fallback(r.Context(), req.GameID, req.From))
}
