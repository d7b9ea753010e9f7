package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/lobbygate/internal/gate/command"
	"github.com/dropDatabas3/lobbygate/internal/http/dto"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
)

// VerificationController cubre el ciclo de verificación: inicio (bot),
// conexión y canje (proxy) y consulta de sesiones.
type VerificationController struct {
	deps Deps
}

// Start maneja POST /v1/verifications
func (c *VerificationController) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartVerificationRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID, "chat_id": req.ChatID}) {
		return
	}
	started, err := c.deps.Sessions.StartVerification(r.Context(), req.GameID, req.ChatID)
	if err != nil {
		fail(w, r, "VerificationController.Start", err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, dto.StartVerificationResponse{
		Session: dto.NewSessionView(started.Session, c.deps.Now()),
		Code: dto.CodeView{
			Value:     started.Code.Value,
			Tier:      string(started.Code.Tier),
			ExpiresAt: started.Code.ExpiresAt,
		},
	})
}

// Reissue maneja POST /v1/verifications/reissue
func (c *VerificationController) Reissue(w http.ResponseWriter, r *http.Request) {
	var req dto.ReissueRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"chat_id": req.ChatID}) {
		return
	}
	vc, err := c.deps.Sessions.ReissueCode(r.Context(), req.ChatID)
	if err != nil {
		fail(w, r, "VerificationController.Reissue", err)
		return
	}
	ok(w, dto.CodeView{Value: vc.Value, Tier: string(vc.Tier), ExpiresAt: vc.ExpiresAt})
}

// Connect maneja POST /v1/connections
func (c *VerificationController) Connect(w http.ResponseWriter, r *http.Request) {
	var req dto.ConnectRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	st, err := c.deps.Sessions.OnIdentityConnect(r.Context(), req.GameID)
	if err != nil {
		fail(w, r, "VerificationController.Connect", err)
		return
	}
	ok(w, dto.StateResponse{GameID: req.GameID, State: st})
}

// Redeem maneja POST /v1/codes/redeem: el proxy reenvía los argumentos del
// comando /verify y muestra Message al jugador.
func (c *VerificationController) Redeem(w http.ResponseWriter, r *http.Request) {
	var req dto.RedeemRequest
	if !helpers.ReadJSON(w, r, &req) || !helpers.Required(w, map[string]string{"game_id": req.GameID}) {
		return
	}
	ok(w, c.deps.Verify.Handle(r.Context(), command.Sender{GameID: req.GameID, Addr: req.Addr}, req.Args))
}

// Session maneja GET /v1/sessions/{identity}
func (c *VerificationController) Session(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	s, found := c.deps.Sessions.QuerySession(id)
	if !found {
		errors.WriteError(w, errors.ErrNotFound)
		return
	}
	ok(w, dto.NewSessionView(s, c.deps.Now()))
}

// State maneja GET /v1/states/{gameID}: estado observable aunque no haya sesión.
func (c *VerificationController) State(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")
	st, err := c.deps.Sessions.State(r.Context(), id)
	if err != nil {
		fail(w, r, "VerificationController.State", err)
		return
	}
	ok(w, dto.StateResponse{GameID: id, State: st})
}
