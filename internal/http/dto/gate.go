// Package dto contiene los cuerpos de request/response de la API.
package dto

import (
	"time"

	"github.com/dropDatabas3/lobbygate/internal/gate/session"
)

type StartVerificationRequest struct {
	GameID string `json:"game_id"`
	ChatID string `json:"chat_id"`
}

// CodeView es el código entregado al bot para que lo envíe por privado.
type CodeView struct {
	Value     string    `json:"value"`
	Tier      string    `json:"tier"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StartVerificationResponse struct {
	Session SessionView `json:"session"`
	Code    CodeView    `json:"code"`
}

type ReissueRequest struct {
	ChatID string `json:"chat_id"`
}

type ConnectRequest struct {
	GameID string `json:"game_id"`
}

type StateResponse struct {
	GameID string        `json:"game_id"`
	State  session.State `json:"state"`
}

type RedeemRequest struct {
	GameID string   `json:"game_id"`
	Args   []string `json:"args"`
	Addr   string   `json:"addr,omitempty"`
}

type TransferRequest struct {
	GameID string `json:"game_id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Origin string `json:"origin,omitempty"`
}

type FallbackRequest struct {
	GameID string `json:"game_id"`
	From   string `json:"from"`
}

type BanRequest struct {
	GameID string `json:"game_id"`
	Reason string `json:"reason,omitempty"`
}

type ResolveRequest struct {
	GameID  string `json:"game_id"`
	Approve bool   `json:"approve"`
}

type DestinationStatusRequest struct {
	Online      bool `json:"online"`
	Maintenance bool `json:"maintenance"`
}

type SweepRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SessionView es la vista pública de una sesión; no incluye el código.
type SessionView struct {
	ID           string        `json:"id"`
	GameID       string        `json:"game_id"`
	ChatID       string        `json:"chat_id"`
	State        session.State `json:"state"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	ChangedAt    time.Time     `json:"changed_at"`
	Attempts     int           `json:"attempts"`
	AltClient    bool          `json:"alt_client,omitempty"`
	CodeRedeemed bool          `json:"code_redeemed"`
}

// NewSessionView arma la vista con el estado efectivo en now.
func NewSessionView(s session.Session, now time.Time) SessionView {
	return SessionView{
		ID:           s.ID,
		GameID:       s.GameID,
		ChatID:       s.ChatID,
		State:        s.Effective(now),
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		ChangedAt:    s.ChangedAt,
		Attempts:     s.Attempts,
		AltClient:    s.AltClient,
		CodeRedeemed: s.CodeRedeemed,
	}
}
