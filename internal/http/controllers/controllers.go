// Package controllers implementa los handlers HTTP de la API de colaboradores.
// Los handlers sólo traducen HTTP <-> llamadas a los componentes del gate.
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/gate/access"
	"github.com/dropDatabas3/lobbygate/internal/gate/command"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/gate/sweeper"
	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	"github.com/dropDatabas3/lobbygate/internal/http/helpers"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// Deps son los componentes que exponen los controllers.
type Deps struct {
	Sessions *session.Machine
	Access   *access.Validator
	Registry *access.Registry
	Verify   *command.Verify
	Sweeper  *sweeper.Sweeper
	Audit    *audit.Log

	// Snapshot arma la vista de monitoreo.
	Snapshot func(ctx context.Context) any
	// Ready retorna el error por componente; vacío = listo.
	Ready   func(ctx context.Context) map[string]error
	Version string
	Now     func() time.Time
}

// Controllers agrupa los controllers de la API.
type Controllers struct {
	Verification *VerificationController
	Transfer     *TransferController
	Moderation   *ModerationController
	Admin        *AdminController
	Health       *HealthController
}

// New crea todos los controllers sobre deps.
func New(deps Deps) *Controllers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controllers{
		Verification: &VerificationController{deps: deps},
		Transfer:     &TransferController{deps: deps},
		Moderation:   &ModerationController{deps: deps},
		Admin:        &AdminController{deps: deps},
		Health:       &HealthController{deps: deps},
	}
}

// fail escribe err y loguea los 5xx con la causa.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	app := errors.FromError(err)
	if app.HTTPStatus >= 500 {
		logger.From(r.Context()).Error("request failed", logger.Layer("controller"), logger.Op(op), logger.Err(err))
	}
	errors.WriteError(w, app)
}

func ok(w http.ResponseWriter, v any) { helpers.WriteJSON(w, http.StatusOK, v) }
