// Package command implementa el comando de juego `/verify <código>`.
// El texto de respuesta nunca incluye el código presentado ni datos de otras
// identidades; sólo la categoría del resultado.
package command

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// Name es el nombre del comando.
const Name = "verify"

var hexArg = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// Redeemer canjea un código para la sesión de gameID.
type Redeemer interface {
	RedeemCode(ctx context.Context, gameID, value, sourceAddr string) (session.Redemption, error)
}

// Format valida el largo del código contra los tiers configurados.
type Format interface {
	WellFormed(v string) bool
}

// Sender es quien ejecuta el comando.
type Sender struct {
	GameID string
	Addr   string
}

// Reply es la respuesta a mostrar al jugador.
type Reply struct {
	OK      bool          `json:"ok"`
	Kind    domain.Reason `json:"kind,omitempty"`
	State   session.State `json:"state,omitempty"`
	Message string        `json:"message"`
}

// Verify es el handler del comando.
type Verify struct {
	redeemer Redeemer
	format   Format
	log      *zap.Logger
}

// NewVerify crea el handler. format puede ser nil (sólo se exige hex).
func NewVerify(r Redeemer, format Format, log *zap.Logger) *Verify {
	return &Verify{redeemer: r, format: format, log: logger.OrNamed(log, "command")}
}

// Usage es el texto de ayuda.
func (v *Verify) Usage() string { return "Uso: /" + Name + " <código>" }

// Handle ejecuta `/verify` con args. Exige exactamente un argumento hex.
func (v *Verify) Handle(ctx context.Context, from Sender, args []string) Reply {
	if len(args) != 1 {
		return Reply{Kind: domain.ReasonInvalidFormat, Message: v.Usage()}
	}
	arg := strings.TrimSpace(args[0])
	if !hexArg.MatchString(arg) || (v.format != nil && !v.format.WellFormed(arg)) {
		return failure(domain.ReasonInvalidFormat, "")
	}

	red, err := v.redeemer.RedeemCode(ctx, from.GameID, arg, from.Addr)
	if err != nil {
		reason := domain.ReasonOf(err)
		if reason == domain.ReasonSystemError {
			v.log.Error("redeem failed", logger.GameID(from.GameID), logger.Err(err))
		}
		return failure(reason, red.State)
	}
	if !red.Outcome.OK() {
		v.log.Debug("redeem rejected", logger.GameID(from.GameID), logger.Result(string(red.Outcome.Result)))
		return failure(red.Outcome.Result.Reason(), red.State)
	}
	return Reply{OK: true, State: red.State, Message: successMessage(red.State)}
}

func failure(r domain.Reason, st session.State) Reply {
	return Reply{Kind: r, State: st, Message: r.UserMessage()}
}

func successMessage(st session.State) string {
	switch st {
	case session.Purgatory:
		return "Código aceptado. Reconectate para continuar la verificación."
	case session.Quarantine:
		return "Código aceptado. Tu acceso completo se habilita en unos minutos."
	case session.Verified, session.Member:
		return "Verificación completa. ¡Bienvenido!"
	default:
		return "Código aceptado."
	}
}
