package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// ClientIP crea un campo para la IP de origen.
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - GATE
// =================================================================================

// GameID identifica la cuenta del juego (UUID o nombre con prefijo alternativo).
func GameID(v string) zap.Field { return zap.String("game_id", v) }

// ChatID identifica la cuenta en la plataforma de chat.
func ChatID(v string) zap.Field { return zap.String("chat_id", v) }

// SessionID crea un campo para el ID de sesión.
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// State crea un campo para el estado de una sesión.
func State(v string) zap.Field { return zap.String("state", v) }

// Transition registra el par from→to de una transición.
func Transition(from, to string) zap.Field { return zap.String("transition", from+"->"+to) }

// Destination crea un campo para un destino (servidor backend).
func Destination(v string) zap.Field { return zap.String("destination", v) }

// Reason crea un campo para la razón de una decisión.
func Reason(v string) zap.Field { return zap.String("reason", v) }

// Result crea un campo para el resultado de una operación.
func Result(v string) zap.Field { return zap.String("result", v) }

// CodeFingerprint registra la huella de un código, nunca el código.
func CodeFingerprint(v string) zap.Field { return zap.String("code_fp", v) }

// Sweep crea un campo para el tipo de barrido.
func Sweep(v string) zap.Field { return zap.String("sweep", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (controller, service, store).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// Count crea un campo para un conteo.
func Count(v int) zap.Field { return zap.Int("count", v) }

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Any crea un campo genérico.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
