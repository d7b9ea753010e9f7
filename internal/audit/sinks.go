package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// LoggerSink replica cada entrada como una línea de log estructurada.
type LoggerSink struct {
	Log *zap.Logger
}

// NewLoggerSink crea un sink sobre log (o el logger "audit" si es nil).
func NewLoggerSink(log *zap.Logger) *LoggerSink {
	return &LoggerSink{Log: logger.OrNamed(log, "audit")}
}

func (s *LoggerSink) Write(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		s.Log.Info("audit",
			logger.String("actor", e.Actor),
			logger.String("action", string(e.Action)),
			logger.String("status", e.Status),
			zap.Uint64("seq", e.Seq),
			zap.Time("ts", e.Time),
			logger.Any("detail", e.Detail),
		)
	}
	return nil
}
