// Package logger provee el logger Zap compartido por todo lobbygate.
//
// # Decisiones
//
//   - Singleton: una instancia global inicializada con Init() desde cmd/lobbygate.
//   - Componentes: cada componente del gate (code, session, access, sweeper) recibe
//     un logger nombrado vía Named(); nunca crea su propio core.
//   - Context scoping: el router HTTP inyecta un logger con request_id que los
//     controllers recuperan con From(ctx).
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//
// Los códigos de verificación nunca se loguean completos; usar CodeFingerprint.
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.Named("session")
//	log.Info("session started", logger.GameID(id), logger.State("PURGATORY"))
package logger
