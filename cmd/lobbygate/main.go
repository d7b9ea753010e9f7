package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/lobbygate/internal/app"
	"github.com/dropDatabas3/lobbygate/internal/config"
	"github.com/dropDatabas3/lobbygate/internal/http/server"
	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/util"
)

func main() {
	// .env es opcional; las variables del entorno tienen prioridad.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	var cfgPath string
	root := &cobra.Command{
		Use:           "lobbygate",
		Short:         "Gate de verificación en dos pasos para la red de juego",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("LOBBYGATE_CONFIG", "lobbygate.yaml"), "Archivo de configuración YAML (env LOBBYGATE_CONFIG)")

	root.AddCommand(serveCmd(&cfgPath), configCmd(&cfgPath), tokenCmd(&cfgPath), adminCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API y los barridos",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.Log.Level,
				ServiceName: cfg.App.Name,
				Version:     cfg.App.Version,
			})
			defer func() { _ = logger.Sync() }()
			lg := logger.L()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, lg)
			if err != nil {
				return fmt.Errorf("wiring failed: %w", err)
			}
			a.Start()

			srvErr := server.Run(ctx, server.Config{
				Addr:         cfg.Server.Addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				ShutdownWait: cfg.Sweeper.ShutdownWait,
			}, a.Handler, lg)
			stop()

			// el barrido final tiene su propia espera acotada
			sctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Sweeper.ShutdownWait)
			defer cancel()
			return errors.Join(srvErr, a.Shutdown(sctx))
		},
	}
}

func configCmd(cfgPath *string) *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Operaciones sobre la configuración"}

	var show bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Carga y valida la configuración (defaults + YAML + env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if show {
				cfg.Auth.Secret = util.MaskSecret(cfg.Auth.Secret)
				cfg.Codes.FingerprintKey = util.MaskSecret(cfg.Codes.FingerprintKey)
				cfg.Redis.Password = util.MaskSecret(cfg.Redis.Password)
				cfg.Storage.DSN = util.MaskDSN(cfg.Storage.DSN)
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: env=%s storage=%s rate=%s cache=%s destinations=%d\n",
				cfg.App.Env, cfg.Storage.Driver, cfg.Rate.Backend, cfg.Cache.Kind, len(cfg.Access.Destinations))
			return nil
		},
	}
	check.Flags().BoolVar(&show, "print", false, "Imprime la configuración efectiva (secretos ocultos)")
	c.AddCommand(check)
	return c
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Emite un token de servicio para un colaborador (proxy, bot, admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sub == "" {
				return fmt.Errorf("--sub es requerido")
			}
			r, err := jwtx.ParseRole(role)
			if err != nil {
				return err
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			iss, err := jwtx.NewIssuer(cfg.Auth.Issuer, cfg.Auth.Secret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, exp, err := iss.Issue(sub, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().StringVar(&sub, "sub", "", "Identificador del colaborador (ej. proxy-eu-1)")
	c.Flags().StringVar(&role, "role", string(jwtx.RoleProxy), "Rol: proxy|bot|admin")
	c.Flags().DurationVar(&ttl, "ttl", 0, "Vida del token (0 = auth.token_ttl)")
	return c
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
