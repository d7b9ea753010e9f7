package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	Token     string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(w io.Writer, status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(w, string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(w, string(body))
	} else {
		fmt.Fprintf(w, "status=%d\n", status)
	}
}

// call ejecuta el request y falla con el cuerpo si el status no es 2xx.
func (c *client) call(cmd *cobra.Command, name, method, path string, payload any) error {
	status, body, err := c.do(method, path, payload)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s fallo: status=%d body=%s", name, status, string(body))
	}
	c.print(cmd.OutOrStdout(), status, body)
	return nil
}

func adminCmd() *cobra.Command {
	cl := &client{
		BaseURL:   envOr("LOBBYGATE_URL", "http://localhost:8085"),
		Token:     envOr("LOBBYGATE_TOKEN", ""),
		OutFormat: envOr("LOBBYGATE_OUT", "json"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}

	root := &cobra.Command{
		Use:   "admin",
		Short: "Operaciones de operador contra una instancia en marcha (vía /v1)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cl.Token == "" {
				return fmt.Errorf("falta token (flag --token o env LOBBYGATE_TOKEN; emitir con `lobbygate token --role admin`)")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "url", cl.BaseURL, "URL base de la API (env LOBBYGATE_URL)")
	root.PersistentFlags().StringVar(&cl.Token, "token", cl.Token, "Token admin (env LOBBYGATE_TOKEN)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "Formato de salida: json|text")

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Muestra el snapshot de monitoreo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(cmd, "snapshot", http.MethodGet, "/v1/admin/snapshot", nil)
		},
	}

	var sweepReason string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Dispara un barrido de emergencia",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(cmd, "sweep", http.MethodPost, "/v1/admin/sweep", map[string]string{"reason": sweepReason})
		},
	}
	sweep.Flags().StringVar(&sweepReason, "reason", "", "Motivo (queda en auditoría)")

	var auditActor string
	var auditLimit int
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Lista entradas recientes de auditoría",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", fmt.Sprint(auditLimit))
			if auditActor != "" {
				q.Set("actor", auditActor)
			}
			return cl.call(cmd, "audit", http.MethodGet, "/v1/admin/audit?"+q.Encode(), nil)
		},
	}
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Filtra por actor (game id, chat id, sweeper)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Cantidad máxima (1..1000)")

	var banReason string
	ban := &cobra.Command{
		Use:   "ban <game-id>",
		Short: "Banea una identidad de juego",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(cmd, "ban", http.MethodPost, "/v1/moderation/ban", map[string]string{"game_id": args[0], "reason": banReason})
		},
	}
	ban.Flags().StringVar(&banReason, "reason", "", "Motivo del ban")

	unban := &cobra.Command{
		Use:   "unban <game-id>",
		Short: "Levanta un ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(cmd, "unban", http.MethodPost, "/v1/moderation/unban", map[string]string{"game_id": args[0]})
		},
	}

	var approve bool
	resolve := &cobra.Command{
		Use:   "resolve <game-id>",
		Short: "Resuelve una sesión en revisión manual",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(cmd, "resolve", http.MethodPost, "/v1/moderation/resolve", map[string]any{"game_id": args[0], "approve": approve})
		},
	}
	resolve.Flags().BoolVar(&approve, "approve", false, "Aprueba (por defecto rechaza)")

	var online, maintenance bool
	destination := &cobra.Command{
		Use:   "destination <id>",
		Short: "Cambia el estado online/mantenimiento de un destino",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/destinations/" + url.PathEscape(args[0]) + "/status"
			return cl.call(cmd, "destination", http.MethodPut, path, map[string]bool{"online": online, "maintenance": maintenance})
		},
	}
	destination.Flags().BoolVar(&online, "online", true, "Destino online")
	destination.Flags().BoolVar(&maintenance, "maintenance", false, "Destino en mantenimiento")

	root.AddCommand(snapshot, sweep, auditCmd, ban, unban, resolve, destination)
	return root
}
