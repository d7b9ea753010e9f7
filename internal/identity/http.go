package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/lobbygate/internal/domain"
)

// HTTPVerifier consulta GET {BaseURL}/users/profiles/{name}.
// 200 => existe, 204/404 => no existe, cualquier otro status => error del sistema.
type HTTPVerifier struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTP crea un verificador HTTP con timeout propio.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type upstreamProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, name string) (Profile, error) {
	const op = "identity.HTTPVerifier.Verify"

	u := v.BaseURL + "/users/profiles/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, domain.E(op, domain.ReasonSystemError, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return Profile{}, domain.E(op, domain.ReasonSystemError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return Profile{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Profile{}, domain.E(op, domain.ReasonSystemError, fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	var up upstreamProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&up); err != nil {
		return Profile{}, domain.E(op, domain.ReasonSystemError, err)
	}
	if up.Name == "" {
		return Profile{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
	}
	return Profile{GameID: up.Name, Name: up.Name, UUID: up.ID}, nil
}
