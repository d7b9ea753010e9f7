package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "lobbygate.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: "+testSecret+"\nstorage:\n  driver: memory\n")
	cmd := configCmd(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok: env=dev storage=memory")

	out.Reset()
	cmd.SetArgs([]string{"check", "--print"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "***")
	assert.NotContains(t, out.String(), testSecret)
}

func TestConfigCheck_Invalid(t *testing.T) {
	path := writeConfig(t, "workers:\n  size: -2\n")
	cmd := configCmd(&path)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"check"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers.size")
}

func TestToken(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: "+testSecret+"\n")
	cmd := tokenCmd(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--sub", "proxy-eu-1", "--role", "proxy", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	iss, err := jwtx.NewIssuer("lobbygate", testSecret, time.Hour)
	require.NoError(t, err)
	claims, err := iss.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "proxy-eu-1", claims.Subject)
	assert.Equal(t, jwtx.RoleProxy, claims.Role)
}

func TestToken_Validation(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: "+testSecret+"\n")
	for _, args := range [][]string{
		{"--role", "proxy"},
		{"--sub", "x", "--role", "root"},
	} {
		cmd := tokenCmd(&path)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "%v", args)
	}

	short := writeConfig(t, "auth:\n  secret: short\n")
	cmd := tokenCmd(&short)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--sub", "x"})
	assert.Error(t, cmd.Execute())
}

func TestAdminClient(t *testing.T) {
	type seen struct {
		method, path, auth string
		body               map[string]any
	}
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&s.body)
		}
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/v1/moderation/unban") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"NOT_FOUND"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	run := func(args ...string) (string, error) {
		cmd := adminCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append(args, "--url", srv.URL, "--token", "tok"))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, `"ok": true`)

	_, err = run("ban", "Steve", "--reason", "griefing")
	require.NoError(t, err)
	_, err = run("destination", "survival", "--maintenance")
	require.NoError(t, err)
	_, err = run("audit", "--actor", "Steve", "--limit", "5")
	require.NoError(t, err)
	_, err = run("unban", "Steve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	assert.Equal(t, "Bearer tok", got[0].auth)
	assert.Equal(t, http.MethodPost, got[1].method)
	assert.Equal(t, "griefing", got[1].body["reason"])
	assert.Equal(t, "/v1/destinations/survival/status", got[2].path)
	assert.Equal(t, true, got[2].body["maintenance"])
	assert.Equal(t, "/v1/admin/audit?actor=Steve&limit=5", got[3].path)
}

func TestAdminClient_RequiresToken(t *testing.T) {
	t.Setenv("LOBBYGATE_TOKEN", "")
	cmd := adminCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"snapshot"})
	assert.Error(t, cmd.Execute())
}
