package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/cli"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/gateway"
)

// syncBuffer is a bytes.Buffer safe for the watch command's goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var issued atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"status":"ok","version":"1.4.2"}`))
			return
		}

		var req gateway.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		token := map[string]any{
			"value": fmt.Sprintf("tok-%d", issued.Add(1)),
			"ttl":   time.Now().Add(15 * time.Minute).UnixMilli(),
		}

		var body map[string]any
		switch req.Action {
		case "auth.login":
			body = map[string]any{
				"status": 200,
				"data":   map[string]any{"email": "ada@example.com", "username": "ada", "role": "ROLE_ADMIN", "status": "VERIFIED"},
				"token":  token,
			}
		case gateway.ActionPing:
			body = map[string]any{"status": 200, "data": map[string]any{}, "token": token}
		case "case.searchByName":
			if req.Token == "" {
				body = map[string]any{"status": 401, "message": "Unauthorized", "msgKey": "error.unauthorized"}
				break
			}
			body = map[string]any{"status": 200, "data": []any{map[string]any{"caseId": "C-1042", "query": req.Data}}}
		default:
			body = map[string]any{"status": 404, "message": "Unknown action", "msgKey": "error.action"}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	apiURL   string
	stateDir string
}

func newEnv(t *testing.T) env {
	return env{apiURL: newBackend(t).URL, stateDir: t.TempDir()}
}

func (e env) command(stdin string, args ...string) (*runResult, func() error) {
	out := &syncBuffer{}
	cmd := cli.NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--api-url", e.apiURL, "--state-dir", e.stateDir, "--log-level", "error"}, args...))
	return &runResult{out: out}, func() error { return cmd.ExecuteContext(context.Background()) }
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	r, exec := e.command(stdin, args...)
	err := exec()
	return r.out.String(), err
}

type runResult struct{ out *syncBuffer }

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := newEnv(t).run(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "casedesk version v")
}

func TestSessionCommands(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	out, err := e.run(t, "", "status")
	require.NoError(t, err)
	require.Equal(t, "Not logged in\n", out)

	out, err = e.run(t, "hunter2\n", "login", "--email", "ada@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "Logged in as ada")

	out, err = e.run(t, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "User:        ada")
	require.Contains(t, out, "Role:        ROLE_ADMIN")

	out, err = e.run(t, "", "status", "--json")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, true, view["authenticated"])
	require.Equal(t, true, view["verified"])
	require.Equal(t, false, view["view_only"])
	require.NotEmpty(t, view["fingerprint"])

	out, err = e.run(t, "", "ping")
	require.NoError(t, err)
	require.Contains(t, out, "Session extended")

	out, err = e.run(t, "", "logout")
	require.NoError(t, err)
	require.Equal(t, "Logged out\n", out)

	out, err = e.run(t, "", "logout")
	require.NoError(t, err)
	require.Equal(t, "Not logged in\n", out)

	_, err = e.run(t, "", "ping")
	require.ErrorContains(t, err, "not logged in")
}

func TestLoginRequiresEmail(t *testing.T) {
	t.Parallel()

	_, err := newEnv(t).run(t, "", "login")
	require.ErrorContains(t, err, "--email is required")
}

func TestSend(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.run(t, "", "send", "case.searchByName", `{"name":"Smith"}`)
	require.ErrorContains(t, err, "[error.unauthorized]: log in again")

	_, err = e.run(t, "", "login", "--email", "ada@example.com", "--password", "hunter2")
	require.NoError(t, err)

	out, err := e.run(t, "", "send", "case.searchByName", `{"name":"Smith"}`)
	require.NoError(t, err)
	require.Contains(t, out, `"caseId": "C-1042"`)
	require.Contains(t, out, `"name": "Smith"`)

	_, err = e.run(t, "", "send", "case.explode")
	require.ErrorContains(t, err, "Unknown action [error.action]")

	_, err = e.run(t, "", "send", "case.searchByName", `{"name":`)
	require.ErrorContains(t, err, "not valid JSON")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	out, err := newEnv(t).run(t, "", "health")
	require.NoError(t, err)
	require.Equal(t, "status=ok version=1.4.2\n", out)
}

func TestWatchRequiresLogin(t *testing.T) {
	t.Parallel()

	_, err := newEnv(t).run(t, "", "watch")
	require.ErrorContains(t, err, "not logged in")
}

func TestWatchEndsOnLogoutElsewhere(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "hunter2")
	require.NoError(t, err)

	watch, exec := e.command("", "watch")
	done := make(chan error, 1)
	go func() { done <- exec() }()

	require.Eventually(t, func() bool {
		return strings.Contains(watch.out.String(), "Session expires in 14:")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = e.run(t, "", "logout")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not exit after logout")
	}
	require.Contains(t, watch.out.String(), "Logged out by another casedesk process")
}
