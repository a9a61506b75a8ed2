package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/app"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/gateway"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store/drivers/sqlite"
)

// newBackend answers auth.login and auth.ping with fresh tokens.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var issued atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gateway.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		n := issued.Add(1)
		token := map[string]any{
			"value": fmt.Sprintf("tok-%d", n),
			"ttl":   time.Now().Add(15 * time.Minute).UnixMilli(),
		}

		var body map[string]any
		switch req.Action {
		case "auth.login":
			body = map[string]any{
				"status": 200,
				"data":   map[string]any{"email": "ada@example.com", "username": "ada", "role": "ROLE_USER"},
				"token":  token,
			}
		case gateway.ActionPing:
			body = map[string]any{"status": 200, "data": map[string]any{}, "token": token}
		default:
			body = map[string]any{"status": 404, "message": "unknown action", "msgKey": "error.action"}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL, stateDir string) app.Config {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.APIURL = apiURL
	cfg.StateDir = stateDir
	cfg.Env = "test"
	return cfg
}

func newApp(t *testing.T, cfg app.Config, opts ...app.Option) *app.Application {
	t.Helper()
	opts = append([]app.Option{app.WithLogOutput(io.Discard)}, opts...)
	a, err := app.New(cfg, opts...)
	require.NoError(t, err)
	return a
}

type routes struct {
	mu  sync.Mutex
	got []domain.Route
}

func (r *routes) Navigate(route domain.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, route)
}

func (r *routes) all() []domain.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Route(nil), r.got...)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := app.New(app.Config{}, app.WithLogOutput(io.Discard))
	require.ErrorIs(t, err, app.ErrNoAPIURL)
}

func TestLoginIsSharedBetweenContexts(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{app.DriverFile, app.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			srv := newBackend(t)
			cfg := testConfig(t, srv.URL, t.TempDir())
			cfg.StoreDriver = driver

			first := newApp(t, cfg)
			identity, err := first.Client().Login(ctx, "ada@example.com", "hunter2")
			require.NoError(t, err)
			require.Equal(t, "ada", identity.Username)
			require.True(t, first.Session().IsAuthenticated())
			require.NoError(t, first.Shutdown())

			second := newApp(t, cfg)
			t.Cleanup(func() { _ = second.Shutdown() })

			require.True(t, second.Session().IsAuthenticated())
			require.Equal(t, "tok-1", second.Session().Credential().Value)
			restored, ok := second.Session().Identity()
			require.True(t, ok)
			require.Equal(t, "ada@example.com", restored.Email)
		})
	}
}

func TestRemoteLogoutReachesRunningContext(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{app.DriverFile, app.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			srv := newBackend(t)
			cfg := testConfig(t, srv.URL, t.TempDir())
			cfg.StoreDriver = driver

			first := newApp(t, cfg)
			t.Cleanup(func() { _ = first.Shutdown() })
			_, err := first.Client().Login(ctx, "ada@example.com", "hunter2")
			require.NoError(t, err)

			nav := &routes{}
			second := newApp(t, cfg, app.WithNavigator(nav))
			t.Cleanup(func() { _ = second.Shutdown() })
			second.Start()
			require.Equal(t, service.PhaseCounting, second.Monitor().State().Phase)

			require.NoError(t, first.Client().Logout(ctx))

			require.Eventually(t, func() bool {
				return len(nav.all()) == 1
			}, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, domain.LoginRoute(false), nav.all()[0])
			require.False(t, second.Session().IsAuthenticated())
			require.Equal(t, service.PhaseIdle, second.Monitor().State().Phase)
		})
	}
}

func TestExtendSessionRestartsMonitor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newBackend(t)
	a := newApp(t, testConfig(t, srv.URL, t.TempDir()))
	t.Cleanup(func() { _ = a.Shutdown() })
	a.Start()

	_, err := a.Client().Login(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	before := a.Monitor().State()
	require.Equal(t, service.PhaseCounting, before.Phase)

	require.NoError(t, a.Monitor().Extend(ctx))

	after := a.Monitor().State()
	require.Equal(t, service.PhaseCounting, after.Phase)
	require.Equal(t, "tok-2", a.Session().Credential().Value)
	require.True(t, a.Session().Credential().ExpiresAt.Equal(after.ExpiresAt))
	require.Greater(t, after.Generation, before.Generation)
}

func TestSealedRecordAtRest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "record.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("correct horse battery staple\n"), 0o600))

	srv := newBackend(t)
	cfg := testConfig(t, srv.URL, dir)
	cfg.StoreDriver = app.DriverSQLite
	cfg.RecordKeyFile = keyFile

	a := newApp(t, cfg)
	_, err := a.Client().Login(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())

	raw, err := sqlite.NewStore(sqlite.DSN(cfg.DatabasePath()))
	require.NoError(t, err)
	stored, err := raw.Get(ctx, store.KeyToken)
	require.NoError(t, err)
	require.NotEqual(t, "tok-1", stored)
	require.NoError(t, raw.Close())

	// The same key opens it again; a different key discards it.
	reopened := newApp(t, cfg)
	require.Equal(t, "tok-1", reopened.Session().Credential().Value)
	require.NoError(t, reopened.Shutdown())

	require.NoError(t, os.WriteFile(keyFile, []byte("another key"), 0o600))
	rekeyed := newApp(t, cfg)
	require.False(t, rekeyed.Session().IsAuthenticated())
	require.NoError(t, rekeyed.Shutdown())
}
