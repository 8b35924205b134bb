package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/session"
	cubesync "github.com/annel0/cubestack/internal/sync"
)

type fakeStatus struct{ view *session.StatusView }

func (f *fakeStatus) Status() *session.StatusView { return f.view }

type fakeCommander struct {
	mu    sync.Mutex
	kinds []protocol.IntentKind
	err   error
}

func (f *fakeCommander) Submit(_ context.Context, kind protocol.IntentKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.kinds = append(f.kinds, kind)
	return nil
}

type fakeSpectator struct{}

func (fakeSpectator) View() cubesync.SpectatorView {
	return cubesync.SpectatorView{State: protocol.StatePlaying, Score: 32, LastSeq: 9}
}

type fixture struct {
	server   *RestServer
	issuer   *auth.TokenIssuer
	commands *fakeCommander
}

func newFixture(t *testing.T, spectator SpectatorSource) *fixture {
	t.Helper()
	issuer, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	view := &session.StatusView{
		State: protocol.StatePlaying,
		Score: 16,
		Dims:  grid.Dims{Planes: 12, Rows: 6, Cols: 6},
		Cubes: []grid.Cube{
			{ID: 1, Cell: grid.Cell{Plane: 0, Row: 0, Col: 0}},
			{ID: 2, Cell: grid.Cell{Plane: 0, Row: 0, Col: 1}},
		},
		Height: 1,
	}
	f := &fixture{issuer: issuer, commands: &fakeCommander{}}
	f.server = NewRestServer(Config{
		Status:    &fakeStatus{view: view},
		Commands:  f.commands,
		Tokens:    issuer,
		Spectator: spectator,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, admin bool) string {
	t.Helper()
	token, err := f.issuer.Issue("оператор", protocol.RoleHost, admin)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestMatchHidesCubeList(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/match", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "Playing", data["state"])
	assert.Equal(t, 16.0, data["score"])
	assert.Equal(t, 2.0, data["cubes"])
}

func TestGridListsCubes(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/grid", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	assert.Len(t, data["cubes"], 2)
	assert.Equal(t, 1.0, data["height"])
}

func TestSpectator(t *testing.T) {
	t.Run("выключен", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/api/spectator", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("включен", func(t *testing.T) {
		f := newFixture(t, fakeSpectator{})
		rec := f.do(t, http.MethodGet, "/api/spectator", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, 32.0, data["score"])
		assert.Equal(t, 9.0, data["last_seq"])
	})
}

func TestServerInfo(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/server", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "running", data["status"])
	assert.Contains(t, data, "memory")
}

func TestAdminCommandsRequireAdminToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/match/pause", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/match/pause", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/match/pause", f.token(t, false), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.commands.kinds)

	admin := f.token(t, true)
	for path, kind := range map[string]protocol.IntentKind{
		"/api/match/pause":   protocol.IntentPause,
		"/api/match/resume":  protocol.IntentResume,
		"/api/match/restart": protocol.IntentRestart,
	} {
		rec = f.do(t, http.MethodPost, path, admin, "")
		assert.Equal(t, http.StatusAccepted, rec.Code, path)
		assert.Contains(t, f.commands.kinds, kind)
	}
}

func TestCommandRejectedWhenHostStopped(t *testing.T) {
	f := newFixture(t, nil)
	f.commands.err = errors.New("stopped")

	rec := f.do(t, http.MethodPost, "/api/match/restart", f.token(t, true), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.token(t, true)

	rec := f.do(t, http.MethodPost, "/api/tokens", admin, `{"name":"vr","role":"remote"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)

	claims, err := f.issuer.Validate(data["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "vr", claims.Name)
	assert.Equal(t, protocol.RoleRemote, claims.Role)
	assert.False(t, claims.IsAdmin)

	rec = f.do(t, http.MethodPost, "/api/tokens", admin, `{"name":"vr","role":"pilot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "", "")

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rest_api_http_requests_total")
}
