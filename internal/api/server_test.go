package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/internal/router"
	"rosterbot/pkg/types"
)

type stubDB struct{ err error }

func (s stubDB) HealthCheck(context.Context) error { return s.err }

type stubRoster struct {
	admins map[string]bool
	chars  []*types.Character
	err    error
}

func (s *stubRoster) IsAdmin(id string) bool { return s.admins[id] }

func (s *stubRoster) AvailableCharacters(context.Context) ([]*types.Character, error) {
	return s.chars, s.err
}

func char(user, name string, role types.Role, score float64) *types.Character {
	return &types.Character{UserID: user, Name: name, Role: role, Score: score, Available: true}
}

func newServer(db stubDB, roster *stubRoster, opts Options) *Server {
	return NewServer(db, roster, opts, nil)
}

func do(t *testing.T, s *Server, method, path, actor string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	stats := func() map[string]int { return map[string]int{"open_sessions": 3} }
	s := newServer(stubDB{}, &stubRoster{}, Options{Stats: stats})

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 3, body.Counters["open_sessions"])
}

func TestServer_HealthReportsDatabaseFailure(t *testing.T) {
	s := newServer(stubDB{err: errors.New("disk gone")}, &stubRoster{}, Options{})

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Contains(t, body.Database, "disk gone")
}

func TestServer_AdminEndpointsRequireAdmin(t *testing.T) {
	roster := &stubRoster{admins: map[string]bool{"9000": true}}
	s := newServer(stubDB{}, roster, Options{})

	for _, path := range []string{"/api/available", "/api/groups"} {
		assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, path, "").Code, path)
		assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, path, "1001").Code, path)
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, path, "9000").Code, path)
	}
}

func TestServer_Available(t *testing.T) {
	roster := &stubRoster{
		admins: map[string]bool{"9000": true},
		chars:  []*types.Character{char("1", "Thrall", types.RoleTank, 2500), char("2", "Jaina", types.RoleDPS, 2400)},
	}
	s := newServer(stubDB{}, roster, Options{})

	w := do(t, s, http.MethodGet, "/api/available", "9000")
	require.Equal(t, http.StatusOK, w.Code)

	var body AvailableResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "Thrall", body.Characters[0].Name)
}

func TestServer_AvailableEmptyIsArray(t *testing.T) {
	s := newServer(stubDB{}, &stubRoster{admins: map[string]bool{"9000": true}}, Options{})

	w := do(t, s, http.MethodGet, "/api/available", "9000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"characters":[],"count":0}`, w.Body.String())
}

func TestServer_Groups(t *testing.T) {
	roster := &stubRoster{
		admins: map[string]bool{"9000": true},
		chars: []*types.Character{
			char("1", "Tanky", types.RoleTank, 2000),
			char("2", "Heals", types.RoleHealer, 2000),
			char("3", "Dps1", types.RoleDPS, 2000),
			char("4", "Dps2", types.RoleDPS, 2000),
			char("5", "Dps3", types.RoleDPS, 2000),
			char("6", "Spare", types.RoleDPS, 1000),
		},
	}
	s := newServer(stubDB{}, roster, Options{})

	w := do(t, s, http.MethodGet, "/api/groups", "9000")
	require.Equal(t, http.StatusOK, w.Code)

	var body router.Roster
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Groups, 1)
	assert.Equal(t, "Tanky", body.Groups[0].Tank.Name)
	require.Len(t, body.Bench, 1)
	assert.Equal(t, "Spare", body.Bench[0].Name)
}

func TestServer_StoreFailure(t *testing.T) {
	roster := &stubRoster{admins: map[string]bool{"9000": true}, err: errors.New("locked")}
	s := newServer(stubDB{}, roster, Options{})

	w := do(t, s, http.MethodGet, "/api/available", "9000")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.NotContains(t, body.Message, "locked")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newServer(stubDB{}, &stubRoster{admins: map[string]bool{"9000": true}}, Options{})
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPost, "/api/groups", "9000").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newServer(stubDB{}, &stubRoster{}, Options{})

	w := do(t, s, http.MethodOptions, "/api/available", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ActorHeader)
}

func TestServer_OptionalHandlers(t *testing.T) {
	s := newServer(stubDB{}, &stubRoster{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", "").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	s = newServer(stubDB{}, &stubRoster{}, Options{Metrics: metrics, Gateway: metrics})
	assert.Equal(t, http.StatusTeapot, do(t, s, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusTeapot, do(t, s, http.MethodGet, "/ws", "").Code)
}
