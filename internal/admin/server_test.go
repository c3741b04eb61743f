package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scee/internal/actor"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/socketserver"
)

type stubAuth struct {
	alive  bool
	status actor.HealthStatus
}

func (s stubAuth) Health(context.Context) actor.HealthReport {
	return actor.HealthReport{ActorID: "auth-lane", Status: s.status, Timestamp: time.Now()}
}

func (s stubAuth) WorkerAlive() bool { return s.alive }

type stubSessions []socketserver.SessionInfo

func (s stubSessions) Snapshot() []socketserver.SessionInfo { return s }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	room := int64(1)
	sessions := stubSessions{
		{ID: "conn_1", State: "in_room", User: "profe", RoomID: &room},
		{ID: "conn_2", State: "connecting"},
	}

	tests := []struct {
		name   string
		auth   stubAuth
		code   int
		status string
	}{
		{"healthy", stubAuth{alive: true, status: actor.HealthStatusHealthy}, http.StatusOK, "ok"},
		{"degraded still serves", stubAuth{alive: true, status: actor.HealthStatusDegraded}, http.StatusOK, "ok"},
		{"worker down", stubAuth{alive: false, status: actor.HealthStatusHealthy}, http.StatusServiceUnavailable, "unavailable"},
		{"lane unhealthy", stubAuth{alive: true, status: actor.HealthStatusUnhealthy}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer("127.0.0.1:0", tt.auth, sessions, nil)
			rec := get(t, srv.Handler(), "/health")
			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.auth.alive, resp.WorkerAlive)
			assert.Equal(t, 2, resp.Sessions)
			assert.Equal(t, "auth-lane", resp.Auth.ActorID)
		})
	}
}

func TestSessions(t *testing.T) {
	room := int64(2)
	srv := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{
		{ID: "conn_1", State: "in_room", User: "alumno", RoomID: &room},
		{ID: "conn_2", State: "connecting"},
	}, nil)

	rec := get(t, srv.Handler(), "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)
	assert.Equal(t, "alumno", body.Sessions[0]["user"])
	assert.Equal(t, float64(2), body.Sessions[0]["room_id"])
	assert.Nil(t, body.Sessions[1]["room_id"])
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.ConnectionOpened()

	srv := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{}, m.Registry)
	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scee_connections_active 1")

	noMetrics := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, noMetrics.Handler(), "/metrics").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", stubAuth{alive: true, status: actor.HealthStatusHealthy}, stubSessions{}, nil)
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	require.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestProfiling(t *testing.T) {
	plain := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, plain.Handler(), "/debug/pprof/").Code)

	srv := NewServer("127.0.0.1:0", stubAuth{alive: true}, stubSessions{}, nil, WithProfiling())
	rec := get(t, srv.Handler(), "/debug/pprof/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = get(t, srv.Handler(), "/debug/pprof/goroutine?debug=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine profile")

	rec = get(t, srv.Handler(), "/debug/pprof/cmdline")
	assert.Equal(t, http.StatusOK, rec.Code)
}
