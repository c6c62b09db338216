package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremedam/Agendamento-Pro/internal/agenda"
	"github.com/tremedam/Agendamento-Pro/internal/hybrid"
	"github.com/tremedam/Agendamento-Pro/internal/observability"
	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/session"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

type testStack struct {
	handler http.Handler
	mirror  *overlay.MemoryMirror
	store   *overlay.Store
}

func newTestStack(t *testing.T, cfg *Config) testStack {
	t.Helper()
	ctx := context.Background()
	mirror := overlay.NewMemoryMirror()
	store := overlay.NewStore(mirror, overlay.Config{Location: time.UTC, ResyncDelay: time.Hour})
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() { _ = store.Close(ctx) })

	sessions := session.NewRegistry(session.DefaultProfiles().For("development"), nil)
	provider := agenda.NewGuardedProvider(nil, agenda.NewFallback(store), agenda.GuardedConfig{})
	service := hybrid.NewService(store, sessions, provider, hybrid.Options{})
	resolver := shared.NewIdentityResolver(cfg.JWTSecret)

	router := NewRouter(RouterParams{
		Config:          cfg,
		Identity:        resolver,
		ScheduleHandler: hybrid.NewHandler(nil, service, sessions),
		Health:          service,
		Metrics:         observability.NewMetrics(),
	})
	return testStack{handler: router, mirror: mirror, store: store}
}

func TestHealthz(t *testing.T) {
	stack := newTestStack(t, &Config{RateLimitPerMinute: 0})

	rr := httptest.NewRecorder()
	stack.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, agenda.ModeFallback, body["provider"])
	assert.EqualValues(t, 0, body["records"])
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHealthzReportsPersistFailure(t *testing.T) {
	stack := newTestStack(t, &Config{})
	stack.mirror.FailWith(errors.New("disk full"))
	_, err := stack.store.Create(context.Background(), "U1", map[string]any{"product": "A"}, time.Time{})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	stack.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["lastPersistError"], "disk full")
	assert.EqualValues(t, 1, body["records"])
}

func TestSchedulesRequireIdentity(t *testing.T) {
	stack := newTestStack(t, &Config{JWTSecret: "s3cret"})

	rr := httptest.NewRecorder()
	stack.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := shared.SignToken("s3cret", shared.Identity{UserID: "U1", Role: shared.RoleStore}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(`{"product":"Cable","quantity":2}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	stack.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(shared.HeaderSessionID))

	rr = httptest.NewRecorder()
	stack.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `agenda_http_requests_total{code="201"`)
}

func TestRateLimit(t *testing.T) {
	stack := newTestStack(t, &Config{RateLimitPerMinute: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		stack.handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
