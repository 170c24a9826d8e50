package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/auth"
	"github.com/edvin/botplane/internal/lifecycle"
	"github.com/edvin/botplane/internal/progression"
	"github.com/edvin/botplane/internal/storetest"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, db Pinger) (*Server, string) {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	authSvc := auth.NewService(testSecret, hash)
	token, err := authSvc.Login("hunter2")
	require.NoError(t, err)

	store := storetest.New()
	srv := NewServer(zerolog.Nop(), Services{
		Store:       store,
		DB:          db,
		Auth:        authSvc,
		Progression: progression.New(store, zerolog.Nop()),
	})
	return srv, token
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t, stubPinger{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	srv, _ := newTestServer(t, stubPinger{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv, _ = newTestServer(t, stubPinger{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, "connection refused", checks["db"])
}

func TestServer_RequiresToken(t *testing.T) {
	srv, token := newTestServer(t, stubPinger{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progression", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/progression", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PreflightRequestSkipsAuth(t *testing.T) {
	srv, _ := newTestServer(t, stubPinger{})

	req := httptest.NewRequest(http.MethodOptions, "/bot-lifecycle", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestServer_Login(t *testing.T) {
	srv, _ := newTestServer(t, stubPinger{})

	body, _ := json.Marshal(map[string]string{"password": "hunter2"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)
}

type deadlineLifecycle struct {
	deadline time.Time
	ok       bool
}

func (l *deadlineLifecycle) Do(ctx context.Context, action, id string, env map[string]string) (*lifecycle.Result, error) {
	l.deadline, l.ok = ctx.Deadline()
	return &lifecycle.Result{Success: true, BotStatus: "running", Message: "live"}, nil
}

func TestServer_ControlRoutesRunWithinBudget(t *testing.T) {
	srv, token := newTestServer(t, stubPinger{})
	lc := &deadlineLifecycle{}
	srv = NewServer(zerolog.Nop(), Services{Store: srv.svc.Store, Auth: srv.svc.Auth, Lifecycle: lc})

	req := httptest.NewRequest(http.MethodPost, "/bot-lifecycle", bytes.NewBufferString(`{"action":"status"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, lc.ok)
	assert.WithinDuration(t, time.Now().Add(HandlerBudget), lc.deadline, 2*time.Second)
}
