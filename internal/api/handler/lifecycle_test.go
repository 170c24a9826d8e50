package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/lifecycle"
	"github.com/edvin/botplane/internal/preflight"
)

type mockBotController struct {
	mock.Mock
}

func (m *mockBotController) Do(ctx context.Context, action, id string, env map[string]string) (*lifecycle.Result, error) {
	args := m.Called(ctx, action, id, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.Result), args.Error(1)
}

type gatePreflight struct {
	rep   *preflight.Report
	calls int
}

func (g *gatePreflight) Run(ctx context.Context) (*preflight.Report, error) {
	g.calls++
	return g.rep, nil
}

func passing() *gatePreflight {
	return &gatePreflight{rep: &preflight.Report{OK: true, Reasons: []string{}}}
}

func TestLifecycle_Start(t *testing.T) {
	svc := new(mockBotController)
	svc.On("Do", mock.Anything, "start", "", map[string]string{"MODE": "paper"}).
		Return(&lifecycle.Result{Success: true, BotStatus: "running", VPSReachable: true, VPSIP: "203.0.113.10", Message: "bot started"}, nil)
	gate := passing()
	h := NewLifecycle(svc, gate)

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "start", "env": map[string]string{"MODE": "paper"}}))
	assert.Equal(t, 1, gate.calls)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "running", body["botStatus"])
	assert.Equal(t, true, body["vpsReachable"])
	assert.Equal(t, "203.0.113.10", body["vpsIp"])
	svc.AssertExpectations(t)
}

func TestLifecycle_HostFailureIsReported(t *testing.T) {
	svc := new(mockBotController)
	svc.On("Do", mock.Anything, "stop", "dep-1", mock.Anything).
		Return(&lifecycle.Result{BotStatus: "error", VPSIP: "203.0.113.10", Message: "stop failed", Error: "connection refused"}, nil)
	gate := passing()
	h := NewLifecycle(svc, gate)

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "stop", "deploymentId": "dep-1"}))
	assert.Zero(t, gate.calls, "stop is never gated")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestLifecycle_NoDeployment(t *testing.T) {
	svc := new(mockBotController)
	svc.On("Do", mock.Anything, "status", "", mock.Anything).
		Return(nil, errors.Join(lifecycle.ErrNoDeployment, core.ErrNotFound))
	h := NewLifecycle(svc, passing())

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "status"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no active VPS deployment found", decodeBody(rec)["error"])
}

func TestLifecycle_InvalidAction(t *testing.T) {
	h := NewLifecycle(new(mockBotController), passing())

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "pause"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Handle(rec, newRequestRaw(http.MethodPost, "/bot-lifecycle", "{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycle_StartDeniedByPreflight(t *testing.T) {
	for _, action := range []string{"start", "restart"} {
		t.Run(action, func(t *testing.T) {
			svc := new(mockBotController)
			gate := &gatePreflight{rep: &preflight.Report{
				Reasons: []string{"No exchange with API credentials configured", "Balance too low ($3.21)"},
				Host:    preflight.HostReport{Found: true, DeploymentID: "dep-1", IP: "203.0.113.10", Reachable: true},
			}}
			h := NewLifecycle(svc, gate)

			rec := httptest.NewRecorder()
			h.Handle(rec, newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": action}))

			assert.Equal(t, http.StatusOK, rec.Code)
			body := decodeBody(rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "preflight denied", body["message"])
			assert.Equal(t, "203.0.113.10", body["vpsIp"])
			assert.Equal(t, []any{"No exchange with API credentials configured", "Balance too low ($3.21)"}, body["reasons"])
			assert.NotNil(t, body["preflight"])
			svc.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLifecycle_OverBudgetIsPartial(t *testing.T) {
	svc := new(mockBotController)
	svc.On("Do", mock.Anything, "stop", "", mock.Anything).
		Return(&lifecycle.Result{BotStatus: "error", VPSIP: "203.0.113.10", Message: "stop failed", Error: "context deadline exceeded"}, nil)
	h := NewLifecycle(svc, passing())

	req := newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "stop"})
	ctx, cancel := context.WithTimeout(req.Context(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	rec := httptest.NewRecorder()
	h.Handle(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["timeout"])
	assert.Equal(t, "203.0.113.10", body["vpsIp"])
}

func TestLifecycle_StoreErrorOverBudgetIsPartial(t *testing.T) {
	svc := new(mockBotController)
	svc.On("Do", mock.Anything, "status", "", mock.Anything).Return(nil, context.DeadlineExceeded)
	h := NewLifecycle(svc, passing())

	req := newRequest(http.MethodPost, "/bot-lifecycle", map[string]any{"action": "status"})
	ctx, cancel := context.WithTimeout(req.Context(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	rec := httptest.NewRecorder()
	h.Handle(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(rec)
	assert.Equal(t, true, body["timeout"])
	assert.Equal(t, "context deadline exceeded", body["error"])
}
