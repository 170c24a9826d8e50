package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/reconcile"
)

// HealthTimeout bounds an operator-triggered probe.
const HealthTimeout = 8 * time.Second

type DeploymentLookup interface {
	GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error)
	GetDeploymentByIP(ctx context.Context, ip string) (*model.DeploymentTarget, error)
}

type Prober interface {
	Probe(ctx context.Context, ip string, timeout time.Duration) model.ProbeResult
}

type Reconciler interface {
	Apply(ctx context.Context, target reconcile.Target, res model.ProbeResult) (*reconcile.Outcome, error)
}

type Health struct {
	store      DeploymentLookup
	prober     Prober
	reconciler Reconciler
}

func NewHealth(store DeploymentLookup, prober Prober, reconciler Reconciler) *Health {
	return &Health{store: store, prober: prober, reconciler: reconciler}
}

type healthResponse struct {
	Success             bool           `json:"success"`
	Healthy             bool           `json:"healthy"`
	IP                  string         `json:"ip"`
	Provider            string         `json:"provider,omitempty"`
	LatencyMS           int            `json:"latency_ms"`
	Data                *model.Metrics `json:"data,omitempty"`
	Status              string         `json:"status,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	SignalEndpointValid bool           `json:"signalEndpointValid"`
	Error               string         `json:"error,omitempty"`
}

// Check serves POST /check-vps-health. Without an ipAddress it probes the
// active deployment. A probe of an address with no known host is reported
// but not recorded.
func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	var req request.CheckHealth
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var (
		target *model.DeploymentTarget
		err    error
	)
	if req.IPAddress == "" {
		target, err = h.store.GetActiveDeployment(ctx)
		if err != nil {
			writeFailure(w, r, storeStatus(err), "no active VPS deployment found")
			return
		}
	} else {
		target, err = h.store.GetDeploymentByIP(ctx, req.IPAddress)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			writeFailure(w, r, http.StatusInternalServerError, err.Error())
			return
		}
	}

	ip := req.IPAddress
	if target != nil {
		ip = target.IP()
	}
	if ip == "" {
		response.WriteError(w, http.StatusBadRequest, "deployment has no IP address")
		return
	}

	res := h.prober.Probe(ctx, ip, HealthTimeout)
	out := healthResponse{
		Success:             true,
		Healthy:             res.Reachable,
		IP:                  ip,
		LatencyMS:           res.LatencyMS,
		Data:                res.Metrics,
		SignalEndpointValid: res.SignalEndpointValid,
		Error:               res.Error,
	}

	if target != nil {
		out.Provider = target.Provider
		outcome, err := h.reconciler.Apply(ctx, reconcile.Target{IP: ip, Provider: target.Provider, Status: target.HostState}, res)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("ip", ip).Msg("record health check")
			writeFailure(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		out.Status = outcome.Status
		out.ConsecutiveFailures = outcome.ConsecutiveFailures
	}

	writeResult(w, r, out)
}
