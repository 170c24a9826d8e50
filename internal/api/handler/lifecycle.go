package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/lifecycle"
	"github.com/edvin/botplane/internal/preflight"
)

type BotController interface {
	Do(ctx context.Context, action, id string, env map[string]string) (*lifecycle.Result, error)
}

type Lifecycle struct {
	svc       BotController
	preflight PreflightRunner
}

func NewLifecycle(svc BotController, preflight PreflightRunner) *Lifecycle {
	return &Lifecycle{svc: svc, preflight: preflight}
}

type lifecycleResponse struct {
	*lifecycle.Result
	Reasons   []string          `json:"reasons,omitempty"`
	Preflight *preflight.Report `json:"preflight,omitempty"`
}

// Handle serves POST /bot-lifecycle. start and restart only reach the host
// once preflight passes. Host failures and denials come back as a 200 with
// success false; only a missing deployment or a store failure is an HTTP
// error.
func (h *Lifecycle) Handle(w http.ResponseWriter, r *http.Request) {
	var req request.BotLifecycle
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.Action == hostagent.ActionStart || req.Action == hostagent.ActionRestart {
		rep, err := h.preflight.Run(ctx)
		if err != nil {
			writeFailure(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		if !rep.OK {
			zerolog.Ctx(ctx).Warn().Str("action", req.Action).Strs("reasons", rep.Reasons).Msg("lifecycle action refused by preflight")
			writeResult(w, r, lifecycleResponse{
				Result: &lifecycle.Result{
					VPSReachable: rep.Host.Reachable,
					VPSIP:        rep.Host.IP,
					DeploymentID: rep.Host.DeploymentID,
					Message:      "preflight denied",
				},
				Reasons:   rep.Reasons,
				Preflight: rep,
			})
			return
		}
	}

	res, err := h.svc.Do(ctx, req.Action, req.DeploymentID, req.Env)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoDeployment) {
			writeFailure(w, r, http.StatusNotFound, lifecycle.ErrNoDeployment.Error())
			return
		}
		writeFailure(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeResult(w, r, lifecycleResponse{Result: res})
}
