package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/migrate"
)

type Migrator interface {
	Prepare(ctx context.Context, srcID, tgtID string) (*migrate.Plan, error)
	Execute(ctx context.Context, srcID, tgtID string, env map[string]string) (*migrate.Outcome, error)
	Rollback(ctx context.Context, srcID, tgtID string, env map[string]string) (*migrate.Outcome, error)
}

type Migrate struct {
	svc Migrator
}

func NewMigrate(svc Migrator) *Migrate {
	return &Migrate{svc: svc}
}

type migrateResponse struct {
	Success bool             `json:"success"`
	Action  string           `json:"action"`
	Plan    *migrate.Plan    `json:"plan,omitempty"`
	Outcome *migrate.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Handle serves POST /migrate-vps for the prepare, execute and rollback
// phases.
func (h *Migrate) Handle(w http.ResponseWriter, r *http.Request) {
	var req request.MigrateVPS
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	out := migrateResponse{Action: req.Action}
	var err error
	switch req.Action {
	case "prepare":
		out.Plan, err = h.svc.Prepare(ctx, req.FromDeploymentID, req.ToDeploymentID)
	case "execute":
		out.Outcome, err = h.svc.Execute(ctx, req.FromDeploymentID, req.ToDeploymentID, req.Env)
	case "rollback":
		out.Outcome, err = h.svc.Rollback(ctx, req.FromDeploymentID, req.ToDeploymentID, req.Env)
	}
	if err != nil {
		out.Error = err.Error()
		if overBudget(ctx) {
			writeResult(w, r, out)
			return
		}
		response.WriteJSON(w, migrateStatus(err), out)
		return
	}

	out.Success = true
	writeResult(w, r, out)
}

// migrateStatus maps a migration error to its HTTP status. Host failures
// are reported as a 200 with success false.
func migrateStatus(err error) int {
	switch {
	case errors.Is(err, migrate.ErrInProgress), errors.Is(err, migrate.ErrMultiplePrimaries):
		return http.StatusConflict
	case errors.Is(err, migrate.ErrSameDeployment), errors.Is(err, migrate.ErrMissingIP):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, migrate.ErrTargetUnhealthy), errors.Is(err, migrate.ErrTargetStart), errors.Is(err, migrate.ErrSourceStart),
		errors.Is(err, migrate.ErrSourceStop):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
