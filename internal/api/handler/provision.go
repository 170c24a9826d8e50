package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/provision"
)

type Provisioner interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
	Control(ctx context.Context, req provision.InstanceRequest) (*provision.InstanceResult, error)
}

type AgentVerifier interface {
	Verify(ctx context.Context, ip string) (*provision.Verification, error)
}

type Provision struct {
	svc      Provisioner
	verifier AgentVerifier
}

func NewProvision(svc Provisioner, verifier AgentVerifier) *Provision {
	return &Provision{svc: svc, verifier: verifier}
}

// Create serves POST /provision-vps. With ipAddress set the existing
// instance is adopted instead of a new one being created.
func (h *Provision) Create(w http.ResponseWriter, r *http.Request) {
	var req provision.Request
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Provision(r.Context(), req)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, res)
}

// Instance serves POST /vps-instance.
func (h *Provision) Instance(w http.ResponseWriter, r *http.Request) {
	var req provision.InstanceRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Control(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, provision.ErrDestroyPrimary):
			response.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, provision.ErrNoInstance), errors.Is(err, provision.ErrUnknownAction):
			response.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			writeFailure(w, r, storeStatus(err), err.Error())
		}
		return
	}

	writeResult(w, r, res)
}

// Verify serves POST /deploy-vps-api.
func (h *Provision) Verify(w http.ResponseWriter, r *http.Request) {
	var req request.DeployAPI
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.verifier.Verify(r.Context(), req.IPAddress)
	if err != nil {
		switch {
		case errors.Is(err, provision.ErrNoAddress):
			response.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, core.ErrNotFound):
			response.WriteError(w, http.StatusNotFound, "no active VPS deployment found")
		default:
			writeFailure(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeResult(w, r, res)
}
