package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/provider"
)

// Instance actions.
const (
	ActionStart   = "start"
	ActionHalt    = "halt"
	ActionDestroy = "destroy"
)

var (
	ErrUnknownAction  = errors.New("unknown instance action")
	ErrNoInstance     = errors.New("host has no provider instance")
	ErrDestroyPrimary = errors.New("refusing to destroy the primary host while other deployments exist")
	ErrNoAddress      = errors.New("host has no ip address")
)

// InstanceRequest names the host directly or through one of its deployments.
type InstanceRequest struct {
	HostID       string `json:"hostId,omitempty" validate:"required_without=DeploymentID"`
	DeploymentID string `json:"deploymentId,omitempty"`
	Action       string `json:"action" validate:"required,oneof=start halt destroy"`
}

type InstanceResult struct {
	Success    bool   `json:"success"`
	HostID     string `json:"hostId"`
	InstanceID string `json:"instanceId,omitempty"`
	Action     string `json:"action"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
}

// Control powers a host's instance on or off, or destroys it and removes
// the host and its deployments.
func (p *Provisioner) Control(ctx context.Context, req InstanceRequest) (*InstanceResult, error) {
	if req.HostID == "" {
		d, err := p.store.GetDeployment(ctx, req.DeploymentID)
		if err != nil {
			return nil, err
		}
		req.HostID = d.HostID
	}
	host, err := p.store.GetHost(ctx, req.HostID)
	if err != nil {
		return nil, err
	}
	if host.InstanceID == "" {
		return nil, fmt.Errorf("control host %s: %w", host.ID, ErrNoInstance)
	}
	if req.Action == ActionDestroy {
		if err := p.checkDestroy(ctx, host.ID); err != nil {
			return nil, err
		}
	}

	res := &InstanceResult{HostID: host.ID, InstanceID: host.InstanceID, Action: req.Action}
	cred, err := p.credential(ctx, host.Provider, nil)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		res.Error = fmt.Sprintf("no %s credentials configured", host.Provider)
		res.ErrorKind = string(provider.KindInvalidCredential)
		return res, nil
	}
	adapter, err := p.newAdapter(ctx, cred)
	if err != nil {
		res.Error, res.ErrorKind = err.Error(), string(provider.KindInvalidCredential)
		return res, nil
	}

	var status string
	switch req.Action {
	case ActionStart:
		err = adapter.Start(ctx, host.InstanceID)
		status = model.HostProvisioning
	case ActionHalt:
		err = adapter.Halt(ctx, host.InstanceID)
		status = model.HostStopped
	case ActionDestroy:
		err = adapter.Destroy(ctx, host.InstanceID)
		if provider.IsKind(err, provider.KindNotFound) {
			err = nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if err != nil {
		f := providerFailure(err)
		res.Error, res.ErrorKind = f.Error, f.ErrorKind
		return res, nil
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if req.Action == ActionDestroy {
		if err := p.store.DeleteHost(wctx, host.ID); err != nil {
			return nil, err
		}
		res.Status = "destroyed"
	} else if host.IP() != "" {
		if err := p.store.SetHostStatus(wctx, host.IP(), status); err != nil {
			return nil, err
		}
		res.Status = status
	} else {
		res.Status = host.Status
	}
	res.Success = true

	meta, _ := json.Marshal(res)
	if err := p.store.RecordEvent(wctx, &model.TimelineEvent{
		Provider:    host.Provider,
		EventType:   model.EventProvision,
		Subtype:     req.Action,
		Title:       "VPS " + req.Action,
		Description: fmt.Sprintf("instance %s", host.InstanceID),
		Metadata:    meta,
	}); err != nil {
		p.logger.Error().Err(err).Msg("record instance event")
	}
	p.logger.Info().Str("host", host.ID).Str("action", req.Action).Msg("instance action applied")
	return res, nil
}

func (p *Provisioner) checkDestroy(ctx context.Context, hostID string) error {
	deps, err := p.store.ListDeployments(ctx)
	if err != nil {
		return err
	}
	primary := false
	for _, d := range deps {
		if d.HostID == hostID && d.IsPrimary {
			primary = true
		}
	}
	if primary && len(deps) > 1 {
		return ErrDestroyPrimary
	}
	return nil
}
