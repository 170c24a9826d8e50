// Package provision creates, adopts and controls bot hosts through the
// provider adapters and records them in the store.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/platform"
	"github.com/edvin/botplane/internal/provider"
)

type Store interface {
	GetCloudCredential(ctx context.Context, provider string) (*model.CloudCredential, error)
	UpsertCloudCredential(ctx context.Context, c *model.CloudCredential) error
	CreateHost(ctx context.Context, h *model.Host) error
	GetHost(ctx context.Context, id string) (*model.Host, error)
	FindLiveHostByIP(ctx context.Context, provider, ip string) (*model.Host, error)
	SetHostAddress(ctx context.Context, id, ip, status string) error
	SetHostStatus(ctx context.Context, ip, status string) error
	MarkHostFailed(ctx context.Context, id, reason string) error
	DeleteHost(ctx context.Context, id string) error
	CreateDeployment(ctx context.Context, d *model.Deployment) error
	GetDeployment(ctx context.Context, id string) (*model.DeploymentTarget, error)
	ListDeployments(ctx context.Context) ([]model.DeploymentTarget, error)
	CountPrimaries(ctx context.Context) (int, error)
	SetActiveHost(ctx context.Context, provider, region, ip string) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

// AdapterFactory builds the provider adapter for a credential.
type AdapterFactory func(ctx context.Context, cred *model.CloudCredential) (provider.Adapter, error)

type Config struct {
	CloudInit    provider.CloudInit
	SSHKeyID     string
	PollAttempts int
	PollStep     time.Duration
}

// Credentials are supplied inline on a request and stored for later calls.
type Credentials struct {
	APIToken string            `json:"apiToken"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type Request struct {
	Provider       string       `json:"provider" validate:"required,oneof=vultr digitalocean contabo aws gcp"`
	TargetExchange string       `json:"targetExchange" validate:"omitempty,slug"`
	IPAddress      string       `json:"ipAddress,omitempty" validate:"omitempty,ipv4"`
	Region         string       `json:"region,omitempty"`
	Plan           string       `json:"plan,omitempty"`
	Credentials    *Credentials `json:"credentials,omitempty"`
}

type Result struct {
	Success      bool   `json:"success"`
	InstanceID   string `json:"instanceId,omitempty"`
	PublicIP     string `json:"publicIp,omitempty"`
	HostID       string `json:"hostId,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	Region       string `json:"region,omitempty"`
	Plan         string `json:"plan,omitempty"`
	Status       string `json:"status,omitempty"`
	Adopted      bool   `json:"adopted,omitempty"`
	Primary      bool   `json:"primary,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
}

type Provisioner struct {
	store      Store
	newAdapter AdapterFactory
	cfg        Config
	logger     zerolog.Logger
}

func New(store Store, factory AdapterFactory, cfg Config, logger zerolog.Logger) *Provisioner {
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 20
	}
	if cfg.PollStep == 0 {
		cfg.PollStep = 3 * time.Second
	}
	return &Provisioner{
		store:      store,
		newAdapter: factory,
		cfg:        cfg,
		logger:     logger.With().Str("component", "provisioner").Logger(),
	}
}

// Provision creates a new host, or adopts the existing instance at
// req.IPAddress. Provider failures are reported in the Result; only store
// failures are returned.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	cred, err := p.credential(ctx, req.Provider, req.Credentials)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &Result{Error: fmt.Sprintf("no %s credentials configured", req.Provider), ErrorKind: string(provider.KindInvalidCredential)}, nil
	}
	adapter, err := p.newAdapter(ctx, cred)
	if err != nil {
		return &Result{Error: err.Error(), ErrorKind: string(provider.KindInvalidCredential)}, nil
	}
	if req.IPAddress != "" {
		return p.adopt(ctx, adapter, req)
	}
	return p.create(ctx, adapter, req)
}

func (p *Provisioner) credential(ctx context.Context, name string, inline *Credentials) (*model.CloudCredential, error) {
	if inline != nil && (inline.APIToken != "" || len(inline.Extra) > 0) {
		cred := &model.CloudCredential{Provider: name, APIToken: inline.APIToken, Extra: inline.Extra}
		if err := p.store.UpsertCloudCredential(ctx, cred); err != nil {
			return nil, err
		}
		return cred, nil
	}
	cred, err := p.store.GetCloudCredential(ctx, name)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return cred, err
}

func (p *Provisioner) create(ctx context.Context, a provider.Adapter, req Request) (*Result, error) {
	v, err := a.Validate(ctx)
	if err != nil {
		return providerFailure(err), nil
	}
	if !v.OK {
		return &Result{Error: "provider rejected the credentials", ErrorKind: string(provider.KindInvalidCredential)}, nil
	}

	placement, err := provider.Select(req.TargetExchange, req.Provider)
	if err != nil {
		return &Result{Error: err.Error(), ErrorKind: string(provider.KindRejected)}, nil
	}
	region, plan := placement.Region, placement.Plan.ID
	if req.Region != "" {
		region = req.Region
	}
	if req.Plan != "" {
		plan = req.Plan
	}

	userData, err := p.cfg.CloudInit.Render()
	if err != nil {
		return nil, err
	}
	label := platform.NewName("bot-")
	inst, err := a.Create(ctx, provider.CreateRequest{
		Label: label, Region: region, Plan: plan, Image: placement.Image,
		SSHKeyID: p.cfg.SSHKeyID, CloudInit: userData,
	})
	if err != nil {
		return providerFailure(err), nil
	}

	host := &model.Host{
		ID: platform.NewID(), Provider: req.Provider, Region: region, InstanceType: plan,
		InstanceID: inst.ID, Status: model.HostProvisioning, BotStatus: model.BotStopped, Label: &label,
	}
	if p.cfg.SSHKeyID != "" {
		host.SSHKeyID = &p.cfg.SSHKeyID
	}
	if err := p.store.CreateHost(ctx, host); err != nil {
		return nil, err
	}
	p.logger.Info().Str("provider", req.Provider).Str("instance", inst.ID).Str("region", region).Msg("instance created")

	ip := inst.IP
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil || parsed.IsUnspecified() {
		ip, err = provider.PollUntilIP(ctx, a, inst.ID, p.cfg.PollAttempts, p.cfg.PollStep)
		if err != nil {
			wctx, cancel := writeContext(ctx)
			defer cancel()
			if ferr := p.store.MarkHostFailed(wctx, host.ID, err.Error()); ferr != nil {
				return nil, ferr
			}
			return providerFailure(err), nil
		}
	}

	res := &Result{
		InstanceID: inst.ID, HostID: host.ID, Region: region, Plan: plan, Status: model.HostProvisioning,
	}
	if ip == provider.PendingIP {
		res.Success = true
		res.PublicIP = provider.PendingIP
		res.Message = "instance created; address still pending"
		p.event(ctx, req.Provider, "created", "VPS created", res)
		return res, nil
	}

	if err := p.store.SetHostAddress(ctx, host.ID, ip, model.HostProvisioning); err != nil {
		return nil, err
	}
	res.PublicIP = ip
	if err := p.attach(ctx, host, ip, res); err != nil {
		return nil, err
	}
	res.Success = true
	res.Message = "instance created"
	p.event(ctx, req.Provider, "created", "VPS created", res)
	return res, nil
}

func (p *Provisioner) adopt(ctx context.Context, a provider.Adapter, req Request) (*Result, error) {
	existing, err := p.store.FindLiveHostByIP(ctx, req.Provider, req.IPAddress)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{
			Success: true, Adopted: true, HostID: existing.ID, InstanceID: existing.InstanceID,
			PublicIP: req.IPAddress, Region: existing.Region, Plan: existing.InstanceType, Status: existing.Status,
			Message: "host already registered",
		}, nil
	}

	found, err := a.LookupByIP(ctx, req.IPAddress)
	if err != nil {
		return providerFailure(err), nil
	}
	if !found.Found {
		return &Result{
			Error:     fmt.Sprintf("no %s instance has address %s", req.Provider, req.IPAddress),
			ErrorKind: string(provider.KindNotFound),
		}, nil
	}

	status := model.HostProvisioning
	if found.Status == provider.StateStopped {
		status = model.HostStopped
	}
	ip := req.IPAddress
	host := &model.Host{
		ID: platform.NewID(), Provider: req.Provider, Region: found.Region, InstanceType: found.Plan,
		InstanceID: found.ID, IPAddress: &ip, Status: status, BotStatus: model.BotUnknown,
	}
	if err := p.store.CreateHost(ctx, host); err != nil {
		return nil, err
	}
	res := &Result{
		Success: true, Adopted: true, InstanceID: found.ID, PublicIP: ip, HostID: host.ID,
		Region: found.Region, Plan: found.Plan, Status: status, Message: "existing instance adopted",
	}
	if err := p.attach(ctx, host, ip, res); err != nil {
		return nil, err
	}
	p.event(ctx, req.Provider, "adopted", "VPS adopted", res)
	return res, nil
}

// attach binds a deployment to host. The first deployment becomes primary
// and its address becomes the one exchanges expect.
func (p *Provisioner) attach(ctx context.Context, host *model.Host, ip string, res *Result) error {
	n, err := p.store.CountPrimaries(ctx)
	if err != nil {
		return err
	}
	d := &model.Deployment{
		ID: platform.NewID(), HostID: host.ID, IsPrimary: n == 0,
		Status: model.DeployActive, BotStatus: model.BotStopped,
	}
	if err := p.store.CreateDeployment(ctx, d); err != nil {
		return err
	}
	res.DeploymentID = d.ID
	res.Primary = d.IsPrimary
	if d.IsPrimary {
		return p.store.SetActiveHost(ctx, host.Provider, host.Region, ip)
	}
	return nil
}

func (p *Provisioner) event(ctx context.Context, prov, subtype, title string, res *Result) {
	meta, _ := json.Marshal(res)
	if err := p.store.RecordEvent(ctx, &model.TimelineEvent{
		Provider:    prov,
		EventType:   model.EventProvision,
		Subtype:     subtype,
		Title:       title,
		Description: fmt.Sprintf("%s %s in %s", res.InstanceID, res.PublicIP, res.Region),
		Metadata:    meta,
	}); err != nil {
		p.logger.Error().Err(err).Msg("record provision event")
	}
}

func providerFailure(err error) *Result {
	kind := string(provider.KindOf(err))
	if kind == "" {
		kind = string(provider.KindTransient)
	}
	return &Result{Error: err.Error(), ErrorKind: kind}
}

func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
