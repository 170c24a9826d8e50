package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"

	"github.com/edvin/botplane/internal/model"
)

const vultrAPI = "https://api.vultr.com/v2"

type vultr struct {
	rest restClient
}

func newVultr(cred *model.CloudCredential, o options) *vultr {
	base := o.baseURL
	if base == "" {
		base = vultrAPI
	}
	return &vultr{rest: restClient{
		caller:     newCaller(Vultr, o.logger),
		baseURL:    base,
		httpClient: o.httpClient,
		authorize:  bearer(cred.APIToken),
	}}
}

type vultrInstance struct {
	ID         string `json:"id"`
	MainIP     string `json:"main_ip"`
	Region     string `json:"region"`
	Plan       string `json:"plan"`
	Status     string `json:"status"`
	PowerState string `json:"power_status"`
}

func (v vultrInstance) instance() Instance {
	state := StateUnknown
	switch {
	case v.Status == "pending":
		state = StatePending
	case v.PowerState == "running":
		state = StateRunning
	case v.PowerState == "stopped":
		state = StateStopped
	}
	ip := v.MainIP
	if !usableIP(ip) {
		ip = ""
	}
	return Instance{ID: v.ID, Status: state, Region: v.Region, Plan: v.Plan, IP: ip}
}

func (p *vultr) Name() string { return Vultr }

func (p *vultr) Validate(ctx context.Context) (*Validation, error) {
	var resp struct {
		Account struct {
			Balance        float64 `json:"balance"`
			PendingCharges float64 `json:"pending_charges"`
		} `json:"account"`
	}
	if err := p.rest.do(ctx, "validate", http.MethodGet, "/account", nil, &resp); err != nil {
		if IsKind(err, KindInvalidCredential) {
			return &Validation{OK: false}, nil
		}
		return nil, err
	}
	// Vultr reports credit as a negative balance.
	credit := -resp.Account.Balance - resp.Account.PendingCharges
	return &Validation{OK: true, AccountBalance: &credit}, nil
}

func (p *vultr) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	body := map[string]any{
		"region":    req.Region,
		"plan":      req.Plan,
		"label":     req.Label,
		"hostname":  req.Label,
		"user_data": base64.StdEncoding.EncodeToString([]byte(req.CloudInit)),
		"backups":   "disabled",
		"tags":      []string{"botplane"},
	}
	if osID, err := strconv.Atoi(req.Image); err == nil {
		body["os_id"] = osID
	} else {
		body["image_id"] = req.Image
	}
	if req.SSHKeyID != "" {
		body["sshkey_id"] = []string{req.SSHKeyID}
	}

	var resp struct {
		Instance vultrInstance `json:"instance"`
	}
	if err := p.rest.do(ctx, "create", http.MethodPost, "/instances", body, &resp); err != nil {
		return nil, err
	}
	inst := resp.Instance.instance()
	return &inst, nil
}

func (p *vultr) LookupByIP(ctx context.Context, ip string) (*Lookup, error) {
	var resp struct {
		Instances []vultrInstance `json:"instances"`
	}
	if err := p.rest.do(ctx, "lookup", http.MethodGet, "/instances?main_ip="+url.QueryEscape(ip), nil, &resp); err != nil {
		return nil, err
	}
	for _, in := range resp.Instances {
		if in.MainIP == ip {
			return &Lookup{Found: true, Instance: in.instance()}, nil
		}
	}
	return &Lookup{}, nil
}

func (p *vultr) Start(ctx context.Context, id string) error {
	return p.rest.do(ctx, "start", http.MethodPost, "/instances/"+url.PathEscape(id)+"/start", nil, nil)
}

func (p *vultr) Halt(ctx context.Context, id string) error {
	return p.rest.do(ctx, "halt", http.MethodPost, "/instances/"+url.PathEscape(id)+"/halt", nil, nil)
}

func (p *vultr) Destroy(ctx context.Context, id string) error {
	return p.rest.do(ctx, "destroy", http.MethodDelete, "/instances/"+url.PathEscape(id), nil, nil)
}

func (p *vultr) InstanceIP(ctx context.Context, id string) (string, error) {
	var resp struct {
		Instance vultrInstance `json:"instance"`
	}
	if err := p.rest.do(ctx, "instance_ip", http.MethodGet, "/instances/"+url.PathEscape(id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Instance.instance().IP, nil
}
