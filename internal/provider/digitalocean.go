package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edvin/botplane/internal/model"
)

const digitalOceanAPI = "https://api.digitalocean.com/v2"

type digitalOcean struct {
	rest restClient
}

func newDigitalOcean(cred *model.CloudCredential, o options) *digitalOcean {
	base := o.baseURL
	if base == "" {
		base = digitalOceanAPI
	}
	return &digitalOcean{rest: restClient{
		caller:     newCaller(DigitalOcean, o.logger),
		baseURL:    base,
		httpClient: o.httpClient,
		authorize:  bearer(cred.APIToken),
	}}
}

type doDroplet struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	SizeSlug string `json:"size_slug"`
	Region   struct {
		Slug string `json:"slug"`
	} `json:"region"`
	Networks struct {
		V4 []struct {
			IPAddress string `json:"ip_address"`
			Type      string `json:"type"`
		} `json:"v4"`
	} `json:"networks"`
}

func (d doDroplet) publicIP() string {
	for _, n := range d.Networks.V4 {
		if n.Type == "public" && usableIP(n.IPAddress) {
			return n.IPAddress
		}
	}
	return ""
}

func (d doDroplet) instance() Instance {
	state := StateUnknown
	switch d.Status {
	case "new":
		state = StatePending
	case "active":
		state = StateRunning
	case "off", "archive":
		state = StateStopped
	}
	return Instance{
		ID:     strconv.FormatInt(d.ID, 10),
		Status: state,
		Region: d.Region.Slug,
		Plan:   d.SizeSlug,
		IP:     d.publicIP(),
	}
}

func (p *digitalOcean) Name() string { return DigitalOcean }

func (p *digitalOcean) Validate(ctx context.Context) (*Validation, error) {
	var resp struct {
		MonthToDateBalance string `json:"month_to_date_balance"`
		AccountBalance     string `json:"account_balance"`
	}
	if err := p.rest.do(ctx, "validate", http.MethodGet, "/customers/my/balance", nil, &resp); err != nil {
		if IsKind(err, KindInvalidCredential) {
			return &Validation{OK: false}, nil
		}
		return nil, err
	}
	v := &Validation{OK: true}
	if bal, err := strconv.ParseFloat(resp.AccountBalance, 64); err == nil {
		// A negative account balance is credit.
		credit := -bal
		v.AccountBalance = &credit
	}
	return v, nil
}

func (p *digitalOcean) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	body := map[string]any{
		"name":      req.Label,
		"region":    req.Region,
		"size":      req.Plan,
		"image":     req.Image,
		"user_data": req.CloudInit,
		"ipv6":      false,
		"tags":      []string{"botplane"},
	}
	if req.SSHKeyID != "" {
		body["ssh_keys"] = []string{req.SSHKeyID}
	}
	var resp struct {
		Droplet doDroplet `json:"droplet"`
	}
	if err := p.rest.do(ctx, "create", http.MethodPost, "/droplets", body, &resp); err != nil {
		return nil, err
	}
	inst := resp.Droplet.instance()
	return &inst, nil
}

// LookupByIP pages through the account's droplets; the API cannot filter
// by address.
func (p *digitalOcean) LookupByIP(ctx context.Context, ip string) (*Lookup, error) {
	const perPage = 200
	for page := 1; ; page++ {
		var resp struct {
			Droplets []doDroplet `json:"droplets"`
		}
		path := fmt.Sprintf("/droplets?per_page=%d&page=%d", perPage, page)
		if err := p.rest.do(ctx, "lookup", http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Droplets {
			if d.publicIP() == ip {
				return &Lookup{Found: true, Instance: d.instance()}, nil
			}
		}
		if len(resp.Droplets) < perPage {
			return &Lookup{}, nil
		}
	}
}

func (p *digitalOcean) action(ctx context.Context, op, id, typ string) error {
	return p.rest.do(ctx, op, http.MethodPost, "/droplets/"+id+"/actions", map[string]string{"type": typ}, nil)
}

func (p *digitalOcean) Start(ctx context.Context, id string) error {
	return p.action(ctx, "start", id, "power_on")
}

func (p *digitalOcean) Halt(ctx context.Context, id string) error {
	return p.action(ctx, "halt", id, "power_off")
}

func (p *digitalOcean) Destroy(ctx context.Context, id string) error {
	return p.rest.do(ctx, "destroy", http.MethodDelete, "/droplets/"+id, nil, nil)
}

func (p *digitalOcean) InstanceIP(ctx context.Context, id string) (string, error) {
	var resp struct {
		Droplet doDroplet `json:"droplet"`
	}
	if err := p.rest.do(ctx, "instance_ip", http.MethodGet, "/droplets/"+id, nil, &resp); err != nil {
		return "", err
	}
	return resp.Droplet.publicIP(), nil
}
