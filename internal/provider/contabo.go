package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/edvin/botplane/internal/model"
)

const (
	contaboAPI   = "https://api.contabo.com/v1"
	contaboToken = "https://auth.contabo.com/auth/realms/contabo/protocol/openid-connect/token"
)

// contabo authenticates with the OAuth2 password grant. The credential's
// APIToken is unused; client id, secret, API user and password live in Extra.
type contabo struct {
	rest     restClient
	oauth    oauth2.Config
	user     string
	password string
	http     *http.Client

	mu  sync.Mutex
	src oauth2.TokenSource
}

func newContabo(cred *model.CloudCredential, o options) (*contabo, error) {
	c := &contabo{
		oauth: oauth2.Config{
			ClientID:     extra(cred, "client_id"),
			ClientSecret: extra(cred, "client_secret"),
			Endpoint:     oauth2.Endpoint{TokenURL: contaboToken, AuthStyle: oauth2.AuthStyleInParams},
		},
		user:     extra(cred, "api_user"),
		password: extra(cred, "api_password"),
		http:     o.httpClient,
	}
	if c.oauth.ClientID == "" || c.user == "" || c.password == "" {
		return nil, errors.New("contabo credential needs client_id, api_user and api_password")
	}
	if o.authURL != "" {
		c.oauth.Endpoint.TokenURL = o.authURL
	}
	base := o.baseURL
	if base == "" {
		base = contaboAPI
	}
	c.rest = restClient{
		caller:     newCaller(Contabo, o.logger),
		baseURL:    base,
		httpClient: o.httpClient,
		authorize:  c.authorize,
	}
	return c, nil
}

func (p *contabo) authorize(ctx context.Context, req *http.Request) error {
	p.mu.Lock()
	if p.src == nil {
		tctx := context.WithValue(ctx, oauth2.HTTPClient, p.http)
		tok, err := p.oauth.PasswordCredentialsToken(tctx, p.user, p.password)
		if err != nil {
			p.mu.Unlock()
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil {
				return &Error{Kind: kindForStatus(re.Response.StatusCode, string(re.Body)), Provider: Contabo, Op: "token", Status: re.Response.StatusCode, Err: err}
			}
			return &Error{Kind: KindTransient, Provider: Contabo, Op: "token", Err: err}
		}
		p.src = p.oauth.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, p.http), tok)
	}
	src := p.src
	p.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return &Error{Kind: KindInvalidCredential, Provider: Contabo, Op: "token", Err: err}
	}
	tok.SetAuthHeader(req)
	req.Header.Set("x-request-id", uuid.NewString())
	return nil
}

type contaboInstance struct {
	InstanceID  int64  `json:"instanceId"`
	Status      string `json:"status"`
	Region      string `json:"region"`
	ProductID   string `json:"productId"`
	DisplayName string `json:"displayName"`
	IPConfig    struct {
		V4 struct {
			IP string `json:"ip"`
		} `json:"v4"`
	} `json:"ipConfig"`
}

func (c contaboInstance) instance() Instance {
	state := StateUnknown
	switch c.Status {
	case "provisioning", "installing", "pending_payment":
		state = StatePending
	case "running":
		state = StateRunning
	case "stopped":
		state = StateStopped
	}
	ip := c.IPConfig.V4.IP
	if !usableIP(ip) {
		ip = ""
	}
	return Instance{
		ID:     strconv.FormatInt(c.InstanceID, 10),
		Status: state,
		Region: c.Region,
		Plan:   c.ProductID,
		IP:     ip,
	}
}

type contaboList struct {
	Data       []contaboInstance `json:"data"`
	Pagination struct {
		TotalPages int `json:"totalPages"`
	} `json:"_pagination"`
}

func (p *contabo) Name() string { return Contabo }

func (p *contabo) Validate(ctx context.Context) (*Validation, error) {
	var resp contaboList
	if err := p.rest.do(ctx, "validate", http.MethodGet, "/compute/instances?size=1", nil, &resp); err != nil {
		if IsKind(err, KindInvalidCredential) {
			return &Validation{OK: false}, nil
		}
		return nil, err
	}
	return &Validation{OK: true}, nil
}

func (p *contabo) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	body := map[string]any{
		"imageId":     req.Image,
		"productId":   req.Plan,
		"region":      req.Region,
		"displayName": req.Label,
		"userData":    req.CloudInit,
		"period":      1,
	}
	if req.SSHKeyID != "" {
		if id, err := strconv.ParseInt(req.SSHKeyID, 10, 64); err == nil {
			body["sshKeys"] = []int64{id}
		}
	}
	var resp contaboList
	if err := p.rest.do(ctx, "create", http.MethodPost, "/compute/instances", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Kind: KindRejected, Provider: Contabo, Op: "create", Err: errors.New("empty create response")}
	}
	inst := resp.Data[0].instance()
	return &inst, nil
}

func (p *contabo) LookupByIP(ctx context.Context, ip string) (*Lookup, error) {
	for page := 1; ; page++ {
		var resp contaboList
		path := fmt.Sprintf("/compute/instances?size=100&page=%d", page)
		if err := p.rest.do(ctx, "lookup", http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, in := range resp.Data {
			if in.IPConfig.V4.IP == ip {
				return &Lookup{Found: true, Instance: in.instance()}, nil
			}
		}
		if page >= resp.Pagination.TotalPages {
			return &Lookup{}, nil
		}
	}
}

func (p *contabo) Start(ctx context.Context, id string) error {
	return p.rest.do(ctx, "start", http.MethodPost, "/compute/instances/"+id+"/actions/start", nil, nil)
}

func (p *contabo) Halt(ctx context.Context, id string) error {
	return p.rest.do(ctx, "halt", http.MethodPost, "/compute/instances/"+id+"/actions/stop", nil, nil)
}

// Destroy cancels the instance contract; Contabo has no immediate delete.
func (p *contabo) Destroy(ctx context.Context, id string) error {
	return p.rest.do(ctx, "destroy", http.MethodPost, "/compute/instances/"+id+"/cancel", map[string]any{}, nil)
}

func (p *contabo) InstanceIP(ctx context.Context, id string) (string, error) {
	var resp contaboList
	if err := p.rest.do(ctx, "instance_ip", http.MethodGet, "/compute/instances/"+id, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].instance().IP, nil
}
