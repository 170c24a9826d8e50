// Package provider drives the cloud APIs that create and manage bot hosts.
// Every provider is exposed through the same Adapter interface.
package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/model"
)

// Provider names.
const (
	Vultr        = "vultr"
	DigitalOcean = "digitalocean"
	Contabo      = "contabo"
	AWS          = "aws"
	GCP          = "gcp"
)

// Names lists every supported provider.
var Names = []string{Vultr, DigitalOcean, Contabo, AWS, GCP}

// Normalized instance states.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateStopped = "stopped"
	StateUnknown = "unknown"
)

// PendingIP is what PollUntilIP returns when no address appeared in time.
const PendingIP = "pending"

type Validation struct {
	OK             bool     `json:"ok"`
	AccountBalance *float64 `json:"account_balance,omitempty"`
}

type CreateRequest struct {
	Label     string
	Region    string
	Plan      string
	Image     string
	SSHKeyID  string
	CloudInit string
}

type Instance struct {
	ID     string `json:"instance_id"`
	Status string `json:"status"`
	Region string `json:"region,omitempty"`
	Plan   string `json:"plan,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type Lookup struct {
	Found bool `json:"found"`
	Instance
}

// Adapter is one cloud provider account.
type Adapter interface {
	Name() string
	Validate(ctx context.Context) (*Validation, error)
	Create(ctx context.Context, req CreateRequest) (*Instance, error)
	LookupByIP(ctx context.Context, ip string) (*Lookup, error)
	Start(ctx context.Context, id string) error
	Halt(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	// InstanceIP returns the public IPv4 of an instance, or "" while none
	// is assigned.
	InstanceIP(ctx context.Context, id string) (string, error)
}

type options struct {
	baseURL    string
	authURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*options)

// WithBaseURL points the adapter at a different API endpoint.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = strings.TrimRight(u, "/") } }

// WithAuthURL overrides the token endpoint of providers that use OAuth.
func WithAuthURL(u string) Option { return func(o *options) { o.authURL = u } }

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// New builds the adapter for cred.Provider.
func New(ctx context.Context, cred *model.CloudCredential, opts ...Option) (Adapter, error) {
	o := options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch cred.Provider {
	case Vultr:
		return newVultr(cred, o), nil
	case DigitalOcean:
		return newDigitalOcean(cred, o), nil
	case Contabo:
		return newContabo(cred, o)
	case AWS:
		return newAWS(cred, o)
	case GCP:
		return newGCP(ctx, cred, o)
	}
	return nil, fmt.Errorf("unknown provider %q", cred.Provider)
}

// PollUntilIP asks for the instance address up to attempts times, waiting
// step*n before the n-th retry. It returns PendingIP when none appeared.
func PollUntilIP(ctx context.Context, a Adapter, id string, attempts int, step time.Duration) (string, error) {
	for n := 1; n <= attempts; n++ {
		ip, err := a.InstanceIP(ctx, id)
		if err != nil && !IsKind(err, KindTransient) && !IsKind(err, KindNotFound) {
			return "", err
		}
		if usableIP(ip) {
			return ip, nil
		}
		if n == attempts {
			break
		}
		t := time.NewTimer(step * time.Duration(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return PendingIP, nil
}

func usableIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.To4() != nil && !parsed.IsUnspecified()
}

func extra(cred *model.CloudCredential, key string) string {
	if cred.Extra == nil {
		return ""
	}
	return cred.Extra[key]
}
