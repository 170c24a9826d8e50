package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/probe"
)

// Ports the host agent can be reached on. The agent listens on AgentPort
// behind nginx on ProxyPort.
const (
	ProxyPort = 80
	AgentPort = 8080
)

// nginxSnippet restores the reverse proxy in front of the agent.
const nginxSnippet = `cat >/etc/nginx/sites-enabled/botplane-agent <<'CONF'
server {
    listen 80 default_server;
    location / {
        proxy_pass http://127.0.0.1:%d;
        proxy_set_header Host $host;
        proxy_read_timeout 60s;
    }
}
CONF
rm -f /etc/nginx/sites-enabled/default
nginx -t && systemctl reload nginx`

// AgentOn returns an agent client bound to port.
type AgentOn func(port int) probe.Agent

type DeployTarget interface {
	GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error)
}

type PortCheck struct {
	Port                int    `json:"port"`
	Reachable           bool   `json:"reachable"`
	LatencyMS           int    `json:"latency_ms"`
	SignalEndpointValid bool   `json:"signal_endpoint_valid"`
	Error               string `json:"error,omitempty"`
}

type Verification struct {
	Success   bool        `json:"success"`
	IP        string      `json:"ip"`
	Ports     []PortCheck `json:"ports"`
	ManualFix string      `json:"manual_fix,omitempty"`
	Message   string      `json:"message"`
}

// Verifier checks that a host's agent is reachable on the canonical port
// and answers the current endpoint set.
type Verifier struct {
	store   DeployTarget
	agentOn AgentOn
	timeout time.Duration
	logger  zerolog.Logger
}

func NewVerifier(store DeployTarget, agentOn AgentOn, logger zerolog.Logger) *Verifier {
	return &Verifier{
		store:   store,
		agentOn: agentOn,
		timeout: 8 * time.Second,
		logger:  logger.With().Str("component", "deploy-verifier").Logger(),
	}
}

// Verify probes ip, or the active deployment's address when ip is empty.
func (v *Verifier) Verify(ctx context.Context, ip string) (*Verification, error) {
	if ip == "" {
		d, err := v.store.GetActiveDeployment(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify agent: %w", err)
		}
		ip = d.IP()
	}
	if ip == "" {
		return nil, fmt.Errorf("verify agent: %w", ErrNoAddress)
	}

	out := &Verification{IP: ip}
	for _, port := range []int{ProxyPort, AgentPort} {
		res := probe.New(v.agentOn(port)).Probe(ctx, ip, v.timeout)
		out.Ports = append(out.Ports, PortCheck{
			Port:                port,
			Reachable:           res.Reachable,
			LatencyMS:           res.LatencyMS,
			SignalEndpointValid: res.SignalEndpointValid,
			Error:               res.Error,
		})
	}
	proxy, direct := out.Ports[0], out.Ports[1]

	switch {
	case proxy.Reachable && proxy.SignalEndpointValid:
		out.Success = true
		out.Message = "agent reachable on port 80"
	case proxy.Reachable:
		out.Message = "agent reachable but /signal-check is missing; update the agent image"
	case direct.Reachable:
		out.Message = "agent answers on 8080 but nothing proxies port 80"
		out.ManualFix = fmt.Sprintf(nginxSnippet, AgentPort)
	default:
		out.Message = "agent not reachable on port 80 or 8080"
	}
	v.logger.Info().Str("ip", ip).Bool("success", out.Success).Msg(out.Message)
	return out, nil
}
