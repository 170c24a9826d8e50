// Package probe performs a single reachability and metrics read against a host.
package probe

import (
	"context"
	"errors"
	"time"

	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/model"
)

// DefaultTimeout bounds the /health call of a scheduled probe.
const DefaultTimeout = 5 * time.Second

// Agent is the subset of the host agent client a probe needs.
type Agent interface {
	Health(ctx context.Context, ip string, timeout time.Duration) (*hostagent.HealthResult, error)
	SignalCheck(ctx context.Context, ip string) (*hostagent.SignalCheck, error)
}

type Prober struct {
	agent Agent
}

func New(agent Agent) *Prober {
	return &Prober{agent: agent}
}

// Probe reads /health and, best effort, /signal-check from ip. Network
// errors, non-2xx answers and cancellation all yield Reachable=false rather
// than an error. Latency is capped at timeout.
func (p *Prober) Probe(ctx context.Context, ip string, timeout time.Duration) model.ProbeResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := model.ProbeResult{IP: ip}

	start := time.Now()
	health, err := p.agent.Health(ctx, ip, timeout)
	elapsed := time.Since(start)
	if health != nil && health.Latency > 0 {
		elapsed = health.Latency
	}
	if elapsed > timeout {
		elapsed = timeout
	}
	res.LatencyMS = int(elapsed.Milliseconds())

	if err != nil {
		res.Error = err.Error()
		res.TimedOut = errors.Is(err, context.DeadlineExceeded) || elapsed >= timeout
		metrics.ProbeDuration.WithLabelValues("unreachable").Observe(elapsed.Seconds())
		return res
	}
	res.Reachable = true
	res.Metrics = health.Metrics
	metrics.ProbeDuration.WithLabelValues("ok").Observe(elapsed.Seconds())

	sc, err := p.agent.SignalCheck(ctx, ip)
	switch {
	case err == nil:
		exists := sc.SignalExists
		res.SignalExists = &exists
		res.SignalEndpointValid = true
	case errors.Is(err, hostagent.ErrInvalidSignalEndpoint):
		res.SignalEndpointValid = false
	}
	return res
}
