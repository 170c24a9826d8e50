// Package scheduler holds the periodic jobs: the health sweep over every
// live host, the daily AI quota reset and the AI cooldown sweep. Each job is
// safe to run twice for the same tick.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/probe"
	"github.com/edvin/botplane/internal/reconcile"
	"github.com/edvin/botplane/internal/timeseries"
)

const (
	// SweepConcurrency bounds parallel probes in one sweep.
	SweepConcurrency = 8
	// UsageWindow is the span of the per-minute AI usage counter.
	UsageWindow = time.Minute
)

var notificationSpace = uuid.MustParse("6f1c5a0e-8a53-4c1e-9a57-2f0d7f3b9e11")

type Store interface {
	ListProbeTargets(ctx context.Context) ([]model.Host, error)
	ResetAIQuotas(ctx context.Context, at time.Time) (int64, error)
	SweepAICooldowns(ctx context.Context, now time.Time, window time.Duration) (int64, int64, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
}

type Prober interface {
	Probe(ctx context.Context, ip string, timeout time.Duration) model.ProbeResult
}

type Reconciler interface {
	Apply(ctx context.Context, target reconcile.Target, res model.ProbeResult) (*reconcile.Outcome, error)
}

// Mirror receives a copy of every probe reading.
type Mirror interface {
	WriteHealth(ctx context.Context, p timeseries.HealthPoint) error
}

type Jobs struct {
	store  Store
	prober Prober
	rec    Reconciler
	mirror Mirror
	logger zerolog.Logger
}

func New(store Store, prober Prober, rec Reconciler, logger zerolog.Logger) *Jobs {
	return &Jobs{
		store:  store,
		prober: prober,
		rec:    rec,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// WithMirror enables the time-series copy of sweep readings.
func (j *Jobs) WithMirror(m Mirror) *Jobs {
	j.mirror = m
	return j
}

type HostSweep struct {
	IP                  string `json:"ip"`
	Provider            string `json:"provider"`
	Reachable           bool   `json:"reachable"`
	LatencyMS           int    `json:"latency_ms"`
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Alerted             bool   `json:"alerted"`
	Error               string `json:"error,omitempty"`
}

type SweepReport struct {
	Probed    int         `json:"probed"`
	Healthy   int         `json:"healthy"`
	Unhealthy int         `json:"unhealthy"`
	Alerts    int         `json:"alerts"`
	Errors    int         `json:"errors"`
	Hosts     []HostSweep `json:"hosts"`
}

// HealthSweep probes every live host in parallel and reconciles each
// result. A failure on one host is reported and does not stop the others.
func (j *Jobs) HealthSweep(ctx context.Context) (*SweepReport, error) {
	hosts, err := j.store.ListProbeTargets(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		rep = &SweepReport{}
	)
	var g errgroup.Group
	g.SetLimit(SweepConcurrency)
	for _, h := range hosts {
		g.Go(func() error {
			hs := j.sweepOne(ctx, h)
			mu.Lock()
			defer mu.Unlock()
			rep.Hosts = append(rep.Hosts, hs)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Hosts, func(a, b int) bool { return rep.Hosts[a].IP < rep.Hosts[b].IP })
	for _, hs := range rep.Hosts {
		rep.Probed++
		if hs.Reachable {
			rep.Healthy++
		} else {
			rep.Unhealthy++
		}
		if hs.Alerted {
			rep.Alerts++
		}
		if hs.Error != "" {
			rep.Errors++
		}
	}
	j.logger.Info().Int("probed", rep.Probed).Int("healthy", rep.Healthy).Int("alerts", rep.Alerts).Msg("health sweep done")
	return rep, nil
}

func (j *Jobs) sweepOne(ctx context.Context, h model.Host) HostSweep {
	ip := h.IP()
	res := j.prober.Probe(ctx, ip, probe.DefaultTimeout)
	hs := HostSweep{IP: ip, Provider: h.Provider, Reachable: res.Reachable, LatencyMS: res.LatencyMS, Status: h.Status}

	out, err := j.rec.Apply(ctx, reconcile.Target{IP: ip, Provider: h.Provider, Status: h.Status}, res)
	if err != nil {
		j.logger.Error().Err(err).Str("ip", ip).Msg("reconcile host")
		hs.Error = err.Error()
		return hs
	}
	hs.Status = out.Status
	hs.ConsecutiveFailures = out.ConsecutiveFailures
	hs.Alerted = out.Alerted

	if j.mirror != nil {
		if err := j.mirror.WriteHealth(ctx, timeseries.HealthPoint{
			IP: ip, Provider: h.Provider, Healthy: res.Reachable, LatencyMS: res.LatencyMS,
			ConsecutiveFailures: out.ConsecutiveFailures, Metrics: res.Metrics, At: time.Now(),
		}); err != nil {
			j.logger.Warn().Err(err).Str("ip", ip).Msg("mirror health point")
		}
	}
	return hs
}

type QuotaReport struct {
	Day       string `json:"day"`
	Providers int64  `json:"providers"`
}

// ResetAIQuotas zeroes every AI provider's counters for the UTC day
// containing at and posts one notification per day.
func (j *Jobs) ResetAIQuotas(ctx context.Context, at time.Time) (*QuotaReport, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	n, err := j.store.ResetAIQuotas(ctx, day)
	if err != nil {
		return nil, err
	}
	key := day.Format(time.DateOnly)
	if err := j.store.CreateNotification(ctx, &model.Notification{
		ID:        uuid.NewSHA1(notificationSpace, []byte("ai-quota-reset:"+key)).String(),
		Type:      "ai_quota_reset",
		Title:     "AI quotas reset",
		Message:   fmt.Sprintf("Daily usage cleared for %d AI providers (%s UTC)", n, key),
		Severity:  model.SeverityInfo,
		CreatedAt: day,
	}); err != nil {
		return nil, err
	}
	j.logger.Info().Str("day", key).Int64("providers", n).Msg("ai quotas reset")
	return &QuotaReport{Day: key, Providers: n}, nil
}

type CooldownReport struct {
	Cleared      int64 `json:"cleared"`
	WindowsReset int64 `json:"windows_reset"`
}

// SweepAICooldowns clears elapsed cooldowns and restarts stale per-minute
// usage windows as of now.
func (j *Jobs) SweepAICooldowns(ctx context.Context, now time.Time) (*CooldownReport, error) {
	cleared, reset, err := j.store.SweepAICooldowns(ctx, now, UsageWindow)
	if err != nil {
		return nil, err
	}
	if cleared > 0 || reset > 0 {
		j.logger.Debug().Int64("cleared", cleared).Int64("windows", reset).Msg("ai cooldown sweep")
	}
	return &CooldownReport{Cleared: cleared, WindowsReset: reset}, nil
}
