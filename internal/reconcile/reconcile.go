// Package reconcile turns probe results into host state transitions.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/model"
)

const (
	// OfflineThreshold is the failure streak that marks a host offline and alerts.
	OfflineThreshold = 3
	// SlowLatencyMS marks a reachable host as timing out.
	SlowLatencyMS = 5000
	// AlertCooldown suppresses any new alert while one was sent this recently.
	AlertCooldown = 5 * time.Minute

	alertKindOffline = "vps_offline"
)

// Store is the persistence the reconciler writes through.
type Store interface {
	RecordHealthSample(ctx context.Context, ip, provider string, healthy bool, latencyMS int) (int, error)
	SetHostStatus(ctx context.Context, ip, status string) error
	ClearBotError(ctx context.Context, ip string) (bool, error)
	TouchHealthCheck(ctx context.Context, ip string, at time.Time) error
	UpsertMetricsSnapshot(ctx context.Context, snap *model.MetricsSnapshot) error
	TryRecordAlert(ctx context.Context, a *model.Alert, window time.Duration) (bool, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

type Reconciler struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With().Str("component", "reconciler").Logger(),
		now:    time.Now,
	}
}

// Target identifies the host a probe result belongs to.
type Target struct {
	IP       string
	Provider string
	Status   string
}

// Outcome summarizes what Apply changed.
type Outcome struct {
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	ClearedError        bool   `json:"cleared_error"`
	Alerted             bool   `json:"alerted"`
}

// Apply records res for target and moves the host through its status
// machine. A healthy probe only ever clears bot_status from error to
// stopped; it never marks the bot running.
func (r *Reconciler) Apply(ctx context.Context, target Target, res model.ProbeResult) (*Outcome, error) {
	now := r.now()
	failures, err := r.store.RecordHealthSample(ctx, target.IP, target.Provider, res.Reachable, res.LatencyMS)
	if err != nil {
		return nil, err
	}
	out := &Outcome{ConsecutiveFailures: failures}

	if res.Reachable {
		return out, r.applyHealthy(ctx, target, res, now, out)
	}
	return out, r.applyFailure(ctx, target, res, out)
}

func (r *Reconciler) applyHealthy(ctx context.Context, target Target, res model.ProbeResult, now time.Time, out *Outcome) error {
	out.Status = model.HostRunning
	if res.LatencyMS > SlowLatencyMS {
		out.Status = model.HostTimeout
	}
	if err := r.setStatus(ctx, target.IP, out.Status); err != nil {
		return err
	}

	cleared, err := r.store.ClearBotError(ctx, target.IP)
	if err != nil {
		return err
	}
	out.ClearedError = cleared

	if err := r.store.TouchHealthCheck(ctx, target.IP, now); err != nil {
		return err
	}
	if res.Metrics != nil {
		if err := r.store.UpsertMetricsSnapshot(ctx, &model.MetricsSnapshot{
			Provider:   target.Provider,
			HostIP:     target.IP,
			LatencyMS:  res.LatencyMS,
			Metrics:    *res.Metrics,
			RecordedAt: now,
		}); err != nil {
			return err
		}
	}

	switch target.Status {
	case model.HostOffline, model.HostWarning, model.HostTimeout:
		if out.Status == model.HostRunning {
			r.event(ctx, target, "recovered", "VPS recovered",
				fmt.Sprintf("%s is reachable again (%d ms)", target.IP, res.LatencyMS))
		}
	}
	return nil
}

func (r *Reconciler) applyFailure(ctx context.Context, target Target, res model.ProbeResult, out *Outcome) error {
	switch target.Status {
	case model.HostProvisioning, model.HostStopped:
		// Still booting or deliberately halted: keep the status, keep counting.
		out.Status = target.Status
		return nil
	}

	switch {
	case out.ConsecutiveFailures >= OfflineThreshold:
		out.Status = model.HostOffline
	case res.TimedOut:
		out.Status = model.HostTimeout
	default:
		out.Status = model.HostWarning
	}
	if err := r.setStatus(ctx, target.IP, out.Status); err != nil {
		return err
	}

	if out.ConsecutiveFailures != OfflineThreshold {
		return nil
	}

	r.event(ctx, target, "offline", "VPS offline",
		fmt.Sprintf("%s failed %d consecutive health checks", target.IP, out.ConsecutiveFailures))

	msg := fmt.Sprintf("VPS %s (%s) has failed %d consecutive health checks: %s",
		target.IP, target.Provider, out.ConsecutiveFailures, res.Error)
	recorded, err := r.store.TryRecordAlert(ctx, &model.Alert{
		Kind:     alertKindOffline,
		Channel:  "system",
		Message:  msg,
		Severity: model.SeverityError,
	}, AlertCooldown)
	if err != nil {
		return err
	}
	if !recorded {
		metrics.AlertsRaised.WithLabelValues(alertKindOffline, "suppressed").Inc()
		r.logger.Info().Str("ip", target.IP).Msg("offline alert suppressed by cooldown")
		return nil
	}

	if err := r.store.CreateNotification(ctx, &model.Notification{
		Type:     alertKindOffline,
		Title:    "VPS offline",
		Message:  msg,
		Severity: model.SeverityError,
	}); err != nil {
		return err
	}
	out.Alerted = true
	metrics.AlertsRaised.WithLabelValues(alertKindOffline, "sent").Inc()
	r.logger.Warn().Str("ip", target.IP).Int("failures", out.ConsecutiveFailures).Msg("host offline")
	return nil
}

func (r *Reconciler) setStatus(ctx context.Context, ip, status string) error {
	if err := r.store.SetHostStatus(ctx, ip, status); err != nil {
		return err
	}
	metrics.HostTransitions.WithLabelValues(status).Inc()
	return nil
}

// event records a timeline entry. Failures are logged, not returned.
func (r *Reconciler) event(ctx context.Context, target Target, subtype, title, desc string) {
	meta, _ := json.Marshal(map[string]string{"ip": target.IP})
	if err := r.store.RecordEvent(ctx, &model.TimelineEvent{
		Provider:    target.Provider,
		EventType:   model.EventHealth,
		Subtype:     subtype,
		Title:       title,
		Description: desc,
		Metadata:    meta,
	}); err != nil {
		r.logger.Error().Err(err).Str("ip", target.IP).Msg("record timeline event")
	}
}
