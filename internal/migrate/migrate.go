// Package migrate moves the primary designation from one host to another
// with bounded downtime.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/lifecycle"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/whitelist"
)

const (
	StopSettle     = 5 * time.Second
	RollbackSettle = 3 * time.Second
	ProbeTimeout   = 8 * time.Second
	AlertCooldown  = 5 * time.Minute

	alertKindPrimaries = "multiple_primaries"
)

var (
	ErrInProgress        = errors.New("a migration is already in progress")
	ErrSameDeployment    = errors.New("source and target are the same deployment")
	ErrMissingIP         = errors.New("deployment has no IP address")
	ErrTargetUnhealthy   = errors.New("target host is not healthy")
	ErrMultiplePrimaries = errors.New("more than one primary deployment")
	ErrTargetStart       = errors.New("target failed to start")
	ErrSourceStart       = errors.New("source failed to restart")
	ErrSourceStop        = errors.New("source failed to stop")
)

type Store interface {
	GetDeployment(ctx context.Context, id string) (*model.DeploymentTarget, error)
	CountPrimaries(ctx context.Context) (int, error)
	PromotePrimary(ctx context.Context, id, ip string, ev *model.TimelineEvent) error
	AcquireMigrationLock(ctx context.Context) (bool, error)
	ReleaseMigrationLock(ctx context.Context) error
	TryRecordAlert(ctx context.Context, a *model.Alert, window time.Duration) (bool, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

type Lifecycle interface {
	Start(ctx context.Context, id string, env map[string]string) (*lifecycle.Result, error)
	Stop(ctx context.Context, id string) (*lifecycle.Result, error)
}

type Prober interface {
	Probe(ctx context.Context, ip string, timeout time.Duration) model.ProbeResult
}

type Syncer interface {
	Sync(ctx context.Context, ip string) (*whitelist.Result, error)
}

// Plan is the snapshot prepare returns.
type Plan struct {
	Source      *model.DeploymentTarget `json:"source"`
	Target      *model.DeploymentTarget `json:"target"`
	TargetProbe model.ProbeResult       `json:"targetProbe"`
}

// Outcome describes what execute or rollback did to each host.
type Outcome struct {
	SourceID       string            `json:"sourceId"`
	TargetID       string            `json:"targetId"`
	SourceStopped  bool              `json:"sourceStopped"`
	TargetStarted  bool              `json:"targetStarted"`
	SourceStarted  bool              `json:"sourceStarted"`
	TargetStopped  bool              `json:"targetStopped"`
	PrimaryID      string            `json:"primaryId"`
	Whitelist      *whitelist.Result `json:"whitelist,omitempty"`
	WhitelistError string            `json:"whitelistError,omitempty"`
	Message        string            `json:"message"`
}

type Migrator struct {
	store     Store
	lifecycle Lifecycle
	prober    Prober
	whitelist Syncer
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(store Store, lc Lifecycle, prober Prober, wl Syncer, logger zerolog.Logger) *Migrator {
	return &Migrator{
		store:     store,
		lifecycle: lc,
		prober:    prober,
		whitelist: wl,
		logger:    logger.With().Str("component", "migrator").Logger(),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Prepare checks that both deployments have addresses, that the target
// answers a probe and that the primary invariant holds.
func (m *Migrator) Prepare(ctx context.Context, srcID, tgtID string) (*Plan, error) {
	src, tgt, err := m.pair(ctx, srcID, tgtID)
	if err != nil {
		metrics.MigrationPhases.WithLabelValues("prepare", "error").Inc()
		return nil, err
	}

	if err := m.checkPrimaries(ctx); err != nil {
		metrics.MigrationPhases.WithLabelValues("prepare", "error").Inc()
		return nil, err
	}

	res := m.prober.Probe(ctx, tgt.IP(), ProbeTimeout)
	plan := &Plan{Source: src, Target: tgt, TargetProbe: res}
	if !res.Reachable {
		metrics.MigrationPhases.WithLabelValues("prepare", "unhealthy").Inc()
		return plan, fmt.Errorf("%w: %s %s", ErrTargetUnhealthy, tgt.IP(), res.Error)
	}
	metrics.MigrationPhases.WithLabelValues("prepare", "ok").Inc()
	return plan, nil
}

// Execute stops the source, starts the target and only then moves the
// primary flag. A failed target start leaves the flags untouched.
func (m *Migrator) Execute(ctx context.Context, srcID, tgtID string, env map[string]string) (*Outcome, error) {
	src, tgt, err := m.pair(ctx, srcID, tgtID)
	if err != nil {
		return nil, err
	}
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := &Outcome{SourceID: src.ID, TargetID: tgt.ID, PrimaryID: primaryOf(src, tgt)}
	log := m.logger.With().Str("source", src.IP()).Str("target", tgt.IP()).Logger()

	stopped, err := m.lifecycle.Stop(ctx, src.ID)
	if err != nil {
		return out, fmt.Errorf("stop source %s: %w", src.ID, err)
	}
	out.SourceStopped = stopped.Success
	if !stopped.Success {
		if stopped.VPSReachable {
			// A reachable source must not keep trading beside the target.
			metrics.MigrationPhases.WithLabelValues("execute", "error").Inc()
			out.Message = "source is reachable but did not stop; primary unchanged"
			m.event(ctx, "execute_failed", "Migration aborted", stopped.Error, src, tgt)
			log.Error().Str("error", stopped.Error).Msg("migration aborted")
			return out, fmt.Errorf("%w: %s", ErrSourceStop, stopped.Error)
		}
		log.Warn().Str("error", stopped.Error).Msg("source unreachable; continuing without a clean stop")
	}

	if err := m.sleep(ctx, StopSettle); err != nil {
		return out, err
	}

	started, err := m.lifecycle.Start(ctx, tgt.ID, env)
	if err != nil {
		return out, fmt.Errorf("start target %s: %w", tgt.ID, err)
	}
	if !started.Success {
		metrics.MigrationPhases.WithLabelValues("execute", "error").Inc()
		out.Message = "target failed to start; primary unchanged"
		m.event(ctx, "execute_failed", "Migration aborted", started.Error, src, tgt)
		log.Error().Str("error", started.Error).Msg("migration aborted")
		return out, fmt.Errorf("%w: %s", ErrTargetStart, started.Error)
	}
	out.TargetStarted = true

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := m.store.PromotePrimary(wctx, tgt.ID, tgt.IP(), m.timelineEvent("executed", "Migration completed",
		fmt.Sprintf("primary moved from %s to %s", src.IP(), tgt.IP()), src, tgt)); err != nil {
		metrics.MigrationPhases.WithLabelValues("execute", "error").Inc()
		return out, fmt.Errorf("promote %s: %w", tgt.ID, err)
	}
	out.PrimaryID = tgt.ID

	m.syncWhitelist(ctx, tgt.IP(), out)
	out.Message = "migration completed"
	metrics.MigrationPhases.WithLabelValues("execute", "ok").Inc()
	log.Info().Msg("migration completed")
	return out, nil
}

// Rollback stops the target, restarts the source and makes the source
// primary again. Flags are left alone when the source is still primary.
func (m *Migrator) Rollback(ctx context.Context, srcID, tgtID string, env map[string]string) (*Outcome, error) {
	src, tgt, err := m.pair(ctx, srcID, tgtID)
	if err != nil {
		return nil, err
	}
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := &Outcome{SourceID: src.ID, TargetID: tgt.ID, PrimaryID: primaryOf(src, tgt)}

	stopped, err := m.lifecycle.Stop(ctx, tgt.ID)
	if err != nil {
		return out, fmt.Errorf("stop target %s: %w", tgt.ID, err)
	}
	out.TargetStopped = stopped.Success

	if err := m.sleep(ctx, RollbackSettle); err != nil {
		return out, err
	}

	started, err := m.lifecycle.Start(ctx, src.ID, env)
	if err != nil {
		return out, fmt.Errorf("start source %s: %w", src.ID, err)
	}
	out.SourceStarted = started.Success

	if !src.IsPrimary {
		wctx, cancel := writeContext(ctx)
		defer cancel()
		if err := m.store.PromotePrimary(wctx, src.ID, src.IP(), m.timelineEvent("rolled_back", "Migration rolled back",
			fmt.Sprintf("primary restored to %s", src.IP()), src, tgt)); err != nil {
			metrics.MigrationPhases.WithLabelValues("rollback", "error").Inc()
			return out, fmt.Errorf("restore primary %s: %w", src.ID, err)
		}
		m.syncWhitelist(ctx, src.IP(), out)
	}
	out.PrimaryID = src.ID

	if !started.Success {
		metrics.MigrationPhases.WithLabelValues("rollback", "error").Inc()
		out.Message = "source primary restored but the bot did not start"
		return out, fmt.Errorf("%w: %s", ErrSourceStart, started.Error)
	}
	out.Message = "rollback completed"
	metrics.MigrationPhases.WithLabelValues("rollback", "ok").Inc()
	return out, nil
}

func (m *Migrator) pair(ctx context.Context, srcID, tgtID string) (*model.DeploymentTarget, *model.DeploymentTarget, error) {
	if srcID == tgtID {
		return nil, nil, ErrSameDeployment
	}
	src, err := m.store.GetDeployment(ctx, srcID)
	if err != nil {
		return nil, nil, fmt.Errorf("get source %s: %w", srcID, err)
	}
	tgt, err := m.store.GetDeployment(ctx, tgtID)
	if err != nil {
		return nil, nil, fmt.Errorf("get target %s: %w", tgtID, err)
	}
	if src.IP() == "" {
		return nil, nil, fmt.Errorf("source %s: %w", srcID, ErrMissingIP)
	}
	if tgt.IP() == "" {
		return nil, nil, fmt.Errorf("target %s: %w", tgtID, ErrMissingIP)
	}
	return src, tgt, nil
}

// checkPrimaries refuses to migrate on top of a broken primary invariant
// and raises a critical alert about it.
func (m *Migrator) checkPrimaries(ctx context.Context) error {
	n, err := m.store.CountPrimaries(ctx)
	if err != nil {
		return fmt.Errorf("count primaries: %w", err)
	}
	if n <= 1 {
		return nil
	}

	msg := fmt.Sprintf("%d deployments are flagged primary", n)
	m.logger.Error().Int("primaries", n).Msg("primary invariant violated")
	recorded, err := m.store.TryRecordAlert(ctx, &model.Alert{
		Kind: alertKindPrimaries, Channel: "system", Message: msg, Severity: model.SeverityCritical,
	}, AlertCooldown)
	if err != nil {
		m.logger.Error().Err(err).Msg("record primary alert")
	} else if recorded {
		metrics.AlertsRaised.WithLabelValues(alertKindPrimaries, "sent").Inc()
		if err := m.store.CreateNotification(ctx, &model.Notification{
			Type: alertKindPrimaries, Title: "Multiple primary deployments", Message: msg, Severity: model.SeverityCritical,
		}); err != nil {
			m.logger.Error().Err(err).Msg("create primary notification")
		}
	}
	return fmt.Errorf("%w: %d", ErrMultiplePrimaries, n)
}

func (m *Migrator) lock(ctx context.Context) (func(), error) {
	ok, err := m.store.AcquireMigrationLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	if !ok {
		return nil, ErrInProgress
	}
	return func() {
		wctx, cancel := writeContext(ctx)
		defer cancel()
		if err := m.store.ReleaseMigrationLock(wctx); err != nil {
			m.logger.Error().Err(err).Msg("release migration lock")
		}
	}, nil
}

// syncWhitelist is best effort; its failure never undoes a migration.
func (m *Migrator) syncWhitelist(ctx context.Context, ip string, out *Outcome) {
	if m.whitelist == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	res, err := m.whitelist.Sync(wctx, ip)
	if err != nil {
		out.WhitelistError = err.Error()
		m.logger.Warn().Err(err).Str("ip", ip).Msg("whitelist sync after migration")
		return
	}
	out.Whitelist = res
}

func (m *Migrator) timelineEvent(subtype, title, desc string, src, tgt *model.DeploymentTarget) *model.TimelineEvent {
	meta, _ := json.Marshal(map[string]string{
		"source_id": src.ID, "source_ip": src.IP(),
		"target_id": tgt.ID, "target_ip": tgt.IP(),
	})
	return &model.TimelineEvent{
		Provider:    tgt.Provider,
		EventType:   model.EventMigration,
		Subtype:     subtype,
		Title:       title,
		Description: desc,
		Metadata:    meta,
	}
}

func (m *Migrator) event(ctx context.Context, subtype, title, desc string, src, tgt *model.DeploymentTarget) {
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := m.store.RecordEvent(wctx, m.timelineEvent(subtype, title, desc, src, tgt)); err != nil {
		m.logger.Error().Err(err).Msg("record migration event")
	}
}

func primaryOf(src, tgt *model.DeploymentTarget) string {
	switch {
	case tgt.IsPrimary:
		return tgt.ID
	case src.IsPrimary:
		return src.ID
	}
	return ""
}

func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
