package activity

import (
	"context"
	"time"

	"github.com/edvin/botplane/internal/scheduler"
)

// Jobs is the scheduler surface the activities delegate to.
type Jobs interface {
	HealthSweep(ctx context.Context) (*scheduler.SweepReport, error)
	ResetAIQuotas(ctx context.Context, at time.Time) (*scheduler.QuotaReport, error)
	SweepAICooldowns(ctx context.Context, now time.Time) (*scheduler.CooldownReport, error)
}

// Scheduler contains the periodic control-plane activities.
type Scheduler struct {
	jobs Jobs
}

func NewScheduler(jobs Jobs) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// SweepHealth probes and reconciles every live host once.
func (a *Scheduler) SweepHealth(ctx context.Context) (*scheduler.SweepReport, error) {
	return a.jobs.HealthSweep(ctx)
}

// ResetAIQuotas clears AI provider counters for the UTC day containing at.
func (a *Scheduler) ResetAIQuotas(ctx context.Context, at time.Time) (*scheduler.QuotaReport, error) {
	return a.jobs.ResetAIQuotas(ctx, at)
}

// SweepAICooldowns clears elapsed AI cooldowns as of now.
func (a *Scheduler) SweepAICooldowns(ctx context.Context, now time.Time) (*scheduler.CooldownReport, error) {
	return a.jobs.SweepAICooldowns(ctx, now)
}
