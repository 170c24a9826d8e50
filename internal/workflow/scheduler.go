package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/botplane/internal/scheduler"
)

func periodicCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    2,
		},
	})
}

// HealthSweepWorkflow runs one health sweep. It is started every minute by
// the health-sweep schedule; a missed tick is simply skipped.
func HealthSweepWorkflow(ctx workflow.Context) (*scheduler.SweepReport, error) {
	ctx = periodicCtx(ctx, 45*time.Second)

	var rep scheduler.SweepReport
	if err := workflow.ExecuteActivity(ctx, "SweepHealth").Get(ctx, &rep); err != nil {
		return nil, fmt.Errorf("sweep health: %w", err)
	}
	if rep.Alerts > 0 {
		workflow.GetLogger(ctx).Warn("hosts went offline", "alerts", rep.Alerts, "unhealthy", rep.Unhealthy)
	}
	return &rep, nil
}

// AIQuotaResetWorkflow zeroes the daily AI usage counters. The reset day is
// taken from workflow time so a retried or replayed run targets the same day.
func AIQuotaResetWorkflow(ctx workflow.Context) (*scheduler.QuotaReport, error) {
	ctx = periodicCtx(ctx, 30*time.Second)

	var rep scheduler.QuotaReport
	err := workflow.ExecuteActivity(ctx, "ResetAIQuotas", workflow.Now(ctx).UTC()).Get(ctx, &rep)
	if err != nil {
		return nil, fmt.Errorf("reset ai quotas: %w", err)
	}
	return &rep, nil
}

// AICooldownSweepWorkflow clears elapsed AI provider cooldowns.
func AICooldownSweepWorkflow(ctx workflow.Context) (*scheduler.CooldownReport, error) {
	ctx = periodicCtx(ctx, 30*time.Second)

	var rep scheduler.CooldownReport
	err := workflow.ExecuteActivity(ctx, "SweepAICooldowns", workflow.Now(ctx).UTC()).Get(ctx, &rep)
	if err != nil {
		return nil, fmt.Errorf("sweep ai cooldowns: %w", err)
	}
	return &rep, nil
}
