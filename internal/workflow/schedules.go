package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
)

// Schedule is one recurring workflow start.
type Schedule struct {
	ID       string
	Every    time.Duration
	Cron     string
	Workflow any
}

// Schedules are the control plane's periodic drivers.
var Schedules = []Schedule{
	{ID: "health-sweep", Every: time.Minute, Workflow: HealthSweepWorkflow},
	{ID: "ai-quota-reset", Cron: "0 0 * * *", Workflow: AIQuotaResetWorkflow},
	{ID: "ai-cooldown-sweep", Every: time.Minute, Workflow: AICooldownSweepWorkflow},
}

func (s Schedule) spec() temporalclient.ScheduleSpec {
	if s.Cron != "" {
		return temporalclient.ScheduleSpec{CronExpressions: []string{s.Cron}, TimeZoneName: "UTC"}
	}
	return temporalclient.ScheduleSpec{Intervals: []temporalclient.ScheduleIntervalSpec{{Every: s.Every}}}
}

// RegisterSchedules creates every schedule on taskQueue. Schedules that
// already exist are left as they are so redeploys do not fail.
func RegisterSchedules(ctx context.Context, sc temporalclient.ScheduleClient, taskQueue string, logger zerolog.Logger) error {
	for _, s := range Schedules {
		_, err := sc.Create(ctx, temporalclient.ScheduleOptions{
			ID:   s.ID,
			Spec: s.spec(),
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.ID,
				Workflow:  s.Workflow,
				TaskQueue: taskQueue,
			},
		})
		switch {
		case err == nil:
			logger.Info().Str("id", s.ID).Msg("created schedule")
		case alreadyExists(err):
			logger.Info().Str("id", s.ID).Msg("schedule already exists, skipping")
		default:
			return err
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "AlreadyExists") || strings.Contains(msg, "already registered")
}
