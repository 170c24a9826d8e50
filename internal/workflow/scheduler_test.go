package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/botplane/internal/activity"
	"github.com/edvin/botplane/internal/scheduler"
)

type SchedulerWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *SchedulerWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(&activity.Scheduler{})
}

func (s *SchedulerWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *SchedulerWorkflowTestSuite) TestHealthSweep() {
	s.env.OnActivity("SweepHealth", mock.Anything).
		Return(&scheduler.SweepReport{Probed: 2, Healthy: 1, Unhealthy: 1, Alerts: 1}, nil)

	s.env.ExecuteWorkflow(HealthSweepWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var rep scheduler.SweepReport
	s.NoError(s.env.GetWorkflowResult(&rep))
	s.Equal(2, rep.Probed)
	s.Equal(1, rep.Alerts)
}

func (s *SchedulerWorkflowTestSuite) TestHealthSweepFailure() {
	s.env.OnActivity("SweepHealth", mock.Anything).
		Return(nil, errors.New("list probe targets: connection refused"))

	s.env.ExecuteWorkflow(HealthSweepWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *SchedulerWorkflowTestSuite) TestAIQuotaResetUsesWorkflowTime() {
	start := time.Date(2026, 10, 15, 0, 0, 2, 0, time.UTC)
	s.env.SetStartTime(start)
	s.env.OnActivity("ResetAIQuotas", mock.Anything, mock.MatchedBy(func(at time.Time) bool {
		return at.Equal(start)
	})).Return(&scheduler.QuotaReport{Day: "2026-10-15", Providers: 3}, nil)

	s.env.ExecuteWorkflow(AIQuotaResetWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var rep scheduler.QuotaReport
	s.NoError(s.env.GetWorkflowResult(&rep))
	s.Equal("2026-10-15", rep.Day)
}

func (s *SchedulerWorkflowTestSuite) TestAICooldownSweep() {
	s.env.OnActivity("SweepAICooldowns", mock.Anything, mock.Anything).
		Return(&scheduler.CooldownReport{Cleared: 1}, nil)

	s.env.ExecuteWorkflow(AICooldownSweepWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestSchedulerWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerWorkflowTestSuite))
}

type fakeScheduleClient struct {
	temporalclient.ScheduleClient
	created  []temporalclient.ScheduleOptions
	existing map[string]bool
	err      error
}

func (f *fakeScheduleClient) Create(ctx context.Context, opts temporalclient.ScheduleOptions) (temporalclient.ScheduleHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.existing[opts.ID] {
		return nil, errors.New("schedule with this ID is already registered")
	}
	f.created = append(f.created, opts)
	return nil, nil
}

func TestRegisterSchedules(t *testing.T) {
	sc := &fakeScheduleClient{existing: map[string]bool{"health-sweep": true}}
	require.NoError(t, RegisterSchedules(context.Background(), sc, "botplane", zerolog.Nop()))

	require.Len(t, sc.created, 2)
	reset := sc.created[0]
	assert.Equal(t, "ai-quota-reset", reset.ID)
	assert.Equal(t, []string{"0 0 * * *"}, reset.Spec.CronExpressions)
	assert.Equal(t, "UTC", reset.Spec.TimeZoneName)

	sweep := sc.created[1]
	assert.Equal(t, "ai-cooldown-sweep", sweep.ID)
	require.Len(t, sweep.Spec.Intervals, 1)
	assert.Equal(t, time.Minute, sweep.Spec.Intervals[0].Every)
	action, ok := sweep.Action.(*temporalclient.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, "botplane", action.TaskQueue)
}

func TestRegisterSchedules_Error(t *testing.T) {
	sc := &fakeScheduleClient{err: errors.New("permission denied")}
	assert.Error(t, RegisterSchedules(context.Background(), sc, "botplane", zerolog.Nop()))
}
