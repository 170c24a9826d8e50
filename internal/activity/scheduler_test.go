package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/scheduler"
)

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) HealthSweep(ctx context.Context) (*scheduler.SweepReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.SweepReport), args.Error(1)
}

func (m *mockJobs) ResetAIQuotas(ctx context.Context, at time.Time) (*scheduler.QuotaReport, error) {
	args := m.Called(ctx, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.QuotaReport), args.Error(1)
}

func (m *mockJobs) SweepAICooldowns(ctx context.Context, now time.Time) (*scheduler.CooldownReport, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.CooldownReport), args.Error(1)
}

func TestScheduler_SweepHealth(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("HealthSweep", mock.Anything).Return(&scheduler.SweepReport{Probed: 3, Healthy: 3}, nil)

	rep, err := NewScheduler(jobs).SweepHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Healthy)
	jobs.AssertExpectations(t)
}

func TestScheduler_SweepHealthError(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("HealthSweep", mock.Anything).Return(nil, errors.New("list probe targets: timeout"))

	_, err := NewScheduler(jobs).SweepHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list probe targets")
}

func TestScheduler_ResetAIQuotasPassesTime(t *testing.T) {
	at := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	jobs := &mockJobs{}
	jobs.On("ResetAIQuotas", mock.Anything, at).Return(&scheduler.QuotaReport{Day: "2026-10-15"}, nil)

	rep, err := NewScheduler(jobs).ResetAIQuotas(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", rep.Day)
	jobs.AssertExpectations(t)
}

func TestScheduler_SweepAICooldowns(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	jobs := &mockJobs{}
	jobs.On("SweepAICooldowns", mock.Anything, now).Return(&scheduler.CooldownReport{Cleared: 2}, nil)

	rep, err := NewScheduler(jobs).SweepAICooldowns(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Cleared)
}
