package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/storetest"
)

const ip = "198.51.100.4"

func setup(t *testing.T) (*storetest.Memory, *Reconciler) {
	t.Helper()
	store := storetest.New()
	store.AddHost("h1", "vultr", ip)
	store.AddDeployment("d1", "h1", true, model.BotStopped)
	return store, New(store, zerolog.Nop())
}

func healthy(latency int) model.ProbeResult {
	return model.ProbeResult{IP: ip, Reachable: true, LatencyMS: latency}
}

func failed() model.ProbeResult {
	return model.ProbeResult{IP: ip, Error: "connection refused"}
}

func target(store *storetest.Memory) Target {
	return Target{IP: ip, Provider: "vultr", Status: store.Hosts["h1"].Status}
}

func TestApply_ThirdFailureAlertsOnce(t *testing.T) {
	store, r := setup(t)
	store.SeedSample(ip, false, 1)
	store.SeedSample(ip, false, 2)

	out, err := r.Apply(context.Background(), target(store), failed())
	require.NoError(t, err)

	last := store.Samples[len(store.Samples)-1]
	assert.Equal(t, 3, last.ConsecutiveFailures)
	assert.False(t, last.IsHealthy)
	assert.Equal(t, model.HostOffline, out.Status)
	assert.Equal(t, model.HostOffline, store.Hosts["h1"].Status)
	assert.True(t, out.Alerted)

	require.Len(t, store.Notifications, 1)
	assert.Equal(t, model.SeverityError, store.Notifications[0].Severity)
	assert.Len(t, store.Alerts, 1)
}

func TestApply_FailureCountIsExact(t *testing.T) {
	store, r := setup(t)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		out, err := r.Apply(ctx, target(store), failed())
		require.NoError(t, err)
		assert.Equal(t, n, out.ConsecutiveFailures)
	}
	assert.Len(t, store.Notifications, 1, "only the third failure alerts")

	out, err := r.Apply(ctx, target(store), healthy(80))
	require.NoError(t, err)
	assert.Zero(t, out.ConsecutiveFailures)
	assert.Equal(t, model.HostRunning, store.Hosts["h1"].Status)
	assert.Zero(t, store.Samples[len(store.Samples)-1].ConsecutiveFailures)
}

func TestApply_WarningThenOffline(t *testing.T) {
	store, r := setup(t)
	ctx := context.Background()

	out, err := r.Apply(ctx, target(store), failed())
	require.NoError(t, err)
	assert.Equal(t, model.HostWarning, out.Status)

	res := failed()
	res.TimedOut = true
	out, err = r.Apply(ctx, target(store), res)
	require.NoError(t, err)
	assert.Equal(t, model.HostTimeout, out.Status)

	out, err = r.Apply(ctx, target(store), failed())
	require.NoError(t, err)
	assert.Equal(t, model.HostOffline, out.Status)
}

func TestApply_AlertCooldown(t *testing.T) {
	store, r := setup(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_, err := r.Apply(ctx, target(store), failed())
		require.NoError(t, err)
	}
	require.Len(t, store.Notifications, 1)

	// A fresh streak two minutes later is suppressed.
	_, err := r.Apply(ctx, target(store), healthy(50))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Minute)
	for i := 0; i < 3; i++ {
		_, err := r.Apply(ctx, target(store), failed())
		require.NoError(t, err)
	}
	assert.Len(t, store.Notifications, 1)

	// After the cooldown a new streak alerts again.
	_, err = r.Apply(ctx, target(store), healthy(50))
	require.NoError(t, err)
	clock = clock.Add(6 * time.Minute)
	for i := 0; i < 3; i++ {
		_, err := r.Apply(ctx, target(store), failed())
		require.NoError(t, err)
	}
	assert.Len(t, store.Notifications, 2)
}

func TestApply_HealthyNeverStartsBot(t *testing.T) {
	store, r := setup(t)
	ctx := context.Background()

	for _, bot := range []string{model.BotStopped, model.BotError} {
		store.Deployments["d1"].BotStatus = bot
		store.Hosts["h1"].BotStatus = bot
		out, err := r.Apply(ctx, target(store), healthy(60))
		require.NoError(t, err)
		assert.Equal(t, model.BotStopped, store.Deployments["d1"].BotStatus)
		assert.Equal(t, bot == model.BotError, out.ClearedError)
	}
	assert.NotNil(t, store.Deployments["d1"].LastHealthCheck)
}

func TestApply_SlowHostIsTimeout(t *testing.T) {
	store, r := setup(t)

	out, err := r.Apply(context.Background(), target(store), healthy(SlowLatencyMS+1))
	require.NoError(t, err)
	assert.Equal(t, model.HostTimeout, out.Status)
	assert.Zero(t, out.ConsecutiveFailures)
}

func TestApply_ProvisioningKeepsStatus(t *testing.T) {
	store, r := setup(t)
	store.Hosts["h1"].Status = model.HostProvisioning
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		out, err := r.Apply(ctx, target(store), failed())
		require.NoError(t, err)
		assert.Equal(t, model.HostProvisioning, out.Status)
	}
	assert.Equal(t, model.HostProvisioning, store.Hosts["h1"].Status)
	assert.Empty(t, store.Notifications)
	assert.Equal(t, 4, store.Samples[len(store.Samples)-1].ConsecutiveFailures)
}

func TestApply_StoresMetrics(t *testing.T) {
	store, r := setup(t)
	res := healthy(42)
	res.Metrics = &model.Metrics{CPUPercent: 12.5, RAMPercent: 40}

	_, err := r.Apply(context.Background(), target(store), res)
	require.NoError(t, err)
	snap, ok := store.Snapshots["vultr"]
	require.True(t, ok)
	assert.Equal(t, 12.5, snap.Metrics.CPUPercent)
	assert.Equal(t, 42, snap.LatencyMS)
}

func TestApply_RecoveryEvent(t *testing.T) {
	store, r := setup(t)
	store.Hosts["h1"].Status = model.HostOffline

	_, err := r.Apply(context.Background(), target(store), healthy(30))
	require.NoError(t, err)
	require.NotEmpty(t, store.Events)
	assert.Equal(t, "recovered", store.Events[len(store.Events)-1].Subtype)
}
