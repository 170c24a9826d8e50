package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/provider"
	"github.com/edvin/botplane/internal/storetest"
)

type fakeAdapter struct {
	mu sync.Mutex

	validateErr error
	created     []provider.CreateRequest
	ips         []string // successive InstanceIP answers; the last one repeats
	ipErr       error
	lookup      *provider.Lookup
	actions     []string
	actionErr   error
}

func (f *fakeAdapter) Name() string { return provider.Vultr }

func (f *fakeAdapter) Validate(ctx context.Context) (*provider.Validation, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &provider.Validation{OK: true}, nil
}

func (f *fakeAdapter) Create(ctx context.Context, req provider.CreateRequest) (*provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return &provider.Instance{ID: "inst-1", Status: provider.StatePending, Region: req.Region, Plan: req.Plan}, nil
}

func (f *fakeAdapter) LookupByIP(ctx context.Context, ip string) (*provider.Lookup, error) {
	if f.lookup == nil {
		return &provider.Lookup{}, nil
	}
	return f.lookup, nil
}

func (f *fakeAdapter) action(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, name)
	return f.actionErr
}

func (f *fakeAdapter) Start(ctx context.Context, id string) error   { return f.action("start " + id) }
func (f *fakeAdapter) Halt(ctx context.Context, id string) error    { return f.action("halt " + id) }
func (f *fakeAdapter) Destroy(ctx context.Context, id string) error { return f.action("destroy " + id) }

func (f *fakeAdapter) InstanceIP(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ipErr != nil {
		return "", f.ipErr
	}
	if len(f.ips) == 0 {
		return "", nil
	}
	ip := f.ips[0]
	if len(f.ips) > 1 {
		f.ips = f.ips[1:]
	}
	return ip, nil
}

func newProvisioner(t *testing.T, store *storetest.Memory, a *fakeAdapter) *Provisioner {
	t.Helper()
	store.Credentials[provider.Vultr] = &model.CloudCredential{Provider: provider.Vultr, APIToken: "tok"}
	factory := func(ctx context.Context, cred *model.CloudCredential) (provider.Adapter, error) {
		return a, nil
	}
	return New(store, factory, Config{
		CloudInit: provider.CloudInit{
			AgentImage: "ghcr.io/botplane/agent:1",
			BotImage:   "ghcr.io/botplane/tradingbot:1",
			SignalPath: "/app/data/START_SIGNAL",
		},
		PollAttempts: 3,
		PollStep:     time.Millisecond,
	}, zerolog.Nop())
}

func TestProvision_CreatesPrimary(t *testing.T) {
	store := storetest.New()
	a := &fakeAdapter{ips: []string{"0.0.0.0", "203.0.113.7"}}
	p := newProvisioner(t, store, a)

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, TargetExchange: "binance"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "inst-1", res.InstanceID)
	assert.Equal(t, "203.0.113.7", res.PublicIP)
	assert.True(t, res.Primary)
	require.Len(t, a.created, 1)
	assert.Contains(t, a.created[0].CloudInit, "#cloud-config")
	assert.Equal(t, res.Region, a.created[0].Region)

	host, err := store.GetHost(context.Background(), res.HostID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", host.IP())
	assert.Equal(t, model.HostProvisioning, host.Status)
	assert.Equal(t, []string{res.DeploymentID}, store.Primaries())
	require.NotNil(t, store.Cloud.OutboundIP)
	assert.Equal(t, "203.0.113.7", *store.Cloud.OutboundIP)

	require.Len(t, store.Events, 1)
	assert.Equal(t, model.EventProvision, store.Events[0].EventType)
}

func TestProvision_SecondHostIsStandby(t *testing.T) {
	store := storetest.New()
	store.AddHost("h1", provider.Vultr, "198.51.100.1")
	store.AddDeployment("d1", "h1", true, model.BotRunning)
	p := newProvisioner(t, store, &fakeAdapter{ips: []string{"203.0.113.8"}})

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, TargetExchange: "bybit", Region: "sgp", Plan: "vc2-2c-4gb"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.False(t, res.Primary)
	assert.Equal(t, "sgp", res.Region)
	assert.Equal(t, "vc2-2c-4gb", res.Plan)
	assert.Equal(t, []string{"d1"}, store.Primaries())
	assert.Nil(t, store.Cloud.OutboundIP)
}

func TestProvision_PendingAddress(t *testing.T) {
	store := storetest.New()
	p := newProvisioner(t, store, &fakeAdapter{})

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, TargetExchange: "binance"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, provider.PendingIP, res.PublicIP)
	assert.Empty(t, res.DeploymentID)

	host, err := store.GetHost(context.Background(), res.HostID)
	require.NoError(t, err)
	assert.Nil(t, host.IPAddress)
	assert.Equal(t, model.HostProvisioning, host.Status)
}

func TestProvision_PollFailureMarksHostFailed(t *testing.T) {
	store := storetest.New()
	a := &fakeAdapter{ipErr: &provider.Error{Kind: provider.KindQuota, Provider: provider.Vultr, Op: "instance", Status: 402, Err: errors.New("insufficient funds")}}
	p := newProvisioner(t, store, a)

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, TargetExchange: "binance"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, string(provider.KindQuota), res.ErrorKind)

	require.Len(t, store.Hosts, 1)
	for _, h := range store.Hosts {
		assert.Equal(t, model.HostFailed, h.Status)
		require.NotNil(t, h.Error)
	}
}

func TestProvision_InvalidCredentials(t *testing.T) {
	store := storetest.New()
	a := &fakeAdapter{validateErr: &provider.Error{Kind: provider.KindInvalidCredential, Provider: provider.Vultr, Op: "validate", Status: 401, Err: errors.New("unauthorized")}}
	p := newProvisioner(t, store, a)

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, string(provider.KindInvalidCredential), res.ErrorKind)
	assert.Empty(t, a.created)
	assert.Empty(t, store.Hosts)
}

func TestProvision_NoCredentials(t *testing.T) {
	store := storetest.New()
	p := newProvisioner(t, store, &fakeAdapter{})
	delete(store.Credentials, provider.Vultr)

	res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no vultr credentials")
}

func TestProvision_InlineCredentialsStored(t *testing.T) {
	store := storetest.New()
	var seen *model.CloudCredential
	p := New(store, func(ctx context.Context, cred *model.CloudCredential) (provider.Adapter, error) {
		seen = cred
		return &fakeAdapter{ips: []string{"203.0.113.9"}}, nil
	}, Config{CloudInit: provider.CloudInit{AgentImage: "a", BotImage: "b", SignalPath: "/app/data/START_SIGNAL"}, PollStep: time.Millisecond}, zerolog.Nop())

	res, err := p.Provision(context.Background(), Request{
		Provider:    provider.Contabo,
		Credentials: &Credentials{Extra: map[string]string{"client_id": "id"}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, seen)
	assert.Equal(t, "id", seen.Extra["client_id"])
	assert.Equal(t, "id", store.Credentials[provider.Contabo].Extra["client_id"])
}

func TestProvision_Adopt(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store := storetest.New()
		a := &fakeAdapter{lookup: &provider.Lookup{Found: true, Instance: provider.Instance{
			ID: "inst-9", Status: provider.StateRunning, Region: "nrt", Plan: "vc2-1c-1gb", IP: "203.0.113.10",
		}}}
		p := newProvisioner(t, store, a)

		res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, IPAddress: "203.0.113.10"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.True(t, res.Adopted)
		assert.True(t, res.Primary)
		assert.Equal(t, "inst-9", res.InstanceID)
		assert.Empty(t, a.created)

		again, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, IPAddress: "203.0.113.10"})
		require.NoError(t, err)
		assert.Equal(t, res.HostID, again.HostID)
		assert.Len(t, store.Hosts, 1)
	})

	t.Run("not found", func(t *testing.T) {
		store := storetest.New()
		p := newProvisioner(t, store, &fakeAdapter{})

		res, err := p.Provision(context.Background(), Request{Provider: provider.Vultr, IPAddress: "203.0.113.11"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, string(provider.KindNotFound), res.ErrorKind)
		assert.Empty(t, store.Hosts)
	})
}

func TestControl(t *testing.T) {
	setup := func(t *testing.T) (*storetest.Memory, *fakeAdapter, *Provisioner) {
		store := storetest.New()
		store.AddHost("h1", provider.Vultr, "198.51.100.1").InstanceID = "inst-1"
		store.AddHost("h2", provider.Vultr, "198.51.100.2").InstanceID = "inst-2"
		store.AddDeployment("d1", "h1", true, model.BotRunning)
		store.AddDeployment("d2", "h2", false, model.BotStopped)
		a := &fakeAdapter{}
		return store, a, newProvisioner(t, store, a)
	}

	t.Run("halt", func(t *testing.T) {
		store, a, p := setup(t)
		res, err := p.Control(context.Background(), InstanceRequest{HostID: "h2", Action: ActionHalt})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, []string{"halt inst-2"}, a.actions)
		assert.Equal(t, model.HostStopped, store.Hosts["h2"].Status)
	})

	t.Run("start", func(t *testing.T) {
		store, _, p := setup(t)
		store.Hosts["h2"].Status = model.HostStopped
		res, err := p.Control(context.Background(), InstanceRequest{HostID: "h2", Action: ActionStart})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, model.HostProvisioning, store.Hosts["h2"].Status)
	})

	t.Run("destroy standby", func(t *testing.T) {
		store, a, p := setup(t)
		res, err := p.Control(context.Background(), InstanceRequest{HostID: "h2", Action: ActionDestroy})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, []string{"destroy inst-2"}, a.actions)
		assert.NotContains(t, store.Hosts, "h2")
		assert.NotContains(t, store.Deployments, "d2")
	})

	t.Run("destroy primary refused", func(t *testing.T) {
		_, a, p := setup(t)
		_, err := p.Control(context.Background(), InstanceRequest{HostID: "h1", Action: ActionDestroy})
		assert.ErrorIs(t, err, ErrDestroyPrimary)
		assert.Empty(t, a.actions)
	})

	t.Run("provider failure", func(t *testing.T) {
		store, a, p := setup(t)
		a.actionErr = &provider.Error{Kind: provider.KindTransient, Provider: provider.Vultr, Op: "halt", Status: 503, Err: errors.New("unavailable")}
		res, err := p.Control(context.Background(), InstanceRequest{HostID: "h2", Action: ActionHalt})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, string(provider.KindTransient), res.ErrorKind)
		assert.Equal(t, model.HostRunning, store.Hosts["h2"].Status)
	})
}
