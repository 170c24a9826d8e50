// Package storetest provides an in-memory store with the same observable
// semantics as the Postgres-backed core services, for use in tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/platform"
)

type Memory struct {
	mu sync.Mutex

	Now func() time.Time

	Hosts         map[string]*model.Host
	Deployments   map[string]*model.Deployment
	Cloud         model.CloudConfig
	Credentials   map[string]*model.CloudCredential
	Samples       []model.HealthSample
	Snapshots     map[string]model.MetricsSnapshot
	Exchanges     map[string]*model.ExchangeConnection
	Permissions   map[string]model.CredentialPermission
	Trading       model.TradingConfig
	Events        []model.TimelineEvent
	Alerts        []model.Alert
	Notifications []model.Notification
	Progression   model.ProgressionState
	AIProviders   map[string]*model.AIProvider
	Signals       []model.AISignal

	nextSample int64
}

func New() *Memory {
	return &Memory{
		Now:         time.Now,
		Hosts:       map[string]*model.Host{},
		Deployments: map[string]*model.Deployment{},
		Credentials: map[string]*model.CloudCredential{},
		Snapshots:   map[string]model.MetricsSnapshot{},
		Exchanges:   map[string]*model.ExchangeConnection{},
		Permissions: map[string]model.CredentialPermission{},
		AIProviders: map[string]*model.AIProvider{},
		Trading:     model.TradingConfig{BotStatus: model.BotStopped},
	}
}

// ---------- seeding helpers ----------

// AddHost inserts a running host with ip and returns it.
func (m *Memory) AddHost(id, provider, ip string) *model.Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := ip
	h := &model.Host{ID: id, Provider: provider, IPAddress: &addr, Status: model.HostRunning, BotStatus: model.BotStopped, CreatedAt: m.Now()}
	m.Hosts[id] = h
	return h
}

// AddDeployment binds a new active deployment to hostID.
func (m *Memory) AddDeployment(id, hostID string, primary bool, botStatus string) *model.Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &model.Deployment{ID: id, HostID: hostID, IsPrimary: primary, Status: model.DeployActive, BotStatus: botStatus, CreatedAt: m.Now(), UpdatedAt: m.Now()}
	m.Deployments[id] = d
	return d
}

// AddExchange inserts a connected exchange with the given credentials.
func (m *Memory) AddExchange(name, key, secret string) *model.ExchangeConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &model.ExchangeConnection{ID: platform.NewID(), ExchangeName: name, IsConnected: true, APIKey: key, APISecret: secret}
	m.Exchanges[name] = e
	return e
}

// Primaries returns the IDs of deployments flagged primary, sorted.
func (m *Memory) Primaries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, d := range m.Deployments {
		if d.IsPrimary {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ---------- hosts ----------

func (m *Memory) CreateHost(ctx context.Context, h *model.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.IPAddress != nil && h.Status != model.HostFailed {
		for _, other := range m.Hosts {
			if other.Provider == h.Provider && other.IP() == *h.IPAddress && other.Status != model.HostFailed {
				return fmt.Errorf("create host: %w", core.ErrConflict)
			}
		}
	}
	cp := *h
	m.Hosts[h.ID] = &cp
	return nil
}

func (m *Memory) GetHost(ctx context.Context, id string) (*model.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.Hosts[id]
	if !ok {
		return nil, fmt.Errorf("get host %s: %w", id, core.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (m *Memory) FindLiveHostByIP(ctx context.Context, provider, ip string) (*model.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.Hosts {
		if h.Provider == provider && h.IP() == ip && h.Status != model.HostFailed {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListProbeTargets(ctx context.Context) ([]model.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Host
	for _, h := range m.Hosts {
		if h.Status != model.HostFailed && h.IP() != "" {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetHostStatus(ctx context.Context, ip, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.Hosts {
		if h.IP() == ip && h.Status != model.HostFailed {
			h.Status = status
			if status == model.HostRunning {
				h.Error = nil
			}
		}
	}
	return nil
}

func (m *Memory) SetHostAddress(ctx context.Context, id, ip, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.Hosts[id]
	if !ok {
		return fmt.Errorf("set host %s address: %w", id, core.ErrNotFound)
	}
	addr := ip
	h.IPAddress = &addr
	h.Status = status
	return nil
}

func (m *Memory) MarkHostFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.Hosts[id]; ok {
		h.Status = model.HostFailed
		h.Error = &reason
	}
	return nil
}

func (m *Memory) DeleteHost(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Hosts, id)
	for did, d := range m.Deployments {
		if d.HostID == id {
			delete(m.Deployments, did)
		}
	}
	return nil
}

// ---------- deployments ----------

func (m *Memory) target(d *model.Deployment) *model.DeploymentTarget {
	t := &model.DeploymentTarget{Deployment: *d}
	if h, ok := m.Hosts[d.HostID]; ok {
		t.Provider = h.Provider
		t.Region = h.Region
		t.IPAddress = h.IPAddress
		t.HostState = h.Status
	}
	return t
}

func (m *Memory) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.IsPrimary {
		for _, other := range m.Deployments {
			if other.IsPrimary {
				return fmt.Errorf("create deployment: %w", core.ErrConflict)
			}
		}
	}
	cp := *d
	cp.CreatedAt, cp.UpdatedAt = m.Now(), m.Now()
	m.Deployments[d.ID] = &cp
	return nil
}

func (m *Memory) GetDeployment(ctx context.Context, id string) (*model.DeploymentTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Deployments[id]
	if !ok {
		return nil, fmt.Errorf("get deployment %s: %w", id, core.ErrNotFound)
	}
	return m.target(d), nil
}

func (m *Memory) GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Deployment
	for _, d := range m.Deployments {
		h, ok := m.Hosts[d.HostID]
		if d.Status != model.DeployActive || !ok || h.Status == model.HostFailed {
			continue
		}
		if best == nil || (d.IsPrimary && !best.IsPrimary) ||
			(d.IsPrimary == best.IsPrimary && d.UpdatedAt.After(best.UpdatedAt)) {
			best = d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("get active deployment: %w", core.ErrNotFound)
	}
	return m.target(best), nil
}

func (m *Memory) GetDeploymentByIP(ctx context.Context, ip string) (*model.DeploymentTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Deployments {
		if h, ok := m.Hosts[d.HostID]; ok && h.IP() == ip && h.Status != model.HostFailed {
			return m.target(d), nil
		}
	}
	return nil, fmt.Errorf("get deployment for %s: %w", ip, core.ErrNotFound)
}

func (m *Memory) ListDeployments(ctx context.Context) ([]model.DeploymentTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeploymentTarget
	for _, d := range m.Deployments {
		out = append(out, *m.target(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) BeginTransition(ctx context.Context, id, to string, from []string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Deployments[id]
	if !ok {
		return "", false, fmt.Errorf("read bot status %s: %w", id, core.ErrNotFound)
	}
	stale := model.IsTransitionalBotStatus(d.BotStatus) && m.Now().Sub(d.UpdatedAt) > core.TransitionTimeout
	if !stale && !slices.Contains(from, d.BotStatus) {
		return d.BotStatus, false, nil
	}
	d.BotStatus = to
	d.UpdatedAt = m.Now()
	return to, true, nil
}

func (m *Memory) CompleteTransition(ctx context.Context, id, from, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Deployments[id]
	if !ok || d.BotStatus != from {
		return false, nil
	}
	d.BotStatus = status
	d.UpdatedAt = m.Now()
	if h, ok := m.Hosts[d.HostID]; ok {
		h.BotStatus = status
	}
	return true, nil
}

func (m *Memory) ClearBotError(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := false
	for _, h := range m.Hosts {
		if h.IP() != ip || h.Status == model.HostFailed {
			continue
		}
		if h.BotStatus == model.BotError {
			h.BotStatus = model.BotStopped
		}
		for _, d := range m.Deployments {
			if d.HostID == h.ID && d.BotStatus == model.BotError {
				d.BotStatus = model.BotStopped
				cleared = true
			}
		}
	}
	return cleared, nil
}

func (m *Memory) TouchHealthCheck(ctx context.Context, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Deployments {
		if h, ok := m.Hosts[d.HostID]; ok && h.IP() == ip {
			ts := at
			d.LastHealthCheck = &ts
		}
	}
	return nil
}

func (m *Memory) CountPrimaries(ctx context.Context) (int, error) {
	return len(m.Primaries()), nil
}

func (m *Memory) PromotePrimary(ctx context.Context, id, ip string, ev *model.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.Deployments[id]
	if !ok {
		return fmt.Errorf("set primary %s: %w", id, core.ErrNotFound)
	}
	for _, d := range m.Deployments {
		d.IsPrimary = false
	}
	target.IsPrimary = true
	target.Status = model.DeployActive
	target.UpdatedAt = m.Now()
	addr := ip
	m.Cloud.OutboundIP = &addr
	if ev != nil {
		m.appendEvent(ev)
	}
	return nil
}

func (m *Memory) DeleteDeployment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Deployments, id)
	return nil
}

// ---------- cloud config ----------

func (m *Memory) GetCloudConfig(ctx context.Context) (*model.CloudConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.Cloud
	return &c, nil
}

func (m *Memory) SetActiveHost(ctx context.Context, provider, region, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := ip
	m.Cloud.Provider, m.Cloud.Region, m.Cloud.OutboundIP = provider, region, &addr
	return nil
}

func (m *Memory) AcquireMigrationLock(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Cloud.MigrationInProgress {
		return false, nil
	}
	m.Cloud.MigrationInProgress = true
	return true, nil
}

func (m *Memory) ReleaseMigrationLock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cloud.MigrationInProgress = false
	return nil
}

func (m *Memory) GetCloudCredential(ctx context.Context, provider string) (*model.CloudCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Credentials[provider]
	if !ok {
		return nil, fmt.Errorf("get %s credential: %w", provider, core.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpsertCloudCredential(ctx context.Context, c *model.CloudCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.Credentials[c.Provider] = &cp
	return nil
}

// ---------- health ----------

func (m *Memory) RecordHealthSample(ctx context.Context, ip, provider string, healthy bool, latencyMS int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failures := 0
	if !healthy {
		prev := 0
		for i := len(m.Samples) - 1; i >= 0; i-- {
			if m.Samples[i].HostIP == ip {
				prev = m.Samples[i].ConsecutiveFailures
				break
			}
		}
		failures = prev + 1
	}
	m.nextSample++
	m.Samples = append(m.Samples, model.HealthSample{
		ID: m.nextSample, HostIP: ip, Provider: provider, RecordedAt: m.Now(),
		IsHealthy: healthy, LatencyMS: latencyMS, ConsecutiveFailures: failures,
	})
	return failures, nil
}

// SeedSample appends a sample verbatim.
func (m *Memory) SeedSample(ip string, healthy bool, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSample++
	m.Samples = append(m.Samples, model.HealthSample{
		ID: m.nextSample, HostIP: ip, RecordedAt: m.Now(), IsHealthy: healthy, ConsecutiveFailures: failures,
	})
}

func (m *Memory) LatestHealthSample(ctx context.Context, ip string) (*model.HealthSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Samples) - 1; i >= 0; i-- {
		if m.Samples[i].HostIP == ip {
			s := m.Samples[i]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("latest health sample %s: %w", ip, core.ErrNotFound)
}

func (m *Memory) ListHealthSamples(ctx context.Context, ip string, limit int) ([]model.HealthSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.HealthSample
	for i := len(m.Samples) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Samples[i].HostIP == ip {
			out = append(out, m.Samples[i])
		}
	}
	return out, nil
}

func (m *Memory) UpsertMetricsSnapshot(ctx context.Context, snap *model.MetricsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[snap.Provider] = *snap
	return nil
}

func (m *Memory) GetMetricsSnapshot(ctx context.Context, provider string) (*model.MetricsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Snapshots[provider]
	if !ok {
		return nil, fmt.Errorf("get metrics snapshot %s: %w", provider, core.ErrNotFound)
	}
	return &s, nil
}

// ---------- exchanges ----------

func (m *Memory) listExchanges(connectedOnly bool) []model.ExchangeConnection {
	var out []model.ExchangeConnection
	for _, e := range m.Exchanges {
		if connectedOnly && !e.IsConnected {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeName < out[j].ExchangeName })
	return out
}

func (m *Memory) ListExchanges(ctx context.Context) ([]model.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listExchanges(false), nil
}

func (m *Memory) ListConnectedExchanges(ctx context.Context) ([]model.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listExchanges(true), nil
}

func (m *Memory) RecordExchangeBalance(ctx context.Context, name string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Exchanges[name]; ok {
		b, now := balance, m.Now()
		e.BalanceUSDT, e.BalanceUpdatedAt = &b, &now
		e.LastError, e.LastErrorAt = nil, nil
	}
	return nil
}

func (m *Memory) RecordExchangeError(ctx context.Context, name, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Exchanges[name]; ok {
		msg, now := message, m.Now()
		e.LastError, e.LastErrorAt = &msg, &now
	}
	return nil
}

func (m *Memory) RecordExchangePing(ctx context.Context, name string, latencyMS int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Exchanges[name]; ok {
		ms := latencyMS
		e.LastPingMS = &ms
	}
	return nil
}

func (m *Memory) UpsertWhitelist(ctx context.Context, exchange, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := ip
	m.Permissions[exchange] = model.CredentialPermission{
		Provider: exchange, CredentialType: "api_key", IPRestricted: true, WhitelistedRange: &addr, UpdatedAt: m.Now(),
	}
	return nil
}

func (m *Memory) ListPermissions(ctx context.Context) ([]model.CredentialPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CredentialPermission
	for _, p := range m.Permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// ---------- trading config ----------

func (m *Memory) GetTradingConfig(ctx context.Context) (*model.TradingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.Trading
	return &c, nil
}

func (m *Memory) MarkTradingStarted(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trading.BotStatus, m.Trading.TradingEnabled, m.Trading.KillSwitchEnabled = model.BotRunning, true, false
	return nil
}

func (m *Memory) MarkTradingStopped(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trading.BotStatus, m.Trading.TradingEnabled = model.BotStopped, false
	return nil
}

func (m *Memory) MarkTradingError(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trading.BotStatus = model.BotError
	return nil
}

func (m *Memory) RecentAISignals(ctx context.Context, since time.Time, minConfidence float64) ([]model.AISignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AISignal
	for _, s := range m.Signals {
		if !s.CreatedAt.Before(since) && s.Confidence >= minConfidence {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---------- timeline, alerts, notifications ----------

func (m *Memory) appendEvent(ev *model.TimelineEvent) {
	if ev.ID == "" {
		ev.ID = platform.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.Now()
	}
	m.Events = append(m.Events, *ev)
}

func (m *Memory) RecordEvent(ctx context.Context, ev *model.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEvent(ev)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, limit int) ([]model.TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TimelineEvent
	for i := len(m.Events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Events[i])
	}
	return out, nil
}

func (m *Memory) TryRecordAlert(ctx context.Context, a *model.Alert, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.SentAt.IsZero() {
		a.SentAt = m.Now()
	}
	for _, prev := range m.Alerts {
		if prev.SentAt.After(a.SentAt.Add(-window)) {
			return false, nil
		}
	}
	if a.ID == "" {
		a.ID = platform.NewID()
	}
	m.Alerts = append(m.Alerts, *a)
	return true, nil
}

func (m *Memory) CreateNotification(ctx context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = platform.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.Now()
	}
	for _, prev := range m.Notifications {
		if prev.ID == n.ID {
			return nil
		}
	}
	m.Notifications = append(m.Notifications, *n)
	return nil
}

// ---------- progression ----------

func (m *Memory) GetProgression(ctx context.Context) (*model.ProgressionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.Progression
	return &p, nil
}

func (m *Memory) IncrementProgression(ctx context.Context, mode string, paperThreshold, liveThreshold int) (*model.ProgressionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &m.Progression
	switch mode {
	case model.ModeSimulation:
		p.SuccessfulSimulationTrades++
	case model.ModePaper:
		p.SuccessfulPaperTrades++
	}
	p.PaperUnlocked = p.PaperUnlocked || p.SuccessfulSimulationTrades >= paperThreshold
	p.LiveUnlocked = p.LiveUnlocked || (p.PaperUnlocked && p.SuccessfulPaperTrades >= liveThreshold)
	p.UpdatedAt = m.Now()
	out := *p
	return &out, nil
}

func (m *Memory) ResetProgression(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Progression = model.ProgressionState{UpdatedAt: m.Now()}
	return nil
}

// ---------- AI providers ----------

func (m *Memory) ResetAIQuotas(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.AIProviders {
		p.DailyUsage, p.CurrentUsage, p.ErrorCount, p.CooldownUntil, p.WindowStartedAt = 0, 0, 0, nil, at
	}
	return int64(len(m.AIProviders)), nil
}

func (m *Memory) SweepAICooldowns(ctx context.Context, now time.Time, window time.Duration) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cleared, reset int64
	for _, p := range m.AIProviders {
		if p.CooldownUntil != nil && !p.CooldownUntil.After(now) {
			p.CooldownUntil = nil
			cleared++
		}
		if !p.WindowStartedAt.After(now.Add(-window)) {
			p.CurrentUsage, p.WindowStartedAt = 0, now
			reset++
		}
	}
	return cleared, reset, nil
}
