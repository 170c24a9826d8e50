// Package preflight decides whether the bot may be started.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/model"
)

const (
	HealthTimeout = 8 * time.Second
	Budget        = 30 * time.Second
	// StoreTimeout bounds each store call. Store calls run outside Budget
	// so a report cut short by it can still be assembled and recorded.
	StoreTimeout = 5 * time.Second

	signalMaxAge        = 60 * time.Second
	signalMinConfidence = 0.70
)

// MinBalance is the smallest USDT balance an exchange needs to trade.
var MinBalance = decimal.NewFromInt(10)

var shortTimeframes = map[string]bool{"1m": true, "3m": true, "5m": true, "15m": true}

// Store is the state preflight reads and the balance bookkeeping it writes.
type Store interface {
	GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error)
	ListExchanges(ctx context.Context) ([]model.ExchangeConnection, error)
	RecordExchangeBalance(ctx context.Context, name string, balance float64) error
	RecordExchangeError(ctx context.Context, name, message string) error
	GetTradingConfig(ctx context.Context) (*model.TradingConfig, error)
	RecentAISignals(ctx context.Context, since time.Time, minConfidence float64) ([]model.AISignal, error)
}

// Agent is the subset of the host agent client preflight uses.
type Agent interface {
	Health(ctx context.Context, ip string, timeout time.Duration) (*hostagent.HealthResult, error)
	SignalCheck(ctx context.Context, ip string) (*hostagent.SignalCheck, error)
	Balance(ctx context.Context, ip string, req hostagent.BalanceRequest) (*hostagent.BalanceResponse, error)
}

type HostReport struct {
	Found               bool   `json:"found"`
	DeploymentID        string `json:"deploymentId,omitempty"`
	IP                  string `json:"ip,omitempty"`
	Provider            string `json:"provider,omitempty"`
	Reachable           bool   `json:"reachable"`
	LatencyMS           int    `json:"latency_ms"`
	SignalExists        *bool  `json:"signalExists,omitempty"`
	SignalEndpointValid bool   `json:"signalEndpointValid"`
}

type ExchangeReport struct {
	Name             string   `json:"name"`
	HasCredentials   bool     `json:"hasCredentials"`
	Balance          *float64 `json:"balance,omitempty"`
	Sufficient       bool     `json:"sufficient"`
	IPNotWhitelisted bool     `json:"ipNotWhitelisted,omitempty"`
	CredentialError  bool     `json:"credentialError,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// usable reports whether nothing known rules the exchange out. An unknown
// balance does not.
func (e *ExchangeReport) usable() bool {
	return e.HasCredentials && !e.IPNotWhitelisted && !e.CredentialError && (e.Balance == nil || e.Sufficient)
}

type AIReport struct {
	RecentSignals int    `json:"recentSignals"`
	Message       string `json:"message"`
}

type RiskReport struct {
	KillSwitchEnabled bool    `json:"killSwitchEnabled"`
	TradingEnabled    bool    `json:"tradingEnabled"`
	MaxPositionSize   float64 `json:"maxPositionSize"`
}

// Report is the full preflight result. Reasons block the start; warnings
// do not.
type Report struct {
	OK        bool             `json:"ok"`
	Reasons   []string         `json:"reasons"`
	Warnings  []string         `json:"warnings"`
	Host      HostReport       `json:"host"`
	Exchanges []ExchangeReport `json:"exchanges"`
	AI        AIReport         `json:"ai"`
	Risk      RiskReport       `json:"risk"`
	Timeout   bool             `json:"timeout,omitempty"`
}

type Checker struct {
	store  Store
	agent  Agent
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, agent Agent, logger zerolog.Logger) *Checker {
	return &Checker{
		store:  store,
		agent:  agent,
		logger: logger.With().Str("component", "preflight").Logger(),
		now:    time.Now,
	}
}

// Run evaluates every check in order. Denials are reported in the Report;
// only store failures are returned as errors.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, Budget)
	defer cancel()

	rep := &Report{Reasons: []string{}, Warnings: []string{}, Exchanges: []ExchangeReport{}}
	defer func() {
		metrics.PreflightDecisions.WithLabelValues(strconv.FormatBool(rep.OK)).Inc()
	}()

	if err := c.checkHost(ctx, rep); err != nil {
		return nil, err
	}
	if err := c.checkExchanges(ctx, rep); err != nil {
		return nil, err
	}
	if err := c.checkRisk(ctx, rep); err != nil {
		return nil, err
	}
	c.checkAI(ctx, rep)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rep.Timeout = true
		rep.Reasons = append(rep.Reasons, "Preflight did not finish within the time budget")
	}

	usable := false
	for i := range rep.Exchanges {
		if rep.Exchanges[i].usable() {
			usable = true
			break
		}
	}
	rep.OK = rep.Host.Reachable && usable && !rep.Timeout
	return rep, nil
}

func (c *Checker) checkHost(ctx context.Context, rep *Report) error {
	sctx, cancel := storeContext(ctx)
	defer cancel()
	dep, err := c.store.GetActiveDeployment(sctx)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			rep.Reasons = append(rep.Reasons, "No active VPS deployment found")
			return nil
		}
		return err
	}
	rep.Host.Found = true
	rep.Host.DeploymentID = dep.ID
	rep.Host.Provider = dep.Provider
	rep.Host.IP = dep.IP()
	if rep.Host.IP == "" {
		rep.Reasons = append(rep.Reasons, "Active VPS deployment has no IP address")
		return nil
	}

	health, err := c.agent.Health(ctx, rep.Host.IP, HealthTimeout)
	if health != nil {
		rep.Host.LatencyMS = int(health.Latency.Milliseconds())
	}
	if err != nil {
		rep.Reasons = append(rep.Reasons, fmt.Sprintf("VPS %s is not responding to health checks", rep.Host.IP))
		return nil
	}
	rep.Host.Reachable = true

	sc, err := c.agent.SignalCheck(ctx, rep.Host.IP)
	switch {
	case err == nil:
		exists := sc.SignalExists
		rep.Host.SignalExists = &exists
		rep.Host.SignalEndpointValid = true
	case errors.Is(err, hostagent.ErrInvalidSignalEndpoint):
		rep.Warnings = append(rep.Warnings, "Signal check endpoint returned an unexpected payload")
	default:
		rep.Warnings = append(rep.Warnings, "Signal check endpoint did not respond")
	}
	return nil
}

func (c *Checker) checkExchanges(ctx context.Context, rep *Report) error {
	sctx, cancel := storeContext(ctx)
	defer cancel()
	exchanges, err := c.store.ListExchanges(sctx)
	if err != nil {
		return err
	}

	reports := make([]ExchangeReport, len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	withCreds := 0
	for i := range exchanges {
		ex := exchanges[i]
		reports[i] = ExchangeReport{Name: ex.ExchangeName, HasCredentials: ex.HasCredentials()}
		if !reports[i].HasCredentials {
			continue
		}
		withCreds++
		if !rep.Host.Reachable {
			continue
		}
		g.Go(func() error {
			return c.checkBalance(gctx, rep.Host.IP, &ex, &reports[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if withCreds == 0 {
		rep.Reasons = append(rep.Reasons, "No exchange with API credentials configured")
	}
	for i := range reports {
		r := &reports[i]
		switch {
		case r.IPNotWhitelisted:
			rep.Reasons = append(rep.Reasons, fmt.Sprintf("%s: VPS IP %s is not whitelisted for this API key", r.Name, rep.Host.IP))
		case r.CredentialError:
			rep.Reasons = append(rep.Reasons, fmt.Sprintf("%s: API credentials rejected", r.Name))
		case r.Balance != nil && !r.Sufficient:
			rep.Reasons = append(rep.Reasons,
				fmt.Sprintf("Balance too low ($%s)", decimal.NewFromFloat(*r.Balance).StringFixed(2)))
		}
	}
	rep.Exchanges = reports
	return nil
}

// checkBalance asks the host to read one exchange balance. Exchange-side
// failures are recorded on the report and the store; only store errors are
// returned.
func (c *Checker) checkBalance(ctx context.Context, ip string, ex *model.ExchangeConnection, r *ExchangeReport) error {
	req := hostagent.BalanceRequest{Exchange: ex.ExchangeName, APIKey: ex.APIKey, APISecret: ex.APISecret}
	if ex.Passphrase != nil {
		req.Passphrase = *ex.Passphrase
	}
	resp, err := c.agent.Balance(ctx, ip, req)
	if err != nil {
		// Transport failure: balance stays unknown.
		r.Error = err.Error()
		return nil
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	if !resp.Success || resp.Balance == nil {
		r.Error = resp.Error
		switch classify(resp.Error) {
		case errIPWhitelist:
			r.IPNotWhitelisted = true
		case errCredential:
			r.CredentialError = true
		}
		return c.store.RecordExchangeError(sctx, ex.ExchangeName, resp.Error)
	}

	bal := *resp.Balance
	r.Balance = &bal
	r.Sufficient = decimal.NewFromFloat(bal).GreaterThanOrEqual(MinBalance)
	return c.store.RecordExchangeBalance(sctx, ex.ExchangeName, bal)
}

func (c *Checker) checkRisk(ctx context.Context, rep *Report) error {
	sctx, cancel := storeContext(ctx)
	defer cancel()
	tc, err := c.store.GetTradingConfig(sctx)
	if err != nil {
		return err
	}
	rep.Risk = RiskReport{
		KillSwitchEnabled: tc.KillSwitchEnabled,
		TradingEnabled:    tc.TradingEnabled,
		MaxPositionSize:   tc.MaxPositionSize,
	}
	if tc.KillSwitchEnabled {
		rep.Warnings = append(rep.Warnings, "Kill switch is enabled; starting the bot will disable it")
	}
	if !tc.TradingEnabled {
		rep.Warnings = append(rep.Warnings, "Trading is disabled; starting the bot will enable it")
	}
	return nil
}

func (c *Checker) checkAI(ctx context.Context, rep *Report) {
	sctx, cancel := storeContext(ctx)
	defer cancel()
	signals, err := c.store.RecentAISignals(sctx, c.now().Add(-signalMaxAge), signalMinConfidence)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read recent signals")
		rep.AI.Message = "AI signals unavailable"
		return
	}
	n := 0
	for _, s := range signals {
		if shortTimeframes[s.Timeframe] {
			n++
		}
	}
	rep.AI.RecentSignals = n
	if n == 0 {
		rep.AI.Message = "No recent high-confidence signals; the bot will wait for one"
	} else {
		rep.AI.Message = fmt.Sprintf("%d recent high-confidence signals", n)
	}
}

func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), StoreTimeout)
}

type errKind int

const (
	errOther errKind = iota
	errIPWhitelist
	errCredential
)

// classify maps an exchange error message to a kind. Binance reports IP
// restrictions as code -2015.
func classify(msg string) errKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "IP"), strings.Contains(lower, "whitelist"), strings.Contains(msg, "-2015"):
		return errIPWhitelist
	case strings.Contains(lower, "invalid api"), strings.Contains(lower, "api key"),
		strings.Contains(lower, "signature"), strings.Contains(msg, "-2014"), strings.Contains(msg, "-1022"),
		strings.Contains(lower, "unauthorized"):
		return errCredential
	}
	return errOther
}
