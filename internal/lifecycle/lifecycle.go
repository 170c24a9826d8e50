// Package lifecycle starts, stops and restarts the bot on a host, preferring
// the agent's HTTP API and falling back to SSH.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/model"
)

// ActionStatus reads the bot state without changing it.
const ActionStatus = "status"

// Store is the persistence lifecycle actions write through.
type Store interface {
	GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error)
	GetDeployment(ctx context.Context, id string) (*model.DeploymentTarget, error)
	BeginTransition(ctx context.Context, id, to string, from []string) (string, bool, error)
	CompleteTransition(ctx context.Context, id, from, status string) (bool, error)
	MarkTradingStarted(ctx context.Context) error
	MarkTradingStopped(ctx context.Context) error
	MarkTradingError(ctx context.Context) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

// Agent is the subset of the host agent client lifecycle uses.
type Agent interface {
	Control(ctx context.Context, ip string, req hostagent.ControlRequest) (*hostagent.ControlResponse, error)
	Status(ctx context.Context, ip string) (*hostagent.StatusResponse, error)
	SignalCheck(ctx context.Context, ip string) (*hostagent.SignalCheck, error)
}

// Shell runs a command on a host over SSH.
type Shell interface {
	Run(ctx context.Context, ip, cmd string) (string, error)
}

// Result is the outcome of a lifecycle action as reported to the operator.
type Result struct {
	Success      bool   `json:"success"`
	BotStatus    string `json:"botStatus"`
	VPSReachable bool   `json:"vpsReachable"`
	VPSIP        string `json:"vpsIp"`
	Message      string `json:"message"`
	Path         string `json:"path,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ErrNoDeployment is returned when there is no deployment to act on.
var ErrNoDeployment = errors.New("no active VPS deployment found")

// Bot statuses each action may claim the deployment from. A deployment
// held by starting or stopping is refused until that action finishes.
var (
	startFrom   = []string{model.BotStopped, model.BotError, model.BotUnknown}
	stopFrom    = []string{model.BotRunning, model.BotStopped, model.BotError, model.BotUnknown}
	restartFrom = []string{model.BotRunning, model.BotStopped, model.BotError, model.BotUnknown}
)

type Service struct {
	store      Store
	agent      Agent
	transports []transport
	logger     zerolog.Logger
}

// Config carries the host-side conventions.
type Config struct {
	SignalPath string
	Container  string
}

// New builds the service. shell may be nil, in which case there is no SSH
// fallback.
func New(store Store, agent Agent, shell Shell, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Container == "" {
		cfg.Container = "tradingbot"
	}
	transports := []transport{&httpTransport{agent: agent}}
	if shell != nil {
		transports = append(transports, &sshTransport{shell: shell, signalPath: cfg.SignalPath, container: cfg.Container})
	}
	return &Service{
		store:      store,
		agent:      agent,
		transports: transports,
		logger:     logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Do runs action against the deployment with id, or against the active
// deployment when id is empty. Host and transport failures are reported in
// the Result; only store failures are returned as errors.
func (s *Service) Do(ctx context.Context, action, id string, env map[string]string) (*Result, error) {
	target, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.IP() == "" {
		return &Result{BotStatus: target.BotStatus, DeploymentID: target.ID, Message: "deployment has no IP address"}, nil
	}

	switch action {
	case hostagent.ActionStart:
		return s.start(ctx, target, env)
	case hostagent.ActionStop:
		return s.stop(ctx, target)
	case hostagent.ActionRestart:
		return s.restart(ctx, target, env)
	case ActionStatus:
		return s.status(ctx, target), nil
	default:
		return nil, fmt.Errorf("unknown lifecycle action %q", action)
	}
}

func (s *Service) Start(ctx context.Context, id string, env map[string]string) (*Result, error) {
	return s.Do(ctx, hostagent.ActionStart, id, env)
}

func (s *Service) Stop(ctx context.Context, id string) (*Result, error) {
	return s.Do(ctx, hostagent.ActionStop, id, nil)
}

func (s *Service) Restart(ctx context.Context, id string, env map[string]string) (*Result, error) {
	return s.Do(ctx, hostagent.ActionRestart, id, env)
}

func (s *Service) Status(ctx context.Context, id string) (*Result, error) {
	return s.Do(ctx, ActionStatus, id, nil)
}

func (s *Service) resolve(ctx context.Context, id string) (*model.DeploymentTarget, error) {
	var (
		target *model.DeploymentTarget
		err    error
	)
	if id == "" {
		target, err = s.store.GetActiveDeployment(ctx)
	} else {
		target, err = s.store.GetDeployment(ctx, id)
	}
	if err != nil {
		return nil, errors.Join(ErrNoDeployment, err)
	}
	return target, nil
}

func (s *Service) start(ctx context.Context, t *model.DeploymentTarget, env map[string]string) (*Result, error) {
	current, won, err := s.store.BeginTransition(ctx, t.ID, model.BotStarting, startFrom)
	if err != nil {
		return nil, err
	}
	if !won {
		res := busy(t, current)
		if current == model.BotRunning {
			res.Success = true
			res.VPSReachable = true
			res.Message = "bot already running"
		}
		return res, nil
	}

	path, err := s.deliver(ctx, t.IP(), Command{Action: hostagent.ActionStart, Env: env})
	if err != nil {
		return s.fail(ctx, t, hostagent.ActionStart, model.BotStarting, err)
	}
	return s.finish(ctx, t, hostagent.ActionStart, path)
}

func (s *Service) stop(ctx context.Context, t *model.DeploymentTarget) (*Result, error) {
	current, won, err := s.store.BeginTransition(ctx, t.ID, model.BotStopping, stopFrom)
	if err != nil {
		return nil, err
	}
	if !won {
		return busy(t, current), nil
	}

	path, err := s.deliver(ctx, t.IP(), Command{Action: hostagent.ActionStop})
	if err != nil {
		return s.fail(ctx, t, hostagent.ActionStop, model.BotStopping, err)
	}
	return s.finish(ctx, t, hostagent.ActionStop, path)
}

func (s *Service) restart(ctx context.Context, t *model.DeploymentTarget, env map[string]string) (*Result, error) {
	current, won, err := s.store.BeginTransition(ctx, t.ID, model.BotStarting, restartFrom)
	if err != nil {
		return nil, err
	}
	if !won {
		return busy(t, current), nil
	}

	path, err := s.deliver(ctx, t.IP(), Command{Action: hostagent.ActionRestart, Env: env})
	if err != nil {
		return s.fail(ctx, t, hostagent.ActionRestart, model.BotStarting, err)
	}
	return s.finish(ctx, t, hostagent.ActionRestart, path)
}

// busy reports a refused claim.
func busy(t *model.DeploymentTarget, current string) *Result {
	res := &Result{BotStatus: current, VPSIP: t.IP(), DeploymentID: t.ID}
	switch current {
	case model.BotStarting:
		res.Message = "already starting"
	case model.BotStopping:
		res.Message = "already stopping"
	default:
		res.Message = "bot is " + current
	}
	return res
}

var outcomes = map[string]struct {
	from, to, subtype, title, message string
}{
	hostagent.ActionStart:   {model.BotStarting, model.BotRunning, "bot_started", "Bot started", "bot started"},
	hostagent.ActionStop:    {model.BotStopping, model.BotStopped, "bot_stopped", "Bot stopped", "bot stopped"},
	hostagent.ActionRestart: {model.BotStarting, model.BotRunning, "bot_restarted", "Bot restarted", "bot restarted"},
}

// finish releases the claim after the host accepted the command. When the
// claim was taken over meanwhile, nothing is written and the action is
// reported as superseded.
func (s *Service) finish(ctx context.Context, t *model.DeploymentTarget, action, path string) (*Result, error) {
	o := outcomes[action]
	wctx, cancel := writeContext(ctx)
	defer cancel()

	won, err := s.store.CompleteTransition(wctx, t.ID, o.from, o.to)
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Warn().Str("deployment", t.ID).Str("action", action).Msg("lifecycle claim taken over before completion")
		return &Result{
			VPSReachable: true, VPSIP: t.IP(), DeploymentID: t.ID, Path: path,
			Message: action + " superseded by another lifecycle action",
		}, nil
	}

	if o.to == model.BotRunning {
		err = s.store.MarkTradingStarted(wctx)
	} else {
		err = s.store.MarkTradingStopped(wctx)
	}
	if err != nil {
		return nil, err
	}
	s.event(ctx, t, o.subtype, o.title, path)
	return &Result{
		Success: true, BotStatus: o.to, VPSReachable: true, VPSIP: t.IP(),
		Message: o.message, Path: path, DeploymentID: t.ID,
	}, nil
}

// status prefers /status, then /signal-check, then the persisted value.
func (s *Service) status(ctx context.Context, t *model.DeploymentTarget) *Result {
	res := &Result{Success: true, VPSIP: t.IP(), DeploymentID: t.ID}

	if st, err := s.agent.Status(ctx, t.IP()); err == nil {
		res.VPSReachable = true
		res.BotStatus = boolStatus(st.BotActive)
		res.Message = "live"
		return res
	}
	if sc, err := s.agent.SignalCheck(ctx, t.IP()); err == nil {
		res.VPSReachable = true
		res.BotStatus = boolStatus(sc.SignalExists)
		res.Message = "signal"
		return res
	}
	res.BotStatus = t.BotStatus
	res.Message = "cached"
	return res
}

func boolStatus(active bool) string {
	if active {
		return model.BotRunning
	}
	return model.BotStopped
}

// deliver tries each transport in turn and returns the name of the one that
// succeeded, or all their errors joined.
func (s *Service) deliver(ctx context.Context, ip string, cmd Command) (string, error) {
	var errs []error
	for _, tr := range s.transports {
		err := tr.apply(ctx, ip, cmd)
		if err == nil {
			metrics.LifecycleActions.WithLabelValues(cmd.Action, tr.name(), "ok").Inc()
			return tr.name(), nil
		}
		metrics.LifecycleActions.WithLabelValues(cmd.Action, tr.name(), "error").Inc()
		s.logger.Warn().Err(err).Str("ip", ip).Str("action", cmd.Action).Str("path", tr.name()).Msg("lifecycle transport failed")
		errs = append(errs, fmt.Errorf("%s: %w", tr.name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (s *Service) fail(ctx context.Context, t *model.DeploymentTarget, action, claim string, cause error) (*Result, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()
	won, err := s.store.CompleteTransition(wctx, t.ID, claim, model.BotError)
	if err != nil {
		return nil, err
	}
	if won {
		if err := s.store.MarkTradingError(wctx); err != nil {
			return nil, err
		}
	}
	s.event(ctx, t, "bot_"+action+"_failed", "Bot "+action+" failed", cause.Error())
	return &Result{
		BotStatus: model.BotError, VPSReachable: reachedHost(cause), VPSIP: t.IP(), DeploymentID: t.ID,
		Message: fmt.Sprintf("%s failed", action), Error: cause.Error(),
	}, nil
}

func (s *Service) event(ctx context.Context, t *model.DeploymentTarget, subtype, title, detail string) {
	meta, _ := json.Marshal(map[string]string{"deployment_id": t.ID, "ip": t.IP(), "detail": detail})
	ctx, cancel := writeContext(ctx)
	defer cancel()
	if err := s.store.RecordEvent(ctx, &model.TimelineEvent{
		Provider:    t.Provider,
		EventType:   model.EventLifecycle,
		Subtype:     subtype,
		Title:       title,
		Description: detail,
		Metadata:    meta,
	}); err != nil {
		s.logger.Error().Err(err).Str("deployment", t.ID).Msg("record lifecycle event")
	}
}

// writeContext detaches bookkeeping writes from the caller's deadline so a
// host call that used up the budget still leaves the store consistent.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
