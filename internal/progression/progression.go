// Package progression tracks successful trades and unlocks paper and live
// trading once the thresholds are reached.
package progression

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edvin/botplane/internal/model"
)

const (
	PaperThreshold = 20
	LiveThreshold  = 50
)

type Store interface {
	GetProgression(ctx context.Context) (*model.ProgressionState, error)
	IncrementProgression(ctx context.Context, mode string, paperThreshold, liveThreshold int) (*model.ProgressionState, error)
	ResetProgression(ctx context.Context) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

// Trade is one closed trade as reported by the bot.
type Trade struct {
	Mode string          `json:"mode" validate:"required,oneof=simulation paper live"`
	PnL  decimal.Decimal `json:"pnl"`
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger.With().Str("component", "progression").Logger()}
}

func (s *Service) State(ctx context.Context) (*model.ProgressionState, error) {
	return s.store.GetProgression(ctx)
}

// Record counts a closed trade. Only profitable simulation and paper trades
// count; anything else returns the current state unchanged.
func (s *Service) Record(ctx context.Context, t Trade) (*model.ProgressionState, error) {
	if !t.PnL.IsPositive() || (t.Mode != model.ModeSimulation && t.Mode != model.ModePaper) {
		return s.store.GetProgression(ctx)
	}

	before, err := s.store.GetProgression(ctx)
	if err != nil {
		return nil, err
	}
	after, err := s.store.IncrementProgression(ctx, t.Mode, PaperThreshold, LiveThreshold)
	if err != nil {
		return nil, fmt.Errorf("record %s trade: %w", t.Mode, err)
	}

	if !before.PaperUnlocked && after.PaperUnlocked {
		s.unlocked(ctx, model.ModePaper, after)
	}
	if !before.LiveUnlocked && after.LiveUnlocked {
		s.unlocked(ctx, model.ModeLive, after)
	}
	return after, nil
}

// Reset clears counters and flags. Flags never turn off any other way.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.ResetProgression(ctx); err != nil {
		return fmt.Errorf("reset progression: %w", err)
	}
	s.logger.Warn().Msg("progression reset by operator")
	return nil
}

func (s *Service) unlocked(ctx context.Context, mode string, st *model.ProgressionState) {
	meta, _ := json.Marshal(st)
	s.logger.Info().Str("mode", mode).Msg("trading mode unlocked")
	if err := s.store.RecordEvent(ctx, &model.TimelineEvent{
		EventType:   model.EventLifecycle,
		Subtype:     mode + "_unlocked",
		Title:       mode + " trading unlocked",
		Description: fmt.Sprintf("%d simulation and %d paper trades", st.SuccessfulSimulationTrades, st.SuccessfulPaperTrades),
		Metadata:    meta,
	}); err != nil {
		s.logger.Error().Err(err).Msg("record unlock event")
	}
}
