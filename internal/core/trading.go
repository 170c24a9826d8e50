package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/botplane/internal/model"
)

type TradingConfigService struct {
	db DB
}

func NewTradingConfigService(db DB) *TradingConfigService {
	return &TradingConfigService{db: db}
}

func (s *TradingConfigService) GetTradingConfig(ctx context.Context) (*model.TradingConfig, error) {
	var c model.TradingConfig
	err := s.db.QueryRow(ctx,
		`SELECT kill_switch_enabled, trading_enabled, max_position_size, bot_status, updated_at FROM trading_config WHERE id = 1`,
	).Scan(&c.KillSwitchEnabled, &c.TradingEnabled, &c.MaxPositionSize, &c.BotStatus, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get trading config: %w", wrapNoRows(err))
	}
	return &c, nil
}

// MarkTradingStarted mirrors a successful start: bot running, trading on,
// kill switch released.
func (s *TradingConfigService) MarkTradingStarted(ctx context.Context) error {
	return s.setTradingState(ctx,
		`UPDATE trading_config SET bot_status = 'running', trading_enabled = true, kill_switch_enabled = false, updated_at = now() WHERE id = 1`)
}

// MarkTradingStopped mirrors a successful stop.
func (s *TradingConfigService) MarkTradingStopped(ctx context.Context) error {
	return s.setTradingState(ctx,
		`UPDATE trading_config SET bot_status = 'stopped', trading_enabled = false, updated_at = now() WHERE id = 1`)
}

func (s *TradingConfigService) MarkTradingError(ctx context.Context) error {
	return s.setTradingState(ctx,
		`UPDATE trading_config SET bot_status = 'error', updated_at = now() WHERE id = 1`)
}

func (s *TradingConfigService) setTradingState(ctx context.Context, query string) error {
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("update trading config: %w", err)
	}
	return nil
}

// RecentAISignals returns signals created at or after since with at least
// minConfidence, newest first.
func (s *TradingConfigService) RecentAISignals(ctx context.Context, since time.Time, minConfidence float64) ([]model.AISignal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, symbol, direction, confidence, timeframe, created_at
		 FROM ai_signals WHERE created_at >= $1 AND confidence >= $2 ORDER BY created_at DESC, id`,
		since, minConfidence,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent signals: %w", err)
	}
	defer rows.Close()

	var out []model.AISignal
	for rows.Next() {
		var sig model.AISignal
		if err := rows.Scan(&sig.ID, &sig.Symbol, &sig.Direction, &sig.Confidence, &sig.Timeframe, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return out, nil
}
