package model

import "time"

// TradingConfig is the global trading switchboard (singleton row).
type TradingConfig struct {
	KillSwitchEnabled bool      `json:"kill_switch_enabled" db:"kill_switch_enabled"`
	TradingEnabled    bool      `json:"trading_enabled" db:"trading_enabled"`
	MaxPositionSize   float64   `json:"max_position_size" db:"max_position_size"`
	BotStatus         string    `json:"bot_status" db:"bot_status"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// AISignal is a recent decision emitted by the AI layer. The control plane
// only reads these for the informational preflight check.
type AISignal struct {
	ID         string    `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Direction  string    `json:"direction" db:"direction"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Timeframe  string    `json:"timeframe" db:"timeframe"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AIProvider holds the usage counters the scheduler resets.
type AIProvider struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	DailyUsage      int        `json:"daily_usage" db:"daily_usage"`
	CurrentUsage    int        `json:"current_usage" db:"current_usage"`
	ErrorCount      int        `json:"error_count" db:"error_count"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	WindowStartedAt time.Time  `json:"window_started_at" db:"window_started_at"`
}
