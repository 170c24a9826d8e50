package core

import (
	"context"
	"fmt"
	"time"
)

type AIProviderService struct {
	db DB
}

func NewAIProviderService(db DB) *AIProviderService {
	return &AIProviderService{db: db}
}

// ResetAIQuotas zeroes every provider's usage counters and cooldown.
func (s *AIProviderService) ResetAIQuotas(ctx context.Context, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE ai_providers SET daily_usage = 0, current_usage = 0, error_count = 0,
		        cooldown_until = NULL, window_started_at = $1`, at)
	if err != nil {
		return 0, fmt.Errorf("reset ai quotas: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepAICooldowns clears elapsed cooldowns and restarts per-minute usage
// windows older than window. Both updates are no-ops when replayed.
func (s *AIProviderService) SweepAICooldowns(ctx context.Context, now time.Time, window time.Duration) (cleared, reset int64, err error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE ai_providers SET cooldown_until = NULL WHERE cooldown_until IS NOT NULL AND cooldown_until <= $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("clear ai cooldowns: %w", err)
	}
	cleared = tag.RowsAffected()

	tag, err = s.db.Exec(ctx,
		`UPDATE ai_providers SET current_usage = 0, window_started_at = $1
		 WHERE window_started_at <= $1::timestamptz - $2::interval`, now, window)
	if err != nil {
		return cleared, 0, fmt.Errorf("reset ai usage windows: %w", err)
	}
	return cleared, tag.RowsAffected(), nil
}
