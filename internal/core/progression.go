package core

import (
	"context"
	"fmt"

	"github.com/edvin/botplane/internal/model"
)

type ProgressionService struct {
	db DB
}

func NewProgressionService(db DB) *ProgressionService {
	return &ProgressionService{db: db}
}

const progressionColumns = `successful_simulation_trades, successful_paper_trades, paper_unlocked, live_unlocked, updated_at`

func scanProgression(row interface{ Scan(...any) error }, p *model.ProgressionState) error {
	return row.Scan(&p.SuccessfulSimulationTrades, &p.SuccessfulPaperTrades, &p.PaperUnlocked, &p.LiveUnlocked, &p.UpdatedAt)
}

func (s *ProgressionService) GetProgression(ctx context.Context) (*model.ProgressionState, error) {
	var p model.ProgressionState
	if err := scanProgression(s.db.QueryRow(ctx, `SELECT `+progressionColumns+` FROM progression_state WHERE id = 1`), &p); err != nil {
		return nil, fmt.Errorf("get progression: %w", wrapNoRows(err))
	}
	return &p, nil
}

// IncrementProgression adds one successful trade in mode and, in the same
// statement, turns on any unlock whose threshold the new counters meet.
// Unlock flags are only ever OR-ed, never cleared.
func (s *ProgressionService) IncrementProgression(ctx context.Context, mode string, paperThreshold, liveThreshold int) (*model.ProgressionState, error) {
	var p model.ProgressionState
	err := scanProgression(s.db.QueryRow(ctx,
		`WITH inc AS (
		     SELECT CASE WHEN $1::text = 'simulation' THEN 1 ELSE 0 END AS sim,
		            CASE WHEN $1::text = 'paper' THEN 1 ELSE 0 END AS paper
		 )
		 UPDATE progression_state p SET
		     successful_simulation_trades = p.successful_simulation_trades + inc.sim,
		     successful_paper_trades = p.successful_paper_trades + inc.paper,
		     paper_unlocked = p.paper_unlocked OR p.successful_simulation_trades + inc.sim >= $2,
		     live_unlocked = p.live_unlocked OR (
		         (p.paper_unlocked OR p.successful_simulation_trades + inc.sim >= $2)
		         AND p.successful_paper_trades + inc.paper >= $3),
		     updated_at = now()
		 FROM inc
		 WHERE p.id = 1
		 RETURNING p.successful_simulation_trades, p.successful_paper_trades, p.paper_unlocked, p.live_unlocked, p.updated_at`,
		mode, paperThreshold, liveThreshold,
	), &p)
	if err != nil {
		return nil, fmt.Errorf("increment progression %s: %w", mode, wrapNoRows(err))
	}
	return &p, nil
}

// ResetProgression zeroes the counters and clears both unlocks. It is an
// administrative operation and is not reachable from the HTTP surface.
func (s *ProgressionService) ResetProgression(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`UPDATE progression_state SET successful_simulation_trades = 0, successful_paper_trades = 0,
		        paper_unlocked = false, live_unlocked = false, updated_at = now()
		 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("reset progression: %w", err)
	}
	return nil
}
