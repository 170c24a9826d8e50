package model

import "time"

// ProgressionState gates advancement from simulation to paper to live.
// LiveUnlocked implies PaperUnlocked and both flags only ever turn on.
type ProgressionState struct {
	SuccessfulSimulationTrades int       `json:"successful_simulation_trades" db:"successful_simulation_trades"`
	SuccessfulPaperTrades      int       `json:"successful_paper_trades" db:"successful_paper_trades"`
	PaperUnlocked              bool      `json:"paper_unlocked" db:"paper_unlocked"`
	LiveUnlocked               bool      `json:"live_unlocked" db:"live_unlocked"`
	UpdatedAt                  time.Time `json:"updated_at" db:"updated_at"`
}

// Trading modes.
const (
	ModeSimulation = "simulation"
	ModePaper      = "paper"
	ModeLive       = "live"
)
