package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/progression"
)

type ProgressionService interface {
	State(ctx context.Context) (*model.ProgressionState, error)
	Record(ctx context.Context, t progression.Trade) (*model.ProgressionState, error)
}

type Progression struct {
	svc ProgressionService
}

func NewProgression(svc ProgressionService) *Progression {
	return &Progression{svc: svc}
}

type progressionResponse struct {
	Success bool `json:"success"`
	*model.ProgressionState
}

func (h *Progression) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, progressionResponse{Success: true, ProgressionState: st})
}

// RecordTrade serves POST /progression/trades.
func (h *Progression) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req request.RecordTrade
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Record(r.Context(), progression.Trade{Mode: req.Mode, PnL: decimal.NewFromFloat(req.PnL)})
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, progressionResponse{Success: true, ProgressionState: st})
}
