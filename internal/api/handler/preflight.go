package handler

import (
	"context"
	"net/http"

	"github.com/edvin/botplane/internal/preflight"
)

type PreflightRunner interface {
	Run(ctx context.Context) (*preflight.Report, error)
}

type Preflight struct {
	checker PreflightRunner
}

func NewPreflight(checker PreflightRunner) *Preflight {
	return &Preflight{checker: checker}
}

type preflightResponse struct {
	Success bool `json:"success"`
	*preflight.Report
}

// Run serves POST /trade-preflight. A denial is a 200 with success false
// and the reasons in the report.
func (h *Preflight) Run(w http.ResponseWriter, r *http.Request) {
	rep, err := h.checker.Run(r.Context())
	if err != nil {
		writeFailure(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeResult(w, r, preflightResponse{Success: rep.OK, Report: rep})
}
