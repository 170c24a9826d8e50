package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/core"
)

// storeStatus maps a store error to the HTTP status reported for it.
func storeStatus(err error) int {
	if errors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// overBudget reports whether the request deadline passed while the handler
// was working.
func overBudget(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// writeResult writes v as a 200. A result finished after the request
// deadline is partial and goes out with success false and timeout true.
func writeResult(w http.ResponseWriter, r *http.Request, v any) {
	if overBudget(r.Context()) {
		response.WriteJSON(w, http.StatusOK, partial(v))
		return
	}
	response.WriteJSON(w, http.StatusOK, v)
}

// writeFailure writes an error response, or a partial result when the
// failure came from running out of time.
func writeFailure(w http.ResponseWriter, r *http.Request, status int, message string) {
	if overBudget(r.Context()) {
		response.WriteJSON(w, http.StatusOK, partial(response.Failure{Error: message}))
		return
	}
	response.WriteError(w, status, message)
}

func partial(v any) map[string]any {
	out := map[string]any{}
	if raw, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["success"] = false
	out["timeout"] = true
	return out
}
