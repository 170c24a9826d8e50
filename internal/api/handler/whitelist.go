package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/whitelist"
)

type WhitelistSyncer interface {
	Sync(ctx context.Context, ip string) (*whitelist.Result, error)
}

type Whitelist struct {
	syncer WhitelistSyncer
}

func NewWhitelist(syncer WhitelistSyncer) *Whitelist {
	return &Whitelist{syncer: syncer}
}

// Sync serves POST /sync-ip-whitelist. Without vps_ip the recorded
// outbound address is used.
func (h *Whitelist) Sync(w http.ResponseWriter, r *http.Request) {
	var req request.SyncWhitelist
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.syncer.Sync(r.Context(), req.VPSIP)
	if err != nil {
		if errors.Is(err, whitelist.ErrNoIP) {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeFailure(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeResult(w, r, res)
}
