package handler

import (
	"context"
	"net/http"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/model"
)

type AgentStore interface {
	GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error)
	RecordExchangePing(ctx context.Context, name string, latencyMS int) error
}

type BotAgent interface {
	UpdateBot(ctx context.Context, ip string, req hostagent.UpdateRequest) (*hostagent.UpdateResponse, error)
	PingExchanges(ctx context.Context, ip string) (*hostagent.PingResponse, error)
}

// Agent proxies the host agent endpoints that act on the active host.
type Agent struct {
	store        AgentStore
	agent        BotAgent
	updateSecret string
}

func NewAgent(store AgentStore, agent BotAgent, updateSecret string) *Agent {
	return &Agent{store: store, agent: agent, updateSecret: updateSecret}
}

type updateResponse struct {
	Success bool   `json:"success"`
	IP      string `json:"ip"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

type pingResponse struct {
	Success bool                     `json:"success"`
	IP      string                   `json:"ip"`
	Pings   []hostagent.ExchangePing `json:"pings"`
	Error   string                   `json:"error,omitempty"`
}

// activeIP writes the error response itself and returns "" when there is
// no host to talk to.
func (h *Agent) activeIP(w http.ResponseWriter, r *http.Request) string {
	d, err := h.store.GetActiveDeployment(r.Context())
	if err != nil {
		writeFailure(w, r, storeStatus(err), "no active VPS deployment found")
		return ""
	}
	if d.IP() == "" {
		response.WriteError(w, http.StatusBadRequest, "deployment has no IP address")
		return ""
	}
	return d.IP()
}

// UpdateBot serves POST /update-bot.
func (h *Agent) UpdateBot(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateBot
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.updateSecret == "" {
		response.WriteError(w, http.StatusServiceUnavailable, "AGENT_UPDATE_SECRET is not configured")
		return
	}
	ip := h.activeIP(w, r)
	if ip == "" {
		return
	}

	out := updateResponse{IP: ip}
	res, err := h.agent.UpdateBot(r.Context(), ip, hostagent.UpdateRequest{Code: req.Code, Secret: h.updateSecret})
	switch {
	case err != nil:
		out.Error = err.Error()
	case !res.Success:
		out.Error = res.Error
	default:
		out.Success, out.Version = true, res.Version
	}

	writeResult(w, r, out)
}

// PingExchanges serves GET /ping-exchanges and records each answered
// latency against its exchange.
func (h *Agent) PingExchanges(w http.ResponseWriter, r *http.Request) {
	ip := h.activeIP(w, r)
	if ip == "" {
		return
	}

	ctx := r.Context()
	res, err := h.agent.PingExchanges(ctx, ip)
	if err != nil {
		writeResult(w, r, pingResponse{IP: ip, Pings: []hostagent.ExchangePing{}, Error: err.Error()})
		return
	}

	for _, p := range res.Pings {
		if p.Status != "ok" {
			continue
		}
		if err := h.store.RecordExchangePing(ctx, p.Exchange, p.LatencyMS); err != nil {
			writeFailure(w, r, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeResult(w, r, pingResponse{Success: true, IP: ip, Pings: res.Pings})
}
