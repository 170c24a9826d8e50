package hostagent

// Control actions accepted by the agent's /control endpoint.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// SignalCheck is the /signal-check response.
type SignalCheck struct {
	SignalExists  bool  `json:"signalExists"`
	DockerRunning *bool `json:"dockerRunning,omitempty"`
}

// StatusResponse is the /status response.
type StatusResponse struct {
	BotActive bool `json:"botActive"`
}

// ControlRequest is the body sent to /control.
type ControlRequest struct {
	Action       string            `json:"action"`
	CreateSignal bool              `json:"createSignal,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// ControlResponse is the /control response.
type ControlResponse struct {
	Success       bool   `json:"success"`
	SignalCreated bool   `json:"signalCreated,omitempty"`
	Action        string `json:"action,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Succeeded reports whether the agent accepted the action.
func (r *ControlResponse) Succeeded() bool {
	return r.Success || r.SignalCreated
}

// BalanceRequest asks the agent to query an exchange balance on our behalf,
// so the request originates from the host's whitelisted IP.
type BalanceRequest struct {
	Exchange   string `json:"exchange"`
	APIKey     string `json:"apiKey"`
	APISecret  string `json:"apiSecret"`
	Passphrase string `json:"passphrase,omitempty"`
}

type BalanceResponse struct {
	Success bool     `json:"success"`
	Balance *float64 `json:"balance,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type UpdateRequest struct {
	Code   string `json:"code"`
	Secret string `json:"secret"`
}

type UpdateResponse struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// ExchangePing is one entry of the /ping-exchanges response.
type ExchangePing struct {
	Exchange  string `json:"exchange"`
	LatencyMS int    `json:"latency_ms"`
	Status    string `json:"status"`
}

type PingResponse struct {
	Pings []ExchangePing `json:"pings"`
}
