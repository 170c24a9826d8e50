package model

import "time"

// HealthSample is an immutable probe reading. Rows are append-only; the
// latest row per host IP carries the current failure streak.
type HealthSample struct {
	ID                  int64     `json:"id" db:"id"`
	HostIP              string    `json:"host_ip" db:"host_ip"`
	Provider            string    `json:"provider" db:"provider"`
	RecordedAt          time.Time `json:"recorded_at" db:"recorded_at"`
	IsHealthy           bool      `json:"is_healthy" db:"is_healthy"`
	LatencyMS           int       `json:"latency_ms" db:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures" db:"consecutive_failures"`
}

// Metrics is the canonical reading normalized from a host /health payload.
type Metrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	NetInMbps     float64 `json:"net_in_mbps"`
	NetOutMbps    float64 `json:"net_out_mbps"`
	Version       string  `json:"version,omitempty"`
}

// MetricsSnapshot is the latest normalized metrics per provider.
type MetricsSnapshot struct {
	Provider   string    `json:"provider" db:"provider"`
	HostIP     string    `json:"host_ip" db:"host_ip"`
	LatencyMS  int       `json:"latency_ms" db:"latency_ms"`
	Metrics    Metrics   `json:"metrics"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// ProbeResult is one reachability and metrics read against a host.
type ProbeResult struct {
	IP           string   `json:"ip"`
	Reachable    bool     `json:"reachable"`
	LatencyMS    int      `json:"latency_ms"`
	TimedOut     bool     `json:"timed_out,omitempty"`
	Metrics      *Metrics `json:"metrics,omitempty"`
	SignalExists *bool    `json:"signal_exists,omitempty"`
	// SignalEndpointValid is false when /signal-check answered with a shape
	// that lacks signalExists.
	SignalEndpointValid bool   `json:"signal_endpoint_valid"`
	Error               string `json:"error,omitempty"`
}
