package hostagent

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/edvin/botplane/internal/model"
)

// healthPayload captures every documented /health shape. Fields that vary in
// type are kept raw and resolved by Normalize.
type healthPayload struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	CPU           json.RawMessage `json:"cpu"`
	CPUPercent    *float64        `json:"cpu_percent"`
	Memory        json.RawMessage `json:"memory"`
	MemoryPercent *float64        `json:"memory_percent"`
	RAMPercent    *float64        `json:"ram_percent"`
	Disk          json.RawMessage `json:"disk"`
	DiskPercent   *float64        `json:"disk_percent"`
	Uptime        *float64        `json:"uptime"`
	UptimeSeconds *float64        `json:"uptime_seconds"`
	Network       *struct {
		InMbps  float64 `json:"in_mbps"`
		OutMbps float64 `json:"out_mbps"`
	} `json:"network"`
	NetInMbps  *float64 `json:"net_in_mbps"`
	NetOutMbps *float64 `json:"net_out_mbps"`
}

// Normalize converts a /health body into canonical metrics. CPU may be a
// percent, a single number or a 3-element load average (load[0]*100). Memory
// and disk may be a percent, a nested {percent} object or a bare number.
// Missing fields are 0.
func Normalize(body []byte) (model.Metrics, error) {
	var p healthPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Metrics{}, fmt.Errorf("decode health payload: %w", err)
	}

	m := model.Metrics{Version: p.Version}

	switch {
	case p.CPUPercent != nil:
		m.CPUPercent = *p.CPUPercent
	default:
		m.CPUPercent = cpuValue(p.CPU)
	}

	switch {
	case p.MemoryPercent != nil:
		m.RAMPercent = *p.MemoryPercent
	case p.RAMPercent != nil:
		m.RAMPercent = *p.RAMPercent
	default:
		m.RAMPercent = percentValue(p.Memory)
	}

	if p.DiskPercent != nil {
		m.DiskPercent = *p.DiskPercent
	} else {
		m.DiskPercent = percentValue(p.Disk)
	}

	switch {
	case p.UptimeSeconds != nil:
		m.UptimeSeconds = int64(*p.UptimeSeconds)
	case p.Uptime != nil:
		m.UptimeSeconds = int64(*p.Uptime)
	}

	if p.Network != nil {
		m.NetInMbps, m.NetOutMbps = p.Network.InMbps, p.Network.OutMbps
	}
	if p.NetInMbps != nil {
		m.NetInMbps = *p.NetInMbps
	}
	if p.NetOutMbps != nil {
		m.NetOutMbps = *p.NetOutMbps
	}

	m.CPUPercent = clampPercent(m.CPUPercent)
	m.RAMPercent = clampPercent(m.RAMPercent)
	m.DiskPercent = clampPercent(m.DiskPercent)
	return m, nil
}

func cpuValue(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var load []float64
	if err := json.Unmarshal(raw, &load); err == nil {
		if len(load) == 0 {
			return 0
		}
		return load[0] * 100
	}
	return percentValue(raw)
}

func percentValue(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var nested struct {
		Percent     *float64 `json:"percent"`
		UsedPercent *float64 `json:"used_percent"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		switch {
		case nested.Percent != nil:
			return *nested.Percent
		case nested.UsedPercent != nil:
			return *nested.UsedPercent
		}
	}
	return 0
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 100)
}
