package core

import (
	"context"
	"fmt"

	"github.com/edvin/botplane/internal/model"
)

type HealthService struct {
	db DB
}

func NewHealthService(db DB) *HealthService {
	return &HealthService{db: db}
}

// RecordHealthSample appends a sample for ip and returns its
// consecutive_failures value. A healthy sample resets the streak to 0; a
// failed one extends the streak carried by the latest sample for ip.
func (s *HealthService) RecordHealthSample(ctx context.Context, ip, provider string, healthy bool, latencyMS int) (int, error) {
	var failures int
	err := s.db.QueryRow(ctx,
		`INSERT INTO health_samples (host_ip, provider, is_healthy, latency_ms, consecutive_failures)
		 SELECT $1, $2, $3, $4,
		        CASE WHEN $3 THEN 0
		             ELSE COALESCE((SELECT consecutive_failures FROM health_samples
		                            WHERE host_ip = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1), 0) + 1
		        END
		 RETURNING consecutive_failures`,
		ip, provider, healthy, latencyMS,
	).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("record health sample %s: %w", ip, err)
	}
	return failures, nil
}

// LatestHealthSample returns the most recent sample for ip.
func (s *HealthService) LatestHealthSample(ctx context.Context, ip string) (*model.HealthSample, error) {
	var h model.HealthSample
	err := s.db.QueryRow(ctx,
		`SELECT id, host_ip, provider, recorded_at, is_healthy, latency_ms, consecutive_failures
		 FROM health_samples WHERE host_ip = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, ip,
	).Scan(&h.ID, &h.HostIP, &h.Provider, &h.RecordedAt, &h.IsHealthy, &h.LatencyMS, &h.ConsecutiveFailures)
	if err != nil {
		return nil, fmt.Errorf("latest health sample %s: %w", ip, wrapNoRows(err))
	}
	return &h, nil
}

func (s *HealthService) ListHealthSamples(ctx context.Context, ip string, limit int) ([]model.HealthSample, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, host_ip, provider, recorded_at, is_healthy, latency_ms, consecutive_failures
		 FROM health_samples WHERE host_ip = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`, ip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list health samples %s: %w", ip, err)
	}
	defer rows.Close()

	var out []model.HealthSample
	for rows.Next() {
		var h model.HealthSample
		if err := rows.Scan(&h.ID, &h.HostIP, &h.Provider, &h.RecordedAt, &h.IsHealthy, &h.LatencyMS, &h.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scan health sample: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health samples: %w", err)
	}
	return out, nil
}

// UpsertMetricsSnapshot replaces the latest normalized metrics for a provider.
func (s *HealthService) UpsertMetricsSnapshot(ctx context.Context, snap *model.MetricsSnapshot) error {
	m := snap.Metrics
	_, err := s.db.Exec(ctx,
		`INSERT INTO metrics_snapshots (provider, host_ip, cpu_percent, ram_percent, disk_percent, latency_ms, uptime_seconds, net_in_mbps, net_out_mbps, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (provider) DO UPDATE SET
		     host_ip = EXCLUDED.host_ip, cpu_percent = EXCLUDED.cpu_percent, ram_percent = EXCLUDED.ram_percent,
		     disk_percent = EXCLUDED.disk_percent, latency_ms = EXCLUDED.latency_ms,
		     uptime_seconds = EXCLUDED.uptime_seconds, net_in_mbps = EXCLUDED.net_in_mbps,
		     net_out_mbps = EXCLUDED.net_out_mbps, recorded_at = EXCLUDED.recorded_at`,
		snap.Provider, snap.HostIP, m.CPUPercent, m.RAMPercent, m.DiskPercent, snap.LatencyMS,
		m.UptimeSeconds, m.NetInMbps, m.NetOutMbps, snap.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics snapshot %s: %w", snap.Provider, err)
	}
	return nil
}

func (s *HealthService) GetMetricsSnapshot(ctx context.Context, provider string) (*model.MetricsSnapshot, error) {
	var snap model.MetricsSnapshot
	m := &snap.Metrics
	err := s.db.QueryRow(ctx,
		`SELECT provider, host_ip, cpu_percent, ram_percent, disk_percent, latency_ms, uptime_seconds, net_in_mbps, net_out_mbps, recorded_at
		 FROM metrics_snapshots WHERE provider = $1`, provider,
	).Scan(&snap.Provider, &snap.HostIP, &m.CPUPercent, &m.RAMPercent, &m.DiskPercent, &snap.LatencyMS,
		&m.UptimeSeconds, &m.NetInMbps, &m.NetOutMbps, &snap.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("get metrics snapshot %s: %w", provider, wrapNoRows(err))
	}
	return &snap, nil
}
