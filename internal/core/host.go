package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/botplane/internal/model"
)

type HostService struct {
	db DB
}

func NewHostService(db DB) *HostService {
	return &HostService{db: db}
}

const hostColumns = `id, provider, region, instance_type, instance_id, ip_address, status, bot_status, label, ssh_key_id, error, created_at, updated_at`

func scanHost(row interface{ Scan(...any) error }, h *model.Host) error {
	return row.Scan(&h.ID, &h.Provider, &h.Region, &h.InstanceType, &h.InstanceID, &h.IPAddress,
		&h.Status, &h.BotStatus, &h.Label, &h.SSHKeyID, &h.Error, &h.CreatedAt, &h.UpdatedAt)
}

// CreateHost inserts a host. A second live host with the same provider and IP
// is rejected with ErrConflict.
func (s *HostService) CreateHost(ctx context.Context, h *model.Host) error {
	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO hosts (id, provider, region, instance_type, instance_id, ip_address, status, bot_status, label, ssh_key_id, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		h.ID, h.Provider, h.Region, h.InstanceType, h.InstanceID, h.IPAddress, h.Status, h.BotStatus,
		h.Label, h.SSHKeyID, h.Error, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create host: %w", wrapUnique(err))
	}
	return nil
}

func (s *HostService) GetHost(ctx context.Context, id string) (*model.Host, error) {
	var h model.Host
	err := scanHost(s.db.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = $1`, id), &h)
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", id, wrapNoRows(err))
	}
	return &h, nil
}

// FindLiveHostByIP returns the non-failed host with the given provider and IP,
// or nil when there is none.
func (s *HostService) FindLiveHostByIP(ctx context.Context, provider, ip string) (*model.Host, error) {
	var h model.Host
	err := scanHost(s.db.QueryRow(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE provider = $1 AND ip_address = $2 AND status <> 'failed'`,
		provider, ip), &h)
	if err != nil {
		if wrapNoRows(err) == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find host %s/%s: %w", provider, ip, err)
	}
	return &h, nil
}

// ListProbeTargets returns every non-terminal host with an assigned IP.
func (s *HostService) ListProbeTargets(ctx context.Context) ([]model.Host, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE status <> 'failed' AND ip_address IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list probe targets: %w", err)
	}
	defer rows.Close()

	var hosts []model.Host
	for rows.Next() {
		var h model.Host
		if err := scanHost(rows, &h); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosts: %w", err)
	}
	return hosts, nil
}

// SetHostStatus updates the lifecycle status of the live host at ip. A
// transition to running also clears the recorded error.
func (s *HostService) SetHostStatus(ctx context.Context, ip, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE hosts SET status = $1,
		        error = CASE WHEN $1 = 'running' THEN NULL ELSE error END,
		        updated_at = now()
		 WHERE ip_address = $2 AND status <> 'failed'`,
		status, ip,
	)
	if err != nil {
		return fmt.Errorf("set host %s status %s: %w", ip, status, err)
	}
	return nil
}

// SetHostAddress records the IP and status reported by the provider after creation.
func (s *HostService) SetHostAddress(ctx context.Context, id, ip, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE hosts SET ip_address = $1, status = $2, updated_at = now() WHERE id = $3`,
		ip, status, id,
	)
	if err != nil {
		return fmt.Errorf("set host %s address: %w", id, wrapUnique(err))
	}
	return nil
}

func (s *HostService) MarkHostFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE hosts SET status = 'failed', error = $1, updated_at = now() WHERE id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark host %s failed: %w", id, err)
	}
	return nil
}

// DeleteHost removes a host and, by cascade, its deployments.
func (s *HostService) DeleteHost(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM hosts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete host %s: %w", id, err)
	}
	return nil
}
