package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/botplane/internal/model"
)

type DeploymentService struct {
	db DB
}

func NewDeploymentService(db DB) *DeploymentService {
	return &DeploymentService{db: db}
}

const deploymentTargetQuery = `SELECT d.id, d.host_id, d.is_primary, d.status, d.bot_status, d.last_health_check, d.created_at, d.updated_at,
        h.provider, h.region, h.ip_address, h.status
 FROM deployments d JOIN hosts h ON h.id = d.host_id`

func scanDeploymentTarget(row interface{ Scan(...any) error }, t *model.DeploymentTarget) error {
	return row.Scan(&t.ID, &t.HostID, &t.IsPrimary, &t.Status, &t.BotStatus, &t.LastHealthCheck, &t.CreatedAt, &t.UpdatedAt,
		&t.Provider, &t.Region, &t.IPAddress, &t.HostState)
}

func (s *DeploymentService) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployments (id, host_id, is_primary, status, bot_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.HostID, d.IsPrimary, d.Status, d.BotStatus, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create deployment: %w", wrapUnique(err))
	}
	return nil
}

func (s *DeploymentService) GetDeployment(ctx context.Context, id string) (*model.DeploymentTarget, error) {
	var t model.DeploymentTarget
	if err := scanDeploymentTarget(s.db.QueryRow(ctx, deploymentTargetQuery+` WHERE d.id = $1`, id), &t); err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, wrapNoRows(err))
	}
	return &t, nil
}

// GetActiveDeployment returns the deployment the bot should be running on:
// the primary when one exists, otherwise the most recently updated active one.
func (s *DeploymentService) GetActiveDeployment(ctx context.Context) (*model.DeploymentTarget, error) {
	var t model.DeploymentTarget
	err := scanDeploymentTarget(s.db.QueryRow(ctx, deploymentTargetQuery+`
		 WHERE d.status = 'active' AND h.status <> 'failed'
		 ORDER BY d.is_primary DESC, d.updated_at DESC LIMIT 1`), &t)
	if err != nil {
		return nil, fmt.Errorf("get active deployment: %w", wrapNoRows(err))
	}
	return &t, nil
}

// GetDeploymentByIP returns the active deployment on the live host at ip.
func (s *DeploymentService) GetDeploymentByIP(ctx context.Context, ip string) (*model.DeploymentTarget, error) {
	var t model.DeploymentTarget
	err := scanDeploymentTarget(s.db.QueryRow(ctx, deploymentTargetQuery+`
		 WHERE h.ip_address = $1 AND h.status <> 'failed'
		 ORDER BY d.is_primary DESC, d.updated_at DESC LIMIT 1`, ip), &t)
	if err != nil {
		return nil, fmt.Errorf("get deployment for %s: %w", ip, wrapNoRows(err))
	}
	return &t, nil
}

func (s *DeploymentService) ListDeployments(ctx context.Context) ([]model.DeploymentTarget, error) {
	rows, err := s.db.Query(ctx, deploymentTargetQuery+` ORDER BY d.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []model.DeploymentTarget
	for rows.Next() {
		var t model.DeploymentTarget
		if err := scanDeploymentTarget(rows, &t); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return out, nil
}

// TransitionTimeout is how long a starting or stopping claim is honoured
// before another lifecycle action may take it over.
const TransitionTimeout = 2 * time.Minute

// BeginTransition moves a deployment into the transitional status to when
// its bot status is one of from, or when an earlier claim has gone stale.
// It returns the bot status observed after the attempt and whether this
// caller won the transition.
func (s *DeploymentService) BeginTransition(ctx context.Context, id, to string, from []string) (string, bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET bot_status = $2, updated_at = now()
		 WHERE id = $1
		   AND (bot_status = ANY($3)
		        OR (bot_status IN ('starting', 'stopping') AND updated_at < now() - make_interval(secs => $4)))`,
		id, to, from, TransitionTimeout.Seconds(),
	)
	if err != nil {
		return "", false, fmt.Errorf("begin %s %s: %w", to, id, err)
	}
	if tag.RowsAffected() == 1 {
		return to, true, nil
	}

	var current string
	if err := s.db.QueryRow(ctx, `SELECT bot_status FROM deployments WHERE id = $1`, id).Scan(&current); err != nil {
		return "", false, fmt.Errorf("read bot status %s: %w", id, wrapNoRows(err))
	}
	return current, false, nil
}

// CompleteTransition moves a deployment from the transitional status from
// to status and mirrors it onto its host. It reports false, writing
// nothing, when the deployment no longer holds from.
func (s *DeploymentService) CompleteTransition(ctx context.Context, id, from, status string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`WITH d AS (
		     UPDATE deployments SET bot_status = $3, updated_at = now()
		     WHERE id = $1 AND bot_status = $2
		     RETURNING host_id
		 ), h AS (
		     UPDATE hosts SET bot_status = $3, updated_at = now() WHERE id IN (SELECT host_id FROM d)
		 )
		 SELECT count(*) FROM d`,
		id, from, status,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("complete %s -> %s on %s: %w", from, status, id, err)
	}
	return n == 1, nil
}

// ClearBotError moves bot_status from error to stopped for the deployments
// and host at ip. Rows in any other bot status are left untouched.
func (s *DeploymentService) ClearBotError(ctx context.Context, ip string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`WITH h AS (
		     UPDATE hosts SET bot_status = 'stopped', updated_at = now()
		     WHERE ip_address = $1 AND status <> 'failed' AND bot_status = 'error'
		     RETURNING id
		 )
		 UPDATE deployments SET bot_status = 'stopped', updated_at = now()
		 WHERE bot_status = 'error'
		   AND host_id IN (SELECT id FROM hosts WHERE ip_address = $1 AND status <> 'failed')`,
		ip,
	)
	if err != nil {
		return false, fmt.Errorf("clear bot error on %s: %w", ip, err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchHealthCheck stamps last_health_check on the deployments at ip.
func (s *DeploymentService) TouchHealthCheck(ctx context.Context, ip string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE deployments SET last_health_check = $1
		 WHERE host_id IN (SELECT id FROM hosts WHERE ip_address = $2 AND status <> 'failed')`,
		at, ip,
	)
	if err != nil {
		return fmt.Errorf("touch health check %s: %w", ip, err)
	}
	return nil
}

// CountPrimaries returns the number of deployments flagged primary.
func (s *DeploymentService) CountPrimaries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM deployments WHERE is_primary`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count primaries: %w", err)
	}
	return n, nil
}

// PromotePrimary makes id the only primary deployment, records ip as the
// outbound address in cloud_config and appends ev, all in one transaction.
func (s *DeploymentService) PromotePrimary(ctx context.Context, id, ip string, ev *model.TimelineEvent) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE deployments SET is_primary = false, updated_at = now() WHERE is_primary`); err != nil {
			return fmt.Errorf("clear primary flags: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE deployments SET is_primary = true, status = 'active', updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("set primary %s: %w", id, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("set primary %s: %w", id, ErrNotFound)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE cloud_config SET outbound_ip = $1, updated_at = now() WHERE id = 1`, ip); err != nil {
			return fmt.Errorf("update outbound ip: %w", err)
		}
		if ev != nil {
			if err := insertTimelineEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DeploymentService) DeleteDeployment(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM deployments WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete deployment %s: %w", id, err)
	}
	return nil
}
