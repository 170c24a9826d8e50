package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/botplane/internal/model"
)

type CloudConfigService struct {
	db DB
}

func NewCloudConfigService(db DB) *CloudConfigService {
	return &CloudConfigService{db: db}
}

func (s *CloudConfigService) GetCloudConfig(ctx context.Context) (*model.CloudConfig, error) {
	var c model.CloudConfig
	err := s.db.QueryRow(ctx,
		`SELECT provider, region, outbound_ip, migration_in_progress, updated_at FROM cloud_config WHERE id = 1`,
	).Scan(&c.Provider, &c.Region, &c.OutboundIP, &c.MigrationInProgress, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get cloud config: %w", wrapNoRows(err))
	}
	return &c, nil
}

// SetActiveHost records the provider, region and IP the exchanges should expect.
func (s *CloudConfigService) SetActiveHost(ctx context.Context, provider, region, ip string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE cloud_config SET provider = $1, region = $2, outbound_ip = $3, updated_at = now() WHERE id = 1`,
		provider, region, ip,
	)
	if err != nil {
		return fmt.Errorf("set active host: %w", err)
	}
	return nil
}

// AcquireMigrationLock flips migration_in_progress on. It reports false when
// another migration already holds it.
func (s *CloudConfigService) AcquireMigrationLock(ctx context.Context) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE cloud_config SET migration_in_progress = true, updated_at = now()
		 WHERE id = 1 AND NOT migration_in_progress`)
	if err != nil {
		return false, fmt.Errorf("acquire migration lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CloudConfigService) ReleaseMigrationLock(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`UPDATE cloud_config SET migration_in_progress = false, updated_at = now() WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("release migration lock: %w", err)
	}
	return nil
}

// GetCloudCredential returns the stored credential for a cloud provider.
func (s *CloudConfigService) GetCloudCredential(ctx context.Context, provider string) (*model.CloudCredential, error) {
	var (
		c     model.CloudCredential
		extra []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT provider, api_token, extra, updated_at FROM cloud_credentials WHERE provider = $1`, provider,
	).Scan(&c.Provider, &c.APIToken, &extra, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get %s credential: %w", provider, wrapNoRows(err))
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &c.Extra); err != nil {
			return nil, fmt.Errorf("decode %s credential extras: %w", provider, err)
		}
	}
	return &c, nil
}

func (s *CloudConfigService) UpsertCloudCredential(ctx context.Context, c *model.CloudCredential) error {
	extra, err := json.Marshal(c.Extra)
	if err != nil {
		return fmt.Errorf("encode %s credential extras: %w", c.Provider, err)
	}
	if c.Extra == nil {
		extra = []byte("{}")
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO cloud_credentials (provider, api_token, extra, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (provider) DO UPDATE SET api_token = EXCLUDED.api_token, extra = EXCLUDED.extra, updated_at = now()`,
		c.Provider, c.APIToken, extra,
	)
	if err != nil {
		return fmt.Errorf("upsert %s credential: %w", c.Provider, err)
	}
	return nil
}
