package core

import (
	"context"
	"fmt"

	"github.com/edvin/botplane/internal/model"
)

type ExchangeService struct {
	db DB
}

func NewExchangeService(db DB) *ExchangeService {
	return &ExchangeService{db: db}
}

const exchangeColumns = `id, exchange_name, is_connected, api_key, api_secret, passphrase, last_ping_ms, balance_usdt, balance_updated_at, last_error, last_error_at, updated_at`

func scanExchange(row interface{ Scan(...any) error }, e *model.ExchangeConnection) error {
	return row.Scan(&e.ID, &e.ExchangeName, &e.IsConnected, &e.APIKey, &e.APISecret, &e.Passphrase,
		&e.LastPingMS, &e.BalanceUSDT, &e.BalanceUpdatedAt, &e.LastError, &e.LastErrorAt, &e.UpdatedAt)
}

func (s *ExchangeService) listExchanges(ctx context.Context, where string) ([]model.ExchangeConnection, error) {
	rows, err := s.db.Query(ctx, `SELECT `+exchangeColumns+` FROM exchange_connections `+where+` ORDER BY exchange_name`)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var out []model.ExchangeConnection
	for rows.Next() {
		var e model.ExchangeConnection
		if err := scanExchange(rows, &e); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return out, nil
}

// ListExchanges returns every exchange connection ordered by name.
func (s *ExchangeService) ListExchanges(ctx context.Context) ([]model.ExchangeConnection, error) {
	return s.listExchanges(ctx, "")
}

// ListConnectedExchanges returns the exchanges flagged is_connected, ordered by name.
func (s *ExchangeService) ListConnectedExchanges(ctx context.Context) ([]model.ExchangeConnection, error) {
	return s.listExchanges(ctx, "WHERE is_connected")
}

// RecordExchangeBalance stores a fresh balance reading and clears last_error.
func (s *ExchangeService) RecordExchangeBalance(ctx context.Context, name string, balance float64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE exchange_connections
		 SET balance_usdt = $1, balance_updated_at = now(), last_error = NULL, last_error_at = NULL, updated_at = now()
		 WHERE exchange_name = $2`,
		balance, name,
	)
	if err != nil {
		return fmt.Errorf("record %s balance: %w", name, err)
	}
	return nil
}

func (s *ExchangeService) RecordExchangeError(ctx context.Context, name, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE exchange_connections SET last_error = $1, last_error_at = now(), updated_at = now() WHERE exchange_name = $2`,
		message, name,
	)
	if err != nil {
		return fmt.Errorf("record %s error: %w", name, err)
	}
	return nil
}

func (s *ExchangeService) RecordExchangePing(ctx context.Context, name string, latencyMS int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE exchange_connections SET last_ping_ms = $1, updated_at = now() WHERE exchange_name = $2`,
		latencyMS, name,
	)
	if err != nil {
		return fmt.Errorf("record %s ping: %w", name, err)
	}
	return nil
}

// UpsertWhitelist records ip as the whitelisted range for an exchange's API key.
func (s *ExchangeService) UpsertWhitelist(ctx context.Context, exchange, ip string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credential_permissions (provider, credential_type, ip_restricted, whitelisted_range, updated_at)
		 VALUES ($1, 'api_key', true, $2, now())
		 ON CONFLICT (provider, credential_type) DO UPDATE
		 SET ip_restricted = true, whitelisted_range = EXCLUDED.whitelisted_range, updated_at = now()`,
		exchange, ip,
	)
	if err != nil {
		return fmt.Errorf("upsert whitelist %s: %w", exchange, err)
	}
	return nil
}

func (s *ExchangeService) ListPermissions(ctx context.Context) ([]model.CredentialPermission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT provider, credential_type, ip_restricted, whitelisted_range, updated_at
		 FROM credential_permissions ORDER BY provider, credential_type`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []model.CredentialPermission
	for rows.Next() {
		var p model.CredentialPermission
		if err := rows.Scan(&p.Provider, &p.CredentialType, &p.IPRestricted, &p.WhitelistedRange, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}
