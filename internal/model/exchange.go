package model

import "time"

// ExchangeConnection is an operator-supplied credential set for one exchange.
type ExchangeConnection struct {
	ID               string     `json:"id" db:"id"`
	ExchangeName     string     `json:"exchange_name" db:"exchange_name"`
	IsConnected      bool       `json:"is_connected" db:"is_connected"`
	APIKey           string     `json:"-" db:"api_key"`
	APISecret        string     `json:"-" db:"api_secret"`
	Passphrase       *string    `json:"-" db:"passphrase"`
	LastPingMS       *int       `json:"last_ping_ms,omitempty" db:"last_ping_ms"`
	BalanceUSDT      *float64   `json:"balance_usdt,omitempty" db:"balance_usdt"`
	BalanceUpdatedAt *time.Time `json:"balance_updated_at,omitempty" db:"balance_updated_at"`
	LastError        *string    `json:"last_error,omitempty" db:"last_error"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// HasCredentials reports whether both key and secret look populated.
func (e *ExchangeConnection) HasCredentials() bool {
	return len(e.APIKey) > 10 && len(e.APISecret) > 10
}

// CredentialPermission is the whitelist view for one exchange credential.
type CredentialPermission struct {
	Provider         string    `json:"provider" db:"provider"`
	CredentialType   string    `json:"credential_type" db:"credential_type"`
	IPRestricted     bool      `json:"ip_restricted" db:"ip_restricted"`
	WhitelistedRange *string   `json:"whitelisted_range,omitempty" db:"whitelisted_range"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
