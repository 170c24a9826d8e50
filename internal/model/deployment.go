package model

import "time"

// Deployment binds a Host to the operator's bot. Exactly one deployment is
// primary outside of a migration.
type Deployment struct {
	ID              string     `json:"id" db:"id"`
	HostID          string     `json:"host_id" db:"host_id"`
	IsPrimary       bool       `json:"is_primary" db:"is_primary"`
	Status          string     `json:"status" db:"status"`
	BotStatus       string     `json:"bot_status" db:"bot_status"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty" db:"last_health_check"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// DeploymentTarget is a deployment joined with the host fields the control
// plane needs to reach it.
type DeploymentTarget struct {
	Deployment
	Provider  string  `json:"provider"`
	Region    string  `json:"region"`
	IPAddress *string `json:"ip_address,omitempty"`
	HostState string  `json:"host_status"`
}

// IP returns the target's host address or "".
func (t *DeploymentTarget) IP() string {
	if t.IPAddress == nil {
		return ""
	}
	return *t.IPAddress
}

// CloudConfig is the singleton row recording which IP the exchanges should
// expect and whether a migration currently holds the primary designation.
type CloudConfig struct {
	Provider            string    `json:"provider" db:"provider"`
	Region              string    `json:"region" db:"region"`
	OutboundIP          *string   `json:"outbound_ip,omitempty" db:"outbound_ip"`
	MigrationInProgress bool      `json:"migration_in_progress" db:"migration_in_progress"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// CloudCredential is the operator's API credential for one cloud provider.
// Values are opaque here; encryption at rest is handled outside the control plane.
type CloudCredential struct {
	Provider  string            `json:"provider" db:"provider"`
	APIToken  string            `json:"-" db:"api_token"`
	Extra     map[string]string `json:"-" db:"extra"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}
