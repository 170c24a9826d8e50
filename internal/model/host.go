package model

import "time"

// Host is a cloud VM that may run the bot.
type Host struct {
	ID           string    `json:"id" db:"id"`
	Provider     string    `json:"provider" db:"provider"`
	Region       string    `json:"region" db:"region"`
	InstanceType string    `json:"instance_type" db:"instance_type"`
	InstanceID   string    `json:"instance_id" db:"instance_id"`
	IPAddress    *string   `json:"ip_address,omitempty" db:"ip_address"`
	Status       string    `json:"status" db:"status"`
	BotStatus    string    `json:"bot_status" db:"bot_status"`
	Label        *string   `json:"label,omitempty" db:"label"`
	SSHKeyID     *string   `json:"ssh_key_id,omitempty" db:"ssh_key_id"`
	Error        *string   `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IP returns the host's outbound address or "" when none is assigned yet.
func (h *Host) IP() string {
	if h.IPAddress == nil {
		return ""
	}
	return *h.IPAddress
}
