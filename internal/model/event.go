package model

import (
	"encoding/json"
	"time"
)

// TimelineEvent is an append-only audit record.
type TimelineEvent struct {
	ID          string          `json:"id" db:"id"`
	Provider    string          `json:"provider" db:"provider"`
	EventType   string          `json:"event_type" db:"event_type"`
	Subtype     string          `json:"event_subtype" db:"event_subtype"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Timeline event types.
const (
	EventHealth    = "health"
	EventLifecycle = "lifecycle"
	EventMigration = "migration"
	EventProvision = "provision"
	EventWhitelist = "whitelist"
)

// Alert is a record of a sent alert, used to enforce the cooldown.
type Alert struct {
	ID       string    `json:"id" db:"id"`
	Kind     string    `json:"alert_type" db:"alert_type"`
	Channel  string    `json:"channel" db:"channel"`
	Message  string    `json:"message" db:"message"`
	Severity string    `json:"severity" db:"severity"`
	SentAt   time.Time `json:"sent_at" db:"sent_at"`
}

// Notification is a system notification row shown to the operator.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Severity  string    `json:"severity" db:"severity"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)
