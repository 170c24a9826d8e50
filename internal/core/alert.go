package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/platform"
)

type AlertService struct {
	db DB
}

func NewAlertService(db DB) *AlertService {
	return &AlertService{db: db}
}

// TryRecordAlert inserts a into alert_history unless any alert was sent within
// window. It reports whether the alert was recorded; callers deliver only
// alerts that were.
func (s *AlertService) TryRecordAlert(ctx context.Context, a *model.Alert, window time.Duration) (bool, error) {
	if a.ID == "" {
		a.ID = platform.NewID()
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now()
	}
	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO alert_history (id, alert_type, channel, message, severity, sent_at)
		 SELECT $1, $2, $3, $4, $5, $6
		 WHERE NOT EXISTS (SELECT 1 FROM alert_history WHERE sent_at > $6::timestamptz - $7::interval)
		 RETURNING id`,
		a.ID, a.Kind, a.Channel, a.Message, a.Severity, a.SentAt, window,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record alert %s: %w", a.Kind, err)
	}
	return true, nil
}

// CreateNotification inserts a system notification for the operator. A
// notification whose ID already exists is left untouched.
func (s *AlertService) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = platform.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (id, type, title, message, severity, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Type, n.Title, n.Message, n.Severity, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification %s: %w", n.Type, err)
	}
	return nil
}
