package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/platform"
)

type TimelineService struct {
	db DB
}

func NewTimelineService(db DB) *TimelineService {
	return &TimelineService{db: db}
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTimelineEvent(ctx context.Context, db execer, ev *model.TimelineEvent) error {
	if ev.ID == "" {
		ev.ID = platform.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	var metadata any
	if len(ev.Metadata) > 0 {
		metadata = string(ev.Metadata)
	}
	_, err := db.Exec(ctx,
		`INSERT INTO timeline_events (id, provider, event_type, event_subtype, title, description, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		ev.ID, ev.Provider, ev.EventType, ev.Subtype, ev.Title, ev.Description, metadata, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record timeline event %s/%s: %w", ev.EventType, ev.Subtype, err)
	}
	return nil
}

// RecordEvent appends an audit event.
func (s *TimelineService) RecordEvent(ctx context.Context, ev *model.TimelineEvent) error {
	return insertTimelineEvent(ctx, s.db, ev)
}

func (s *TimelineService) ListEvents(ctx context.Context, limit int) ([]model.TimelineEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, provider, event_type, event_subtype, title, description, metadata, created_at
		 FROM timeline_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var out []model.TimelineEvent
	for rows.Next() {
		var ev model.TimelineEvent
		var metadata []byte
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.EventType, &ev.Subtype, &ev.Title, &ev.Description, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Metadata = metadata
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return out, nil
}
