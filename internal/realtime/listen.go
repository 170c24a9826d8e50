package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Listen holds one pooled connection on LISTEN Channel and publishes every
// notification to the hub. It reconnects after errors until ctx ends.
func (h *Hub) Listen(ctx context.Context, pool *pgxpool.Pool) error {
	backoff := time.Second
	for {
		err := h.listenOnce(ctx, pool)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change listener stopped")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (h *Hub) listenOnce(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	h.logger.Info().Str("channel", Channel).Msg("listening for changes")
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if _, err := ParseChange(n.Payload); err != nil {
			h.logger.Warn().Err(err).Str("payload", n.Payload).Msg("malformed change payload")
			continue
		}
		h.Publish([]byte(n.Payload))
	}
}
