package core

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProgressionService_IncrementProgression(t *testing.T) {
	db := &mockDB{}
	svc := NewProgressionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"simulation", 20, 50}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = 20
			*(dest[1].(*int)) = 0
			*(dest[2].(*bool)) = true
			*(dest[3].(*bool)) = false
			return nil
		}})

	p, err := svc.IncrementProgression(ctx, "simulation", 20, 50)
	require.NoError(t, err)
	assert.Equal(t, 20, p.SuccessfulSimulationTrades)
	assert.True(t, p.PaperUnlocked)
	assert.False(t, p.LiveUnlocked)
}

func TestProgressionService_ResetProgression(t *testing.T) {
	db := &mockDB{}
	svc := NewProgressionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any(nil)).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, svc.ResetProgression(ctx))
	db.AssertExpectations(t)
}
