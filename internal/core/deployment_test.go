package core

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
)

var startFrom = []string{model.BotStopped, model.BotError, model.BotUnknown}

func TestDeploymentService_BeginTransition_Wins(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"),
		[]any{"dep-1", model.BotStarting, startFrom, TransitionTimeout.Seconds()}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	status, won, err := svc.BeginTransition(ctx, "dep-1", model.BotStarting, startFrom)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, model.BotStarting, status)
	db.AssertExpectations(t)
}

func TestDeploymentService_BeginTransition_LosesToRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"dep-1"}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = model.BotRunning
			return nil
		}})

	status, won, err := svc.BeginTransition(ctx, "dep-1", model.BotStarting, startFrom)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, model.BotRunning, status)
}

func TestDeploymentService_BeginTransition_Missing(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"nope"}).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, _, err := svc.BeginTransition(ctx, "nope", model.BotStopping, []string{model.BotRunning})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeploymentService_CompleteTransition(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"dep-1", model.BotStarting, model.BotRunning}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = 1
			return nil
		}})

	won, err := svc.CompleteTransition(ctx, "dep-1", model.BotStarting, model.BotRunning)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestDeploymentService_CompleteTransition_ClaimLost(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"dep-1", model.BotStarting, model.BotRunning}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = 0
			return nil
		}})

	won, err := svc.CompleteTransition(ctx, "dep-1", model.BotStarting, model.BotRunning)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestDeploymentService_ClearBotError(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"10.0.0.1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	cleared, err := svc.ClearBotError(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestDeploymentService_PromotePrimary_Commits(t *testing.T) {
	db := &mockDB{}
	tx := &mockTx{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any(nil)).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any{"dep-2"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any{"10.0.0.2"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	tx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	tx.On("Commit", ctx).Return(nil)
	tx.On("Rollback", ctx).Return(pgx.ErrTxClosed).Maybe()

	err := svc.PromotePrimary(ctx, "dep-2", "10.0.0.2", &model.TimelineEvent{
		EventType: model.EventMigration, Subtype: "promoted", Title: "Primary moved",
	})
	require.NoError(t, err)
	tx.AssertCalled(t, "Commit", ctx)
}

func TestDeploymentService_PromotePrimary_RollsBackOnMissingTarget(t *testing.T) {
	db := &mockDB{}
	tx := &mockTx{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any(nil)).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any{"ghost"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	tx.On("Rollback", ctx).Return(nil)

	err := svc.PromotePrimary(ctx, "ghost", "10.0.0.2", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	tx.AssertNotCalled(t, "Commit", ctx)
	tx.AssertCalled(t, "Rollback", ctx)
}

func TestDeploymentService_CreateDeployment_UniqueViolation(t *testing.T) {
	db := &mockDB{}
	svc := NewDeploymentService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "deployments_single_primary"})

	err := svc.CreateDeployment(ctx, &model.Deployment{ID: "d", HostID: "h", IsPrimary: true})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, errors.Is(err, ErrNotFound))
}
