package progression

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/storetest"
)

func win(mode string) Trade { return Trade{Mode: mode, PnL: decimal.RequireFromString("1.25")} }

func TestRecord_Unlocks(t *testing.T) {
	store := storetest.New()
	svc := New(store, zerolog.Nop())
	ctx := context.Background()

	// Paper trades before the paper unlock still count but cannot unlock live.
	for i := 0; i < LiveThreshold; i++ {
		st, err := svc.Record(ctx, win(model.ModePaper))
		require.NoError(t, err)
		assert.False(t, st.LiveUnlocked)
	}

	var st *model.ProgressionState
	var err error
	for i := 0; i < PaperThreshold; i++ {
		st, err = svc.Record(ctx, win(model.ModeSimulation))
		require.NoError(t, err)
		if i < PaperThreshold-1 {
			assert.False(t, st.PaperUnlocked)
		}
	}
	assert.True(t, st.PaperUnlocked)
	assert.False(t, st.LiveUnlocked)

	st, err = svc.Record(ctx, win(model.ModePaper))
	require.NoError(t, err)
	assert.True(t, st.LiveUnlocked)

	var subtypes []string
	for _, ev := range store.Events {
		subtypes = append(subtypes, ev.Subtype)
	}
	assert.Equal(t, []string{"paper_unlocked", "live_unlocked"}, subtypes)
}

func TestRecord_IgnoresLossesAndLive(t *testing.T) {
	store := storetest.New()
	svc := New(store, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Record(ctx, Trade{Mode: model.ModeSimulation, PnL: decimal.Zero})
	require.NoError(t, err)
	_, err = svc.Record(ctx, Trade{Mode: model.ModeSimulation, PnL: decimal.NewFromInt(-3)})
	require.NoError(t, err)
	st, err := svc.Record(ctx, win(model.ModeLive))
	require.NoError(t, err)

	assert.Zero(t, st.SuccessfulSimulationTrades)
	assert.Zero(t, st.SuccessfulPaperTrades)
}

func TestRecord_FlagsAreMonotone(t *testing.T) {
	store := storetest.New()
	store.Progression = model.ProgressionState{SuccessfulSimulationTrades: 3, PaperUnlocked: true}
	svc := New(store, zerolog.Nop())

	st, err := svc.Record(context.Background(), win(model.ModeSimulation))
	require.NoError(t, err)
	assert.True(t, st.PaperUnlocked, "a count below threshold never relocks")
}

func TestReset(t *testing.T) {
	store := storetest.New()
	store.Progression = model.ProgressionState{SuccessfulSimulationTrades: 30, PaperUnlocked: true, LiveUnlocked: true}
	svc := New(store, zerolog.Nop())

	require.NoError(t, svc.Reset(context.Background()))
	st, err := svc.State(context.Background())
	require.NoError(t, err)
	assert.False(t, st.PaperUnlocked)
	assert.False(t, st.LiveUnlocked)
	assert.Zero(t, st.SuccessfulSimulationTrades)
}
