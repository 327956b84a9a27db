package backtest

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"quiver/internal/analytics"
	"quiver/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "backtest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun() Run {
	cfg := RunConfig{
		Symbol:    "BTCUSDT",
		Timeframe: "1d",
		StartTS:   1000,
		EndTS:     9000,
		Strategy:  strategy.DefaultParams(strategy.KindMACrossover),
		Exec:      ExecConfig{InitialCapital: 100000, CommissionRate: 0.0005, PositionFraction: 0.95},
		Analytics: analytics.Config{RiskFreeRate: 0.065, TradingDays: 252},
	}
	run := newRun(cfg)
	return run
}

func TestResultStoreLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := sampleRun()

	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, strategy.KindMACrossover, got.Strategy)
	assert.Equal(t, run.Config.Exec, got.Config.Exec)

	require.NoError(t, store.UpdateStatus(ctx, run.ID, RunStatusRunning, ""))
	got, err = store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)

	run.Metrics = analytics.Metrics{TotalReturn: 21.374, ProfitFactor: analytics.ProfitFactor(math.Inf(1))}
	run.FinalValue = 121374
	result := Result{
		FinalValue: 121374,
		Trades: []Trade{
			{EntryTS: 1000, ExitTS: 5000, EntryPrice: 100, ExitPrice: 120, Size: 950, Commission: 104.5, PnL: 18895.5},
			{EntryTS: 6000, ExitTS: 9000, EntryPrice: 118, ExitPrice: 121, Size: 900, Commission: 107.55, PnL: 2592.45, Forced: true},
		},
		Equity: []EquityPoint{{TS: 1000, Value: 100000}, {TS: 9000, Value: 121374}},
	}
	require.NoError(t, store.Complete(ctx, run, result))

	got, err = store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 121374.0, got.FinalValue)
	assert.Equal(t, 2, got.Trades)
	assert.InDelta(t, 21.374, got.Metrics.TotalReturn, 1e-9)
	// +Inf 哨兵经过 JSON 落库后原样回来。
	assert.True(t, got.Metrics.ProfitFactor.IsInf())

	trades, err := store.ListTrades(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, result.Trades[0], trades[0])
	assert.True(t, trades[1].Forced)

	equity, err := store.GetEquity(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Equity, equity)
}

func TestResultStoreListRunsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleRun()
	first.CreatedAt = time.Now().Add(-time.Hour)
	first.UpdatedAt = first.CreatedAt
	require.NoError(t, store.CreateRun(ctx, first))

	second := sampleRun()
	require.NoError(t, store.CreateRun(ctx, second))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestResultStoreNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = store.UpdateStatus(ctx, "missing", RunStatusRunning, "")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.GetEquity(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
