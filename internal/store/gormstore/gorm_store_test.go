package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/engine"
	"tide/internal/event"
	"tide/internal/portfolio"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(runID string) *engine.Result {
	return &engine.Result{
		RunID:     runID,
		Name:      "smoke",
		Mode:      "backtest",
		Symbols:   []string{"SH510300"},
		StartDate: "2019-04-01",
		EndDate:   "2019-04-03",
		Summary: portfolio.Summary{
			TotalReturnPct: 2.5,
			SharpeRatio:    1.1,
			MaxDrawdown:    0.05,
			EquityCurve: []portfolio.EquityPoint{
				{Date: "2019-04-01", Total: 1000, Curve: 1.0},
				{Date: "2019-04-02", Total: 1025, Return: 0.025, Curve: 1.025},
			},
		},
		Counters:   engine.Counters{Markets: 3, Signals: 1, Orders: 1, Fills: 1},
		FinishedAt: time.Now(),
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleResult("run-1")))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "smoke", got.Name)
	assert.Equal(t, []string{"SH510300"}, got.Symbols)
	assert.Equal(t, 2.5, got.Summary.TotalReturnPct)
	assert.Equal(t, 1, got.Counters.Fills)
	require.Len(t, got.Summary.EquityCurve, 2)
	assert.Equal(t, 1.025, got.Summary.EquityCurve[1].Curve)

	// run_id 唯一，档案不可变
	assert.Error(t, s.SaveRun(ctx, sampleResult("run-1")))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleResult("run-a")))
	require.NoError(t, s.SaveRun(ctx, sampleResult("run-b")))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
}

func TestSnapshotRoundTripThroughStore(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	l := portfolio.NewLedger(portfolio.Config{
		Symbols: []string{"SH510300"}, StartDate: "2019-04-01", InitialCapital: 1000,
	})
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM"))

	require.NoError(t, s.SaveSnapshot(ctx, "run-1", "2019-04-01", l.Snapshot()))

	recs, err := s.ListSnapshots(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	restored, err := portfolio.Restore(recs[0].Snapshot)
	require.NoError(t, err)
	assert.Equal(t, 200, restored.Position("SH510300"))
	assert.True(t, l.Cash().Equal(restored.Cash()))
}

func TestFillRoundTripThroughStore(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFill(ctx, "run-1",
		event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM")))
	require.NoError(t, s.SaveFill(ctx, "run-1",
		event.NewFill("SH510300", "2019-04-03", 200, event.DirectionSell, 4.05, 2.6, "SIM")))

	fills, err := s.ListFills(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "BUY", fills[0].Direction)
	assert.Equal(t, 200, fills[0].Quantity)
	assert.Equal(t, 3.90, fills[0].FillCost)
	assert.Equal(t, "2019-04-03", fills[1].Date)

	// 非 fill 事件直接拒绝
	assert.Error(t, s.SaveFill(ctx, "run-1", event.NewMarket("SH510300", "2019-04-01", "")))
}

func TestAsyncPersisterFlush(t *testing.T) {
	s := newTestGormStore(t)
	p := NewAsyncPersister(s)

	l := portfolio.NewLedger(portfolio.Config{
		Symbols: []string{"SH510300"}, StartDate: "2019-04-01", InitialCapital: 1000,
	})
	p.SaveSnapshot("run-1", "2019-04-01", l.Snapshot())
	p.SaveSnapshot("run-1", "2019-04-02", l.Snapshot())
	p.SaveFill("run-1", event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM"))
	require.NoError(t, p.Flush())

	recs, err := s.ListSnapshots(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	fills, err := s.ListFills(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}
