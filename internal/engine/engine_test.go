package engine

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/clock"
	"tide/internal/equeue"
	"tide/internal/event"
	"tide/internal/execution"
	"tide/internal/market"
	"tide/internal/portfolio"
	"tide/internal/strategy"
)

// fakeData 内存行情，按 symbol→date 存 K 线。
type fakeData struct {
	bars map[string]map[string]market.Bar
}

func newFakeData() *fakeData {
	return &fakeData{bars: make(map[string]map[string]market.Bar)}
}

func (f *fakeData) add(symbol, date string, close float64) {
	if f.bars[symbol] == nil {
		f.bars[symbol] = make(map[string]market.Bar)
	}
	f.bars[symbol][date] = market.Bar{Symbol: symbol, Date: date, Close: close, AdjClose: close}
}

func (f *fakeData) sortedDates(symbol string) []string {
	var dates []string
	for d := range f.bars[symbol] {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func (f *fakeData) PreviousTradingDate(_ context.Context, symbol, date string) (string, error) {
	prev := ""
	for _, d := range f.sortedDates(symbol) {
		if d >= date {
			break
		}
		prev = d
	}
	return prev, nil
}

func (f *fakeData) TradingDatesSince(_ context.Context, symbol, minDate string) ([]string, error) {
	var out []string
	for _, d := range f.sortedDates(symbol) {
		if d >= minDate {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeData) Bar(_ context.Context, symbol, date string) (market.Bar, error) {
	b, ok := f.bars[symbol][date]
	if !ok {
		return market.Bar{}, fmt.Errorf("%w: %s@%s", market.ErrNoData, symbol, date)
	}
	return b, nil
}

func (f *fakeData) Features(ctx context.Context, symbol, date string) (market.Features, error) {
	b, err := f.Bar(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return market.Features{"close": b.Close}, nil
}

func (f *fakeData) TailBars(_ context.Context, symbol, date string, n int) ([]market.Bar, error) {
	var out []market.Bar
	for _, d := range f.sortedDates(symbol) {
		if d > date {
			break
		}
		out = append(out, f.bars[symbol][d])
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeData) EnsureRange(context.Context, string, string, string) error { return nil }

// 场景：单 symbol 三个交易日，初始资金 1000，买入持有策略。
// 期望恰好一笔 ≤1000 的整手买单、一笔成交，此后仓位非零。
func TestBacktestSingleSymbolBuyAndHold(t *testing.T) {
	data := newFakeData()
	data.add("SH510300", "2019-03-29", 3.90)
	data.add("SH510300", "2019-04-01", 3.95)
	data.add("SH510300", "2019-04-02", 4.00)
	data.add("SH510300", "2019-04-03", 4.05)

	bt, err := NewBacktest(BacktestConfig{
		Name:           "bh-smoke",
		Symbols:        []string{"SH510300"},
		StartDate:      "2019-04-01",
		EndDate:        "2019-04-03",
		InitialCapital: 1000,
		LotSize:        100,
		Heartbeat:      time.Millisecond,
		Strategy:       strategy.Spec{ID: 1, Name: "buy_and_hold"},
	}, data, nil)
	require.NoError(t, err)

	res, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Counters.Markets)
	assert.Equal(t, 1, res.Counters.Signals)
	assert.Equal(t, 1, res.Counters.Orders)
	assert.Equal(t, 1, res.Counters.Fills)

	// 1000 / (3.90×100) = 2 手 = 200 股，花费 780 ≤ 1000
	assert.Equal(t, 200, bt.ledger.Position("SH510300"))

	// 第 2、3 日仓位保持非零
	posHist := bt.ledger.Positions()
	byDate := make(map[string]int)
	for _, row := range posHist {
		byDate[row.Date] = row.Positions["SH510300"]
	}
	assert.Equal(t, 200, byDate["2019-04-02"])
	assert.Equal(t, 200, byDate["2019-04-03"])

	// 成交后现金精确：1000 − 780 − 2.6
	assert.Equal(t, "217.4", bt.ledger.Cash().String())
}

// exitStrategy 固定在指定日期发 EXIT。
type exitStrategy struct{ date string }

func (s exitStrategy) Name() string { return "exit_once" }

func (s exitStrategy) CalculateSignals(_ context.Context, ev event.Event, _ strategy.MarketData) (event.Event, bool, error) {
	if ev.Kind != event.KindMarket || ev.Date != s.date {
		return event.Event{}, false, nil
	}
	return event.NewSignal(ev.Symbol, ev.Date, 1, event.SignalExit, 1.0), true, nil
}

// 场景：空头 −50 收到 EXIT，期望 BUY 50 平仓。
func TestEngineExitClosesShortPosition(t *testing.T) {
	data := newFakeData()
	data.add("SH510300", "2019-03-29", 3.90)
	data.add("SH510300", "2019-04-01", 3.95)

	ledger := portfolio.NewLedger(portfolio.Config{
		Symbols:        []string{"SH510300"},
		StartDate:      "2019-03-29",
		InitialCapital: 1000,
	})
	ledger.ApplyFill(event.NewFill("SH510300", "2019-03-29", 50, event.DirectionSell, 3.80, 0, "SIM"))
	require.Equal(t, -50, ledger.Position("SH510300"))

	ticks := equeue.New[clock.Tick]()
	eng, err := New(Config{
		RunID:     "test-run",
		Symbols:   []string{"SH510300"},
		Heartbeat: time.Millisecond,
		Data:      data,
		Strategy:  exitStrategy{date: "2019-04-01"},
		Ledger:    ledger,
		Simulator: execution.NewSimulator(execution.NewProviderQuoter(data), execution.FreeCommission{}),
		Ticks:     ticks,
	})
	require.NoError(t, err)
	eng.PreloadDates("SH510300", []string{"2019-04-01"})

	ticks.Push(clock.Tick{Date: "2019-04-01"})
	ticks.Poison()
	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, 1, eng.Counters().Fills)
	assert.Equal(t, 0, ledger.Position("SH510300"))
}

// cursorProbe 每次被调用时记录所有 symbol 的游标。
type cursorProbe struct {
	eng     **Engine
	cursors []int
}

func (p *cursorProbe) Name() string { return "cursor_probe" }

func (p *cursorProbe) CalculateSignals(_ context.Context, ev event.Event, _ strategy.MarketData) (event.Event, bool, error) {
	st := (*p.eng).states[ev.Symbol]
	p.cursors = append(p.cursors, st.cursor)
	return event.Event{}, false, nil
}

// 游标单调：每处理一个 MarketEvent 恰好 +1，且不越界。
func TestEngineCursorMonotonic(t *testing.T) {
	data := newFakeData()
	dates := []string{"2019-04-01", "2019-04-02", "2019-04-03", "2019-04-04"}
	data.add("SH510300", "2019-03-29", 3.90)
	for i, d := range dates {
		data.add("SH510300", d, 3.90+float64(i)*0.01)
	}

	ledger := portfolio.NewLedger(portfolio.Config{
		Symbols: []string{"SH510300"}, StartDate: "2019-04-01", InitialCapital: 1000,
	})
	var eng *Engine
	probe := &cursorProbe{eng: &eng}

	ticks := equeue.New[clock.Tick]()
	eng, err := New(Config{
		RunID:     "cursor-run",
		Symbols:   []string{"SH510300"},
		Heartbeat: time.Millisecond,
		Data:      data,
		Strategy:  probe,
		Ledger:    ledger,
		Simulator: execution.NewSimulator(execution.NewProviderQuoter(data), nil),
		Ticks:     ticks,
	})
	require.NoError(t, err)
	eng.PreloadDates("SH510300", dates)

	for _, d := range dates {
		ticks.Push(clock.Tick{Date: d})
	}
	ticks.Poison()
	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, probe.cursors, len(dates))
	for i, c := range probe.cursors {
		assert.Equal(t, i, c, "第 %d 个 MarketEvent 的游标", i)
		assert.LessOrEqual(t, c, len(dates)-1)
	}
}

// 某一日估值数据缺失：该 symbol 当期降级，运行继续并正常结束。
func TestEngineDegradesOnMissingBar(t *testing.T) {
	data := newFakeData()
	data.add("SH510300", "2019-04-01", 3.95)
	// 2019-04-02 的估值要用 04-01 的 K 线（有）；04-03 用 04-02 的（缺）
	data.add("SH510300", "2019-04-03", 4.05)

	ledger := portfolio.NewLedger(portfolio.Config{
		Symbols: []string{"SH510300"}, StartDate: "2019-04-02", InitialCapital: 1000,
	})
	ticks := equeue.New[clock.Tick]()
	eng, err := New(Config{
		RunID:     "degrade-run",
		Symbols:   []string{"SH510300"},
		Heartbeat: time.Millisecond,
		Data:      data,
		Strategy:  strategy.NewBuyAndHold(1),
		Ledger:    ledger,
		Simulator: execution.NewSimulator(execution.NewProviderQuoter(data), nil),
		Ticks:     ticks,
	})
	require.NoError(t, err)
	eng.PreloadDates("SH510300", []string{"2019-04-02", "2019-04-03"})

	ticks.Push(clock.Tick{Date: "2019-04-02"})
	ticks.Push(clock.Tick{Date: "2019-04-03"})
	ticks.Poison()
	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, 2, eng.Counters().Markets)
	assert.Equal(t, 1, eng.Counters().Dropped)
}

// Stop 幂等，且停机后 Run 在一个心跳内退出。
func TestEngineStopIdempotent(t *testing.T) {
	data := newFakeData()
	data.add("SH510300", "2019-04-01", 3.95)

	ledger := portfolio.NewLedger(portfolio.Config{
		Symbols: []string{"SH510300"}, StartDate: "2019-04-01", InitialCapital: 1000,
	})
	ticks := equeue.New[clock.Tick]()
	eng, err := New(Config{
		RunID:     "stop-run",
		Symbols:   []string{"SH510300"},
		Heartbeat: time.Millisecond,
		Data:      data,
		Strategy:  strategy.NewBuyAndHold(1),
		Ledger:    ledger,
		Simulator: execution.NewSimulator(execution.NewProviderQuoter(data), nil),
		Ticks:     ticks,
	})
	require.NoError(t, err)

	eng.Stop()
	eng.Stop()

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("引擎未在停机后退出")
	}
}
