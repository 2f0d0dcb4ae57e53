package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/event"
)

func newTestLedger() *Ledger {
	return NewLedger(Config{
		Symbols:        []string{"SH510300"},
		StartDate:      "2019-03-29",
		InitialCapital: 1000,
		LotSize:        100,
	})
}

func TestApplyFillCashExact(t *testing.T) {
	l := newTestLedger()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)

	before := l.Cash()
	fill := event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM")
	l.ApplyFill(fill)

	// cash_after = cash_before − (sign×price×qty + commission)，逐位精确
	want := before.Sub(decimal.NewFromFloat(3.90).Mul(decimal.NewFromInt(200))).
		Sub(decimal.NewFromFloat(2.6))
	assert.True(t, l.Cash().Equal(want), "cash=%s want=%s", l.Cash(), want)
	assert.Equal(t, 200, l.Position("SH510300"))
	assert.True(t, l.CommissionAccrued().Equal(decimal.NewFromFloat(2.6)))

	// 卖出把现金加回来
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 200, event.DirectionSell, 4.00, 2.6, "SIM"))
	want = want.Add(decimal.NewFromFloat(4.00).Mul(decimal.NewFromInt(200))).
		Sub(decimal.NewFromFloat(2.6))
	assert.True(t, l.Cash().Equal(want))
	assert.Equal(t, 0, l.Position("SH510300"))
}

func TestEquityInvariantAfterEveryApplication(t *testing.T) {
	l := NewLedger(Config{
		Symbols:        []string{"SH510300", "SH510500"},
		StartDate:      "2019-03-29",
		InitialCapital: 100000,
	})
	check := func() {
		t.Helper()
		cash, _ := l.Cash().Float64()
		sum := cash
		for _, s := range l.Symbols() {
			sum += float64(l.Position(s)) * l.LastPrice(s)
		}
		assert.InDelta(t, sum, l.TotalEquity(), 1e-6)
	}

	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	check()
	l.ApplyMarket(event.NewMarket("SH510500", "2019-04-01", "2019-03-29"), 5.20)
	check()
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 500, event.DirectionBuy, 3.90, 6.5, "SIM"))
	check()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-02", "2019-04-01"), 4.10)
	check()
	l.ApplyFill(event.NewFill("SH510300", "2019-04-02", 500, event.DirectionSell, 4.10, 6.5, "SIM"))
	check()
}

func TestApplyFillUpdatesTodaysSnapshot(t *testing.T) {
	l := newTestLedger()
	// 当日行情先落快照，当日成交随后到达，两处都要更新。
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 100, event.DirectionBuy, 3.90, 1.3, "SIM"))

	hist := l.Holdings()
	last := hist[len(hist)-1]
	require.Equal(t, "2019-04-01", last.Date)
	assert.True(t, last.Cash.Equal(l.Cash()))
	assert.InDelta(t, l.TotalEquity(), last.TotalEquity, 1e-9)

	posHist := l.Positions()
	assert.Equal(t, 100, posHist[len(posHist)-1].Positions["SH510300"])
}

func TestGenerateOrderNaiveSizing(t *testing.T) {
	l := newTestLedger()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)

	// UP 且空仓：整手买入不超过现金。1000/(3.90×100)=2 手。
	ord, ok, err := l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalUp, 1.0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.DirectionBuy, ord.Order.Direction)
	assert.Equal(t, 200, ord.Order.Quantity)

	// 持仓后 UP 不加仓
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM"))
	_, ok, err = l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalUp, 1.0))
	require.NoError(t, err)
	assert.False(t, ok)

	// DOWN 且持多：清仓
	ord, ok, err = l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalDown, 1.0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.DirectionSell, ord.Order.Direction)
	assert.Equal(t, 200, ord.Order.Quantity)

	// HOLD 明确不下单
	_, ok, err = l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalHold, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

// EXIT 信号对 −50 空头仓位给出 BUY 50。
func TestGenerateOrderExitShortPosition(t *testing.T) {
	l := newTestLedger()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	l.curPositions["SH510300"] = -50

	ord, ok, err := l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalExit, 1.0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.DirectionBuy, ord.Order.Direction)
	assert.Equal(t, 50, ord.Order.Quantity)
}

func TestGenerateOrderUnknownSignalPanics(t *testing.T) {
	l := newTestLedger()
	assert.Panics(t, func() {
		l.GenerateOrder(event.NewSignal("SH510300", "2019-04-01", 1, event.SignalType(99), 0))
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM"))
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-02", "2019-04-01"), 4.10)

	restored, err := Restore(l.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, l.Position("SH510300"), restored.Position("SH510300"))
	assert.True(t, l.Cash().Equal(restored.Cash()))
	assert.True(t, l.CommissionAccrued().Equal(restored.CommissionAccrued()))
	assert.InDelta(t, l.TotalEquity(), restored.TotalEquity(), 1e-9)
	assertHoldingsEqual(t, l.Holdings(), restored.Holdings())
	assert.Equal(t, l.Positions(), restored.Positions())

	// 恢复后的账本能继续统计
	assert.Equal(t, l.Statistics(), restored.Statistics())
}

// assertHoldingsEqual 逐行比较资金历史。金额字段用 decimal.Equal：
// 字符串化再解析会改变内部表示（1×10³ vs 1000×10⁰），深比较会误报。
func assertHoldingsEqual(t *testing.T, want, got []HoldingRow) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Date, got[i].Date)
		assert.True(t, want[i].Cash.Equal(got[i].Cash), "row %d cash: %s != %s", i, want[i].Cash, got[i].Cash)
		assert.True(t, want[i].Commission.Equal(got[i].Commission), "row %d commission: %s != %s", i, want[i].Commission, got[i].Commission)
		assert.Equal(t, want[i].MarketValue, got[i].MarketValue, "row %d market value", i)
		assert.InDelta(t, want[i].TotalEquity, got[i].TotalEquity, 1e-9, "row %d total equity", i)
	}
}
