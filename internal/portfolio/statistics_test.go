package portfolio

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/event"
)

// withEquitySeries 构造一条指定逐日总权益的账本历史。
func withEquitySeries(t *testing.T, totals []float64) *Ledger {
	t.Helper()
	l := NewLedger(Config{
		Symbols:        []string{"SH510300"},
		StartDate:      "2019-03-29",
		InitialCapital: totals[0],
	})
	// 持有 1 股，用价格直接驱动总权益：total = cash(0 变动) + 1×price。
	// 简单起见改写内部市值序列。
	l.holdingHist = l.holdingHist[:0]
	for i, v := range totals {
		l.holdingHist = append(l.holdingHist, HoldingRow{
			Date:        eqDate(i),
			Cash:        l.curCash,
			TotalEquity: v,
		})
	}
	return l
}

func eqDate(i int) string {
	return fmt.Sprintf("2019-04-%02d", i+1)
}

func TestStatisticsTotalReturnAndCurve(t *testing.T) {
	l := withEquitySeries(t, []float64{1000, 1100, 1210})
	s := l.Statistics()

	require.Len(t, s.EquityCurve, 3)
	assert.InDelta(t, 1.0, s.EquityCurve[0].Curve, 1e-12)
	assert.InDelta(t, 1.21, s.EquityCurve[2].Curve, 1e-12)
	assert.InDelta(t, 21.0, s.TotalReturnPct, 1e-9)
}

// 全程收益率为同一非零常数：stdev==0 必须特判，结果为 0 而非 NaN/∞。
func TestStatisticsSharpeConstantReturns(t *testing.T) {
	// 逐日收益率精确恒等于 +100%
	l := withEquitySeries(t, []float64{1000, 2000, 4000, 8000})
	s := l.Statistics()

	assert.False(t, math.IsNaN(s.SharpeRatio))
	assert.False(t, math.IsInf(s.SharpeRatio, 0))
	assert.Equal(t, 0.0, s.SharpeRatio)
}

func TestStatisticsSharpeMixedReturns(t *testing.T) {
	l := withEquitySeries(t, []float64{1000, 1100, 1050, 1200, 1150})
	s := l.Statistics()

	assert.False(t, math.IsNaN(s.SharpeRatio))
	assert.NotZero(t, s.SharpeRatio)
}

func TestStatisticsDrawdown(t *testing.T) {
	// 峰值 1200，谷底 900：最大回撤 25%，回撤期 3 天（1000、900、1100 都低于峰值）。
	l := withEquitySeries(t, []float64{1000, 1200, 1000, 900, 1100, 1300})
	s := l.Statistics()

	assert.InDelta(t, 0.25, s.MaxDrawdown, 1e-9)
	assert.Equal(t, 3, s.DrawdownDuration)
}

func TestStatisticsIdempotent(t *testing.T) {
	l := newTestLedger()
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-01", "2019-03-29"), 3.90)
	l.ApplyFill(event.NewFill("SH510300", "2019-04-01", 200, event.DirectionBuy, 3.90, 2.6, "SIM"))
	l.ApplyMarket(event.NewMarket("SH510300", "2019-04-02", "2019-04-01"), 4.10)

	first := l.Statistics()
	second := l.Statistics()
	assert.Equal(t, first, second)
}

func TestStatisticsEmptyHistory(t *testing.T) {
	l := &Ledger{annualization: PeriodsEquityDaily}
	s := l.Statistics()
	assert.Zero(t, s.TotalReturnPct)
	assert.Zero(t, s.SharpeRatio)
	assert.Empty(t, s.EquityCurve)
}
