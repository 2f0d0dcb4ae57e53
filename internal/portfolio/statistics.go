package portfolio

import (
	"math"
)

// 年化周期数：日线股票按交易日 252，币类 7x24 按自然日 365。
const (
	PeriodsEquityDaily = 252
	PeriodsCryptoDaily = 365
)

// EquityPoint 权益曲线上的一个点。Curve 以 1.0 为起点的累计净值。
type EquityPoint struct {
	Date     string  `json:"date"`
	Total    float64 `json:"total"`
	Return   float64 `json:"return"`
	Curve    float64 `json:"curve"`
	Drawdown float64 `json:"drawdown"`
}

// Summary 一次运行的汇总统计。
type Summary struct {
	TotalReturnPct   float64       `json:"total_return_pct"`
	SharpeRatio      float64       `json:"sharpe_ratio"`
	MaxDrawdown      float64       `json:"max_drawdown"`
	DrawdownDuration int           `json:"drawdown_duration"`
	EquityCurve      []EquityPoint `json:"equity_curve"`
}

// Statistics 从资金历史派生权益曲线与汇总指标。只读、幂等：
// 账本无变动时任意次调用结果一致。
func (l *Ledger) Statistics() Summary {
	curve := buildEquityCurve(l.holdingHist)
	if len(curve) == 0 {
		return Summary{EquityCurve: curve}
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		returns = append(returns, curve[i].Return)
	}

	maxDD, ddDuration := markDrawdowns(curve)
	return Summary{
		TotalReturnPct:   (curve[len(curve)-1].Curve - 1.0) * 100.0,
		SharpeRatio:      sharpeRatio(returns, l.annualization),
		MaxDrawdown:      maxDD,
		DrawdownDuration: ddDuration,
		EquityCurve:      curve,
	}
}

// buildEquityCurve 逐日收益率累乘成净值曲线，首日净值 1.0。
func buildEquityCurve(rows []HoldingRow) []EquityPoint {
	curve := make([]EquityPoint, 0, len(rows))
	acc := 1.0
	for i, row := range rows {
		ret := 0.0
		if i > 0 && rows[i-1].TotalEquity != 0 {
			ret = row.TotalEquity/rows[i-1].TotalEquity - 1.0
		}
		acc *= 1.0 + ret
		curve = append(curve, EquityPoint{
			Date:   row.Date,
			Total:  row.TotalEquity,
			Return: ret,
			Curve:  acc,
		})
	}
	return curve
}

// sharpeRatio = mean/std × sqrt(periods)。全程收益率恒定时
// 标准差为 0，比率无意义，返回 0 而不是除零。
func sharpeRatio(returns []float64, periods int) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(periods))
}

// markDrawdowns 在曲线上就地标注回撤，返回最大回撤与
// 最长连续回撤期（天数）。
func markDrawdowns(curve []EquityPoint) (maxDD float64, duration int) {
	peak := math.Inf(-1)
	run := 0
	for i := range curve {
		if curve[i].Curve > peak {
			peak = curve[i].Curve
		}
		dd := 0.0
		if peak > 0 {
			dd = 1.0 - curve[i].Curve/peak
		}
		curve[i].Drawdown = dd
		if dd > maxDD {
			maxDD = dd
		}
		if dd > 0 {
			run++
			if run > duration {
				duration = run
			}
		} else {
			run = 0
		}
	}
	return maxDD, duration
}
