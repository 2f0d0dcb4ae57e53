// Package execution 模拟撮合：订单按最近一根完整 K 线的收盘价全量成交，
// 佣金走可插拔费率策略。
package execution

// CommissionPolicy 按成交数量计费，可替换。
type CommissionPolicy interface {
	Calculate(quantity int) float64
}

// TieredCommission 按数量分档的固定费率，设最低收费。
// 默认参数对应 Interactive Brokers 北美固定费率。
type TieredCommission struct {
	Minimum   float64 // 单笔最低佣金
	SmallRate float64 // 数量 ≤ Threshold 时的每股费率
	LargeRate float64 // 数量 > Threshold 时的每股费率
	Threshold int
}

func DefaultCommission() TieredCommission {
	return TieredCommission{
		Minimum:   1.3,
		SmallRate: 0.013,
		LargeRate: 0.008,
		Threshold: 500,
	}
}

func (c TieredCommission) Calculate(quantity int) float64 {
	rate := c.SmallRate
	if quantity > c.Threshold {
		rate = c.LargeRate
	}
	cost := rate * float64(quantity)
	if cost < c.Minimum {
		return c.Minimum
	}
	return cost
}

// FreeCommission 零佣金，测试与币类场景使用。
type FreeCommission struct{}

func (FreeCommission) Calculate(int) float64 { return 0 }
