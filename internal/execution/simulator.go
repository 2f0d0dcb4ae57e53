package execution

import (
	"context"
	"errors"
	"fmt"

	"tide/internal/event"
	"tide/internal/logger"
	"tide/internal/market"
)

// ErrUnknownPrice 表示请求的 symbol/date 没有可用估值，
// 订单被丢弃并记日志，绝不凭空造价成交。
var ErrUnknownPrice = errors.New("execution: no valuation price available")

// Quoter 提供订单估值价：date 当日可用的最近一根完整 K 线收盘价。
type Quoter interface {
	LastClose(ctx context.Context, symbol, date string) (float64, error)
}

// ProviderQuoter 用行情 Provider 实现 Quoter：取 date 前一个交易日
// 的复权收盘价，避免用当日未走完的 K 线（前视偏差）。
type ProviderQuoter struct {
	provider market.Provider
}

func NewProviderQuoter(p market.Provider) *ProviderQuoter {
	return &ProviderQuoter{provider: p}
}

func (q *ProviderQuoter) LastClose(ctx context.Context, symbol, date string) (float64, error) {
	prev, err := q.provider.PreviousTradingDate(ctx, symbol, date)
	if err != nil {
		return 0, fmt.Errorf("%w: %s@%s: %v", ErrUnknownPrice, symbol, date, err)
	}
	if prev == "" {
		return 0, fmt.Errorf("%w: %s@%s 之前无交易日", ErrUnknownPrice, symbol, date)
	}
	bar, err := q.provider.Bar(ctx, symbol, prev)
	if err != nil {
		return 0, fmt.Errorf("%w: %s@%s: %v", ErrUnknownPrice, symbol, prev, err)
	}
	return bar.AdjClose, nil
}

// Simulator 确定性撮合：全量成交，无滑点。
type Simulator struct {
	quotes     Quoter
	commission CommissionPolicy
	venue      string
}

func NewSimulator(quotes Quoter, commission CommissionPolicy) *Simulator {
	if commission == nil {
		commission = DefaultCommission()
	}
	return &Simulator{quotes: quotes, commission: commission, venue: "SIM"}
}

// Execute 把订单撮合成成交事件。估值缺失返回 ErrUnknownPrice，
// 该 symbol 当日的因果链就此终止。
func (s *Simulator) Execute(ctx context.Context, ord event.Event) (event.Event, error) {
	if ord.Kind != event.KindOrder {
		panic(fmt.Sprintf("execution: Execute 收到 %v 事件", ord.Kind))
	}
	price, err := s.quotes.LastClose(ctx, ord.Symbol, ord.Date)
	if err != nil {
		if !errors.Is(err, ErrUnknownPrice) {
			err = fmt.Errorf("%w: %v", ErrUnknownPrice, err)
		}
		logger.Warnf("[execution] %s %s 订单丢弃: %v", ord.Symbol, ord.Date, err)
		return event.Event{}, err
	}
	commission := s.commission.Calculate(ord.Order.Quantity)
	fill := event.NewFill(ord.Symbol, ord.Date, ord.Order.Quantity, ord.Order.Direction,
		price, commission, s.venue)
	return fill, nil
}
