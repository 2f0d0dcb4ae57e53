// Package strategy 定义信号生成接口与内置策略。策略只读行情，
// 产出建议性的 SignalEvent，仓位约束由账本的下单逻辑负责。
package strategy

import (
	"context"
	"fmt"

	"tide/internal/event"
	"tide/internal/market"
)

// MarketData 策略可见的行情视图：截至某日的历史 K 线窗口与特征。
type MarketData interface {
	TailBars(ctx context.Context, symbol, date string, n int) ([]market.Bar, error)
	Features(ctx context.Context, symbol, date string) (market.Features, error)
}

// Strategy 在每个 MARKET 事件上计算信号。
// 返回 ok=false 表示本期无信号，不是错误。
type Strategy interface {
	Name() string
	CalculateSignals(ctx context.Context, ev event.Event, data MarketData) (event.Event, bool, error)
}

// Spec 策略档案里的一条配置。
type Spec struct {
	ID     int                `mapstructure:"id" yaml:"id" json:"id"`
	Name   string             `mapstructure:"name" yaml:"name" json:"name"`
	Params map[string]float64 `mapstructure:"params" yaml:"params" json:"params"`
}

// Build 按档案配置构造策略实例。
func Build(spec Spec) (Strategy, error) {
	switch spec.Name {
	case "buy_and_hold":
		return NewBuyAndHold(spec.ID), nil
	case "ma_cross":
		short := int(spec.Params["short_window"])
		long := int(spec.Params["long_window"])
		return NewMACross(spec.ID, short, long)
	default:
		return nil, fmt.Errorf("未知策略: %q", spec.Name)
	}
}

// BuyAndHold 每个 symbol 只在首个行情事件上发一次 UP，之后沉默。
// 基准策略，用来对照其他策略的超额收益。
type BuyAndHold struct {
	id     int
	bought map[string]bool
}

func NewBuyAndHold(id int) *BuyAndHold {
	return &BuyAndHold{id: id, bought: make(map[string]bool)}
}

func (s *BuyAndHold) Name() string { return "buy_and_hold" }

func (s *BuyAndHold) CalculateSignals(_ context.Context, ev event.Event, _ MarketData) (event.Event, bool, error) {
	if ev.Kind != event.KindMarket {
		return event.Event{}, false, nil
	}
	if s.bought[ev.Symbol] {
		return event.Event{}, false, nil
	}
	s.bought[ev.Symbol] = true
	return event.NewSignal(ev.Symbol, ev.Date, s.id, event.SignalUp, 1.0), true, nil
}
