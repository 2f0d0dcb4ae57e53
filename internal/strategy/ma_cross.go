package strategy

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"tide/internal/event"
)

// MACross 双均线交叉：短均线上穿长均线发 UP，下穿发 DOWN。
// 用前一根完整 K 线之前的窗口计算，不碰当日未走完的数据。
type MACross struct {
	id    int
	short int
	long  int
}

func NewMACross(id, short, long int) (*MACross, error) {
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("ma_cross 窗口无效: short=%d long=%d", short, long)
	}
	return &MACross{id: id, short: short, long: long}, nil
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) CalculateSignals(ctx context.Context, ev event.Event, data MarketData) (event.Event, bool, error) {
	if ev.Kind != event.KindMarket {
		return event.Event{}, false, nil
	}
	asOf := ev.Market.PreviousDate
	if asOf == "" {
		return event.Event{}, false, nil
	}
	// 多取一根，交叉要看前后两期的均线差。
	bars, err := data.TailBars(ctx, ev.Symbol, asOf, s.long+1)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("ma_cross 取历史失败: %w", err)
	}
	if len(bars) < s.long+1 {
		// 样本不足是正常的预热期，不是错误。
		return event.Event{}, false, nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.AdjClose
	}
	shortMA := talib.Sma(closes, s.short)
	longMA := talib.Sma(closes, s.long)

	n := len(closes)
	diffNow := shortMA[n-1] - longMA[n-1]
	diffPrev := shortMA[n-2] - longMA[n-2]

	var typ event.SignalType
	switch {
	case diffPrev <= 0 && diffNow > 0:
		typ = event.SignalUp
	case diffPrev >= 0 && diffNow < 0:
		typ = event.SignalDown
	default:
		return event.Event{}, false, nil
	}

	strength := 0.0
	if longMA[n-1] != 0 {
		strength = math.Abs(diffNow) / longMA[n-1]
	}
	return event.NewSignal(ev.Symbol, ev.Date, s.id, typ, strength), true, nil
}
