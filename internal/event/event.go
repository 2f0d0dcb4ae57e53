package event

import (
	"errors"
	"fmt"
)

// DateLayout 全局交易日字符串格式。
const DateLayout = "2006-01-02"

// ErrInvalidOrder 表示订单在构造期即不合法（例如负数量），不允许进入队列。
var ErrInvalidOrder = errors.New("invalid order: quantity must be non-negative")

// Kind 事件类型判别值。事件流转顺序固定：
// Market => Signal => Order => Fill。
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "MARKET"
	case KindSignal:
		return "SIGNAL"
	case KindOrder:
		return "ORDER"
	case KindFill:
		return "FILL"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// SignalType 策略信号方向。
type SignalType int

const (
	SignalUp SignalType = iota
	SignalDown
	SignalHold
	SignalExit
)

func (s SignalType) String() string {
	switch s {
	case SignalUp:
		return "UP"
	case SignalDown:
		return "DOWN"
	case SignalHold:
		return "HOLD"
	case SignalExit:
		return "EXIT"
	default:
		return fmt.Sprintf("SIGNAL(%d)", int(s))
	}
}

// OrderType 订单类型，目前模拟撮合只支持市价单。
type OrderType int

const (
	OrderMarket OrderType = iota
	OrderLimit
)

func (o OrderType) String() string {
	if o == OrderLimit {
		return "LIMIT"
	}
	return "MARKET"
}

// Direction 买卖方向。
type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
)

// Sign 返回方向符号：BUY=+1，SELL=-1。
// 其他值属于编码错误，直接 panic 而不是悄悄当 0 处理。
func (d Direction) Sign() int {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		panic(fmt.Sprintf("event: unknown direction %d", int(d)))
	}
}

func (d Direction) String() string {
	if d == DirectionSell {
		return "SELL"
	}
	return "BUY"
}

// Event 是单一 tagged-union：Kind 决定哪个 payload 指针有效。
// 事件一经构造不可变，所有字段只读。
type Event struct {
	Kind   Kind
	Symbol string
	Date   string // 交易日，DateLayout 格式

	Market *MarketPayload
	Signal *SignalPayload
	Order  *OrderPayload
	Fill   *FillPayload
}

// MarketPayload 携带该 symbol 的前一交易日，用于计算 bar 间变化、
// 以及让策略只看已完成的上一根 bar（避免未来函数）。
type MarketPayload struct {
	PreviousDate string
}

// SignalPayload 策略输出。Strength 为可选强度（0 表示未给出）。
type SignalPayload struct {
	StrategyID int
	Type       SignalType
	Strength   float64
}

type OrderPayload struct {
	Type      OrderType
	Quantity  int
	Direction Direction
}

// FillPayload 模拟成交回报。FillCost 是成交单价，Commission 为佣金。
type FillPayload struct {
	Quantity   int
	Direction  Direction
	FillCost   float64
	Commission float64
	Venue      string
}

func NewMarket(symbol, date, previousDate string) Event {
	return Event{
		Kind:   KindMarket,
		Symbol: symbol,
		Date:   date,
		Market: &MarketPayload{PreviousDate: previousDate},
	}
}

func NewSignal(symbol, date string, strategyID int, typ SignalType, strength float64) Event {
	return Event{
		Kind:   KindSignal,
		Symbol: symbol,
		Date:   date,
		Signal: &SignalPayload{StrategyID: strategyID, Type: typ, Strength: strength},
	}
}

// NewOrder 构造订单事件；负数量在这里就被拒绝，坏订单永远进不了队列。
func NewOrder(symbol, date string, typ OrderType, quantity int, direction Direction) (Event, error) {
	if quantity < 0 {
		return Event{}, fmt.Errorf("%w: got %d", ErrInvalidOrder, quantity)
	}
	return Event{
		Kind:   KindOrder,
		Symbol: symbol,
		Date:   date,
		Order:  &OrderPayload{Type: typ, Quantity: quantity, Direction: direction},
	}, nil
}

func NewFill(symbol, date string, quantity int, direction Direction, fillCost, commission float64, venue string) Event {
	return Event{
		Kind:   KindFill,
		Symbol: symbol,
		Date:   date,
		Fill: &FillPayload{
			Quantity:   quantity,
			Direction:  direction,
			FillCost:   fillCost,
			Commission: commission,
			Venue:      venue,
		},
	}
}

func (e Event) String() string {
	switch e.Kind {
	case KindMarket:
		return fmt.Sprintf("MarketEvent(symbol=%s, date=%s, prev=%s)", e.Symbol, e.Date, e.Market.PreviousDate)
	case KindSignal:
		return fmt.Sprintf("SignalEvent(symbol=%s, date=%s, type=%s)", e.Symbol, e.Date, e.Signal.Type)
	case KindOrder:
		return fmt.Sprintf("OrderEvent(symbol=%s, date=%s, dir=%s, qty=%d)", e.Symbol, e.Date, e.Order.Direction, e.Order.Quantity)
	case KindFill:
		return fmt.Sprintf("FillEvent(symbol=%s, date=%s, dir=%s, qty=%d, cost=%.4f)", e.Symbol, e.Date, e.Fill.Direction, e.Fill.Quantity, e.Fill.FillCost)
	default:
		return fmt.Sprintf("Event(kind=%s, symbol=%s, date=%s)", e.Kind, e.Symbol, e.Date)
	}
}
