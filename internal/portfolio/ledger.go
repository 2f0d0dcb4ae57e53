// Package portfolio 维护持仓与资金账本：MARKET 事件做逐日估值，
// FILL 事件改写仓位与现金，历史快照只追加。账本是单写者对象，
// 只有引擎循环线程改写它。
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tide/internal/event"
)

// 默认 A 股一手 100 股。
const defaultLotSize = 100

// PositionRow 某个交易日收盘后的持仓快照。
type PositionRow struct {
	Date      string
	Positions map[string]int
}

// HoldingRow 某个交易日收盘后的资金快照。现金与累计佣金用 decimal
// 记账，市值估算保留 float。
type HoldingRow struct {
	Date        string
	Cash        decimal.Decimal
	Commission  decimal.Decimal
	MarketValue map[string]float64
	TotalEquity float64
}

// Config 账本初始参数。
type Config struct {
	Symbols        []string
	StartDate      string
	InitialCapital float64
	LotSize        int // 下单取整的最小手数，默认 100
	Annualization  int // 年化周期数，股票 252、币类 365，默认 252
}

// Ledger 单实现账本，回测与在线模式共用，差别只在时钟与数据源。
type Ledger struct {
	symbols        []string
	startDate      string
	initialCapital decimal.Decimal
	lotSize        int
	annualization  int

	curPositions  map[string]int
	curCash       decimal.Decimal
	curCommission decimal.Decimal
	curMarket     map[string]float64
	lastPrice     map[string]float64

	positionHist []PositionRow
	holdingHist  []HoldingRow
}

func NewLedger(cfg Config) *Ledger {
	lot := cfg.LotSize
	if lot <= 0 {
		lot = defaultLotSize
	}
	ann := cfg.Annualization
	if ann <= 0 {
		ann = PeriodsEquityDaily
	}
	l := &Ledger{
		symbols:        append([]string(nil), cfg.Symbols...),
		startDate:      cfg.StartDate,
		initialCapital: decimal.NewFromFloat(cfg.InitialCapital),
		lotSize:        lot,
		annualization:  ann,
		curPositions:   make(map[string]int, len(cfg.Symbols)),
		curMarket:      make(map[string]float64, len(cfg.Symbols)),
		lastPrice:      make(map[string]float64, len(cfg.Symbols)),
	}
	l.curCash = l.initialCapital
	l.curCommission = decimal.Zero
	for _, s := range cfg.Symbols {
		l.curPositions[s] = 0
		l.curMarket[s] = 0
	}
	// 起始日占位快照，等价于开仓前的空账本。
	l.positionHist = append(l.positionHist, PositionRow{
		Date:      cfg.StartDate,
		Positions: copyPositions(l.curPositions),
	})
	l.holdingHist = append(l.holdingHist, HoldingRow{
		Date:        cfg.StartDate,
		Cash:        l.curCash,
		Commission:  decimal.Zero,
		MarketValue: copyMarket(l.curMarket),
		TotalEquity: cfg.InitialCapital,
	})
	return l
}

func copyPositions(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMarket(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cashFloat 现金的浮点视图，只用于估值合计。
func (l *Ledger) cashFloat() float64 {
	f, _ := l.curCash.Float64()
	return f
}

func (l *Ledger) recomputeTotal() float64 {
	total := l.cashFloat()
	for _, mv := range l.curMarket {
		total += mv
	}
	return total
}

// ApplyMarket 逐日估值：用最新收盘价重算该 symbol 的市值，
// 再落一条当日快照（同日多个 symbol 的行情合并进同一条）。
func (l *Ledger) ApplyMarket(ev event.Event, lastClose float64) {
	if ev.Kind != event.KindMarket {
		panic(fmt.Sprintf("portfolio: ApplyMarket 收到 %v 事件", ev.Kind))
	}
	l.lastPrice[ev.Symbol] = lastClose
	l.curMarket[ev.Symbol] = float64(l.curPositions[ev.Symbol]) * lastClose
	l.upsertSnapshot(ev.Date)
}

// ApplyFill 成交落账：position += sign×qty，
// cash −= (sign×price×qty + commission)，逐位精确。
// 当日估值快照若已存在则一并更新（当日行情先于当日成交落账）。
func (l *Ledger) ApplyFill(ev event.Event) {
	if ev.Kind != event.KindFill {
		panic(fmt.Sprintf("portfolio: ApplyFill 收到 %v 事件", ev.Kind))
	}
	fill := ev.Fill
	sign := fill.Direction.Sign() // 非法方向在此 panic，属编程错误

	l.curPositions[ev.Symbol] += sign * fill.Quantity

	cost := decimal.NewFromFloat(fill.FillCost).
		Mul(decimal.NewFromInt(int64(fill.Quantity))).
		Mul(decimal.NewFromInt(int64(sign)))
	commission := decimal.NewFromFloat(fill.Commission)
	l.curCash = l.curCash.Sub(cost).Sub(commission)
	l.curCommission = l.curCommission.Add(commission)

	price := fill.FillCost
	if last, ok := l.lastPrice[ev.Symbol]; ok && last > 0 {
		price = last
	}
	l.curMarket[ev.Symbol] = float64(l.curPositions[ev.Symbol]) * price
	l.upsertSnapshot(ev.Date)
}

// upsertSnapshot 把当前状态写进 date 对应的历史行；无则追加。
func (l *Ledger) upsertSnapshot(date string) {
	total := l.recomputeTotal()
	pRow := PositionRow{Date: date, Positions: copyPositions(l.curPositions)}
	hRow := HoldingRow{
		Date:        date,
		Cash:        l.curCash,
		Commission:  l.curCommission,
		MarketValue: copyMarket(l.curMarket),
		TotalEquity: total,
	}
	n := len(l.holdingHist)
	if n > 0 && l.holdingHist[n-1].Date == date {
		l.positionHist[n-1] = pRow
		l.holdingHist[n-1] = hRow
		return
	}
	l.positionHist = append(l.positionHist, pRow)
	l.holdingHist = append(l.holdingHist, hRow)
}

// GenerateOrder 朴素下单策略（可替换）：
//   - UP 且空仓：按最新价整手买入，不超过可用现金；
//   - DOWN 且持多：全部卖出；
//   - EXIT 且有仓位：反向平掉 abs(position)；
//   - HOLD 或条件不满足：不下单。
//
// 返回 ok=false 表示明确不下单，不是错误。
func (l *Ledger) GenerateOrder(ev event.Event) (event.Event, bool, error) {
	if ev.Kind != event.KindSignal {
		panic(fmt.Sprintf("portfolio: GenerateOrder 收到 %v 事件", ev.Kind))
	}
	symbol := ev.Symbol
	pos := l.curPositions[symbol]

	switch ev.Signal.Type {
	case event.SignalUp:
		if pos != 0 {
			return event.Event{}, false, nil
		}
		price := l.lastPrice[symbol]
		if price <= 0 {
			return event.Event{}, false, nil
		}
		qty := l.affordableLots(price)
		if qty <= 0 {
			return event.Event{}, false, nil
		}
		ord, err := event.NewOrder(symbol, ev.Date, event.OrderMarket, qty, event.DirectionBuy)
		return ord, err == nil, err
	case event.SignalDown:
		if pos <= 0 {
			return event.Event{}, false, nil
		}
		ord, err := event.NewOrder(symbol, ev.Date, event.OrderMarket, pos, event.DirectionSell)
		return ord, err == nil, err
	case event.SignalExit:
		if pos == 0 {
			return event.Event{}, false, nil
		}
		dir := event.DirectionSell
		qty := pos
		if pos < 0 {
			dir = event.DirectionBuy
			qty = -pos
		}
		ord, err := event.NewOrder(symbol, ev.Date, event.OrderMarket, qty, dir)
		return ord, err == nil, err
	case event.SignalHold:
		return event.Event{}, false, nil
	default:
		panic(fmt.Sprintf("portfolio: 未知信号类型 %d", ev.Signal.Type))
	}
}

// affordableLots 现金能买的最大整手股数。
func (l *Ledger) affordableLots(price float64) int {
	lotCost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(l.lotSize)))
	if lotCost.Sign() <= 0 {
		return 0
	}
	lots := l.curCash.Div(lotCost).IntPart()
	if lots < 0 {
		return 0
	}
	return int(lots) * l.lotSize
}

// 只读访问器，统计与持久化使用。

func (l *Ledger) Symbols() []string                  { return l.symbols }
func (l *Ledger) Position(sym string) int            { return l.curPositions[sym] }
func (l *Ledger) Cash() decimal.Decimal              { return l.curCash }
func (l *Ledger) CommissionAccrued() decimal.Decimal { return l.curCommission }
func (l *Ledger) TotalEquity() float64               { return l.recomputeTotal() }
func (l *Ledger) LastPrice(sym string) float64       { return l.lastPrice[sym] }

// Holdings 返回资金历史（含起始占位行），调用方不得修改。
func (l *Ledger) Holdings() []HoldingRow { return l.holdingHist }

// Positions 返回持仓历史，调用方不得修改。
func (l *Ledger) Positions() []PositionRow { return l.positionHist }
