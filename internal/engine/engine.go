// Package engine 实现事件驱动的模拟/执行主循环：时钟 tick 放行交易日，
// 引擎按 symbol 推进 MARKET→SIGNAL→ORDER→FILL 因果链，账本消费成交。
// 回测与在线模式共用同一个循环，差别只在时钟与数据源。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tide/internal/clock"
	"tide/internal/equeue"
	"tide/internal/event"
	"tide/internal/execution"
	"tide/internal/logger"
	"tide/internal/market"
	"tide/internal/portfolio"
	"tide/internal/strategy"
)

const defaultHeartbeat = 100 * time.Millisecond

// DataHandler 引擎需要的行情视图：Provider 的全部能力加历史窗口与预热。
type DataHandler interface {
	market.Provider
	TailBars(ctx context.Context, symbol, date string, n int) ([]market.Bar, error)
	EnsureRange(ctx context.Context, symbol, start, end string) error
}

// Persister 账本快照的持久化协作方。调用必须不阻塞主循环，
// 失败也不得中断模拟（内存账本才是运行期的权威状态）。
type Persister interface {
	SaveSnapshot(runID, date string, snap portfolio.Snapshot)
	SaveFill(runID string, fill event.Event)
	Flush() error
}

// Counters 一次运行的事件计数。
type Counters struct {
	Markets    int `json:"markets"`
	Signals    int `json:"signals"`
	Orders     int `json:"orders"`
	Fills      int `json:"fills"`
	Dropped    int `json:"dropped"`
	Heartbeats int `json:"heartbeats"`
}

// Config 组装一台引擎。
type Config struct {
	RunID     string
	Symbols   []string
	Heartbeat time.Duration

	Data      DataHandler
	Strategy  strategy.Strategy
	Ledger    *portfolio.Ledger
	Simulator *execution.Simulator
	Ticks     *equeue.Queue[clock.Tick]
	Persister Persister // 可选
}

// symbolState 每个 symbol 的推进状态。
type symbolState struct {
	dates     []string // 已知交易日序列：回测预载，在线随 tick 追加
	cursor    int      // 最近发出的 MarketEvent 下标，-1 表示尚未发出
	chainBusy bool     // 当前因果链是否在途（每 symbol 最多一条）
}

// Engine 单写者事件循环。Run 所在的 goroutine 是唯一改写账本的线程。
type Engine struct {
	cfg       Config
	queue     *equeue.Queue[event.Event]
	states    map[string]*symbolState
	preloaded bool   // 预载过日历（回测模式），交易日须经时钟放行
	frontier  string // 时钟已放行的最大日期
	clockEOF  bool
	counters  Counters
}

func New(cfg Config) (*Engine, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: symbol 列表不能为空")
	}
	if cfg.Data == nil || cfg.Strategy == nil || cfg.Ledger == nil || cfg.Simulator == nil || cfg.Ticks == nil {
		return nil, fmt.Errorf("engine: 依赖不完整")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	e := &Engine{
		cfg:    cfg,
		queue:  equeue.New[event.Event](),
		states: make(map[string]*symbolState, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		e.states[s] = &symbolState{cursor: -1}
	}
	return e, nil
}

// PreloadDates 预载某个 symbol 的完整交易日历（回测模式）。
// 预载后交易日要等时钟 tick 放行才会进入处理。
func (e *Engine) PreloadDates(symbol string, dates []string) {
	if st, ok := e.states[symbol]; ok {
		st.dates = append([]string(nil), dates...)
		e.preloaded = true
	}
}

// Stop 请求停机：向全局队列投毒，主循环在一个心跳内退出。幂等。
func (e *Engine) Stop() {
	e.queue.Poison()
}

// Counters 返回当前计数快照。只应在 Run 退出后或测试中读取。
func (e *Engine) Counters() Counters { return e.counters }

// Run 主循环。返回后账本与计数可安全读取（无并发改写者）。
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.drainTicks()
		e.seedMarketEvents(ctx)

		ev, state := e.queue.Pop()
		switch state {
		case equeue.PopPoison:
			logger.Infof("[engine] 收到停机信号，退出主循环")
			return nil
		case equeue.PopEmpty:
			if e.done() {
				logger.Infof("[engine] 日历走完且队列排空，运行结束")
				return nil
			}
			e.counters.Heartbeats++
			e.sleep(ctx)
		case equeue.PopOK:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) sleep(ctx context.Context) {
	timer := time.NewTimer(e.cfg.Heartbeat)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// drainTicks 非阻塞排空时钟队列：回测 tick 抬高放行水位，
// 在线 tick 直接把日期追加进对应 symbol 的序列。
func (e *Engine) drainTicks() {
	for {
		tick, state := e.cfg.Ticks.Pop()
		switch state {
		case equeue.PopEmpty:
			return
		case equeue.PopPoison:
			e.clockEOF = true
			return
		case equeue.PopOK:
			if tick.Symbol == "" {
				if tick.Date > e.frontier {
					e.frontier = tick.Date
				}
				continue
			}
			st, ok := e.states[tick.Symbol]
			if !ok {
				logger.Warnf("[engine] 未知 symbol 的 tick: %s", tick.Symbol)
				continue
			}
			if n := len(st.dates); n > 0 && st.dates[n-1] >= tick.Date {
				continue // 时钟保证去重，这里兜底
			}
			st.dates = append(st.dates, tick.Date)
		}
	}
}

// released 判断 symbol 的下一个交易日是否已被时钟放行。
// 在线模式日期本身就来自 tick，恒为已放行。
func (e *Engine) released(st *symbolState) bool {
	next := st.cursor + 1
	if next >= len(st.dates) {
		return false
	}
	if !e.preloaded {
		return true
	}
	return st.dates[next] <= e.frontier && e.frontier != ""
}

// seedMarketEvents 为所有链空闲的 symbol 发出下一个 MarketEvent。
// 每 symbol 同时最多一条在途链，杜绝同一 symbol 两笔成交乱序落账。
func (e *Engine) seedMarketEvents(ctx context.Context) {
	for _, sym := range e.cfg.Symbols {
		st := e.states[sym]
		if st.chainBusy || !e.released(st) {
			continue
		}
		next := st.cursor + 1
		date := st.dates[next]
		prev := e.previousDate(ctx, sym, st, date)
		st.cursor = next
		st.chainBusy = true
		e.queue.Push(event.NewMarket(sym, date, prev))
	}
}

// previousDate 上一交易日：序列内直接取前一位，首个事件回源查询。
func (e *Engine) previousDate(ctx context.Context, sym string, st *symbolState, date string) string {
	if st.cursor >= 0 {
		return st.dates[st.cursor]
	}
	prev, err := e.cfg.Data.PreviousTradingDate(ctx, sym, date)
	if err != nil {
		logger.Warnf("[engine] %s 查询 %s 前一交易日失败: %v", sym, date, err)
		return ""
	}
	return prev
}

// done 判断运行是否自然结束：时钟收尾、无在途链、无已放行的待处理日期。
func (e *Engine) done() bool {
	if !e.clockEOF {
		return false
	}
	for _, sym := range e.cfg.Symbols {
		st := e.states[sym]
		if st.chainBusy || e.released(st) {
			return false
		}
	}
	return true
}

// dispatch 按事件种类穷举分发。未知种类是编程错误，直接 panic。
func (e *Engine) dispatch(ctx context.Context, ev event.Event) {
	switch ev.Kind {
	case event.KindMarket:
		e.onMarket(ctx, ev)
	case event.KindSignal:
		e.onSignal(ev)
	case event.KindOrder:
		e.onOrder(ctx, ev)
	case event.KindFill:
		e.onFill(ev)
	default:
		panic(fmt.Sprintf("engine: 未知事件种类 %d", ev.Kind))
	}
}

// onMarket 先逐日估值再调策略。行情取不到时降级本 tick，
// 不影响其他 symbol 也不终止运行。
func (e *Engine) onMarket(ctx context.Context, ev event.Event) {
	e.counters.Markets++

	lastClose := 0.0
	if prev := ev.Market.PreviousDate; prev != "" {
		bar, err := e.cfg.Data.Bar(ctx, ev.Symbol, prev)
		if err != nil {
			logger.Warnf("[engine] %s %s 估值数据缺失(%v)，本期降级", ev.Symbol, ev.Date, err)
			e.counters.Dropped++
			e.endChain(ev.Symbol)
			return
		}
		lastClose = bar.AdjClose
	}
	e.cfg.Ledger.ApplyMarket(ev, lastClose)

	sig, ok, err := e.cfg.Strategy.CalculateSignals(ctx, ev, e.cfg.Data)
	if err != nil {
		logger.Warnf("[engine] %s %s 策略计算失败: %v", ev.Symbol, ev.Date, err)
		e.endChain(ev.Symbol)
		return
	}
	if !ok {
		e.endChain(ev.Symbol)
		return
	}
	e.queue.Push(sig)
}

func (e *Engine) onSignal(ev event.Event) {
	e.counters.Signals++

	ord, ok, err := e.cfg.Ledger.GenerateOrder(ev)
	if err != nil {
		// 负数量等构造失败属于订单被拒，链终止。
		logger.Warnf("[engine] %s %s 订单被拒: %v", ev.Symbol, ev.Date, err)
		e.endChain(ev.Symbol)
		return
	}
	if !ok {
		e.endChain(ev.Symbol)
		return
	}
	e.queue.Push(ord)
}

func (e *Engine) onOrder(ctx context.Context, ev event.Event) {
	e.counters.Orders++

	fill, err := e.cfg.Simulator.Execute(ctx, ev)
	if err != nil {
		if errors.Is(err, execution.ErrUnknownPrice) {
			// 回测中历史价不会凭空出现，不重试；丢单已在撮合层记日志。
			e.counters.Dropped++
		} else {
			logger.Errorf("[engine] %s %s 撮合失败: %v", ev.Symbol, ev.Date, err)
		}
		e.endChain(ev.Symbol)
		return
	}
	e.queue.Push(fill)
}

func (e *Engine) onFill(ev event.Event) {
	e.counters.Fills++

	e.cfg.Ledger.ApplyFill(ev)
	if e.cfg.Persister != nil {
		e.cfg.Persister.SaveFill(e.cfg.RunID, ev)
		e.cfg.Persister.SaveSnapshot(e.cfg.RunID, ev.Date, e.cfg.Ledger.Snapshot())
	}
	e.endChain(ev.Symbol)
}

// endChain 当前因果链收尾，该 symbol 可以进入下一个交易日。
func (e *Engine) endChain(symbol string) {
	if st, ok := e.states[symbol]; ok {
		st.chainBusy = false
	}
}
