package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tide/internal/clock"
	"tide/internal/equeue"
	"tide/internal/execution"
	"tide/internal/logger"
	"tide/internal/portfolio"
	"tide/internal/strategy"
)

// Result 一次运行的产出，供持久化与报表使用。
type Result struct {
	RunID      string            `json:"run_id"`
	Name       string            `json:"name"`
	Mode       string            `json:"mode"`
	Symbols    []string          `json:"symbols"`
	StartDate  string            `json:"start_date"`
	EndDate    string            `json:"end_date"`
	Summary    portfolio.Summary `json:"summary"`
	Counters   Counters          `json:"counters"`
	FinishedAt time.Time         `json:"finished_at"`
}

// BacktestConfig 一次回测的全部参数。
type BacktestConfig struct {
	Name           string
	Symbols        []string
	StartDate      string
	EndDate        string
	InitialCapital float64
	LotSize        int
	Annualization  int
	Heartbeat      time.Duration
	Strategy       strategy.Spec
	Commission     execution.CommissionPolicy // 为空用默认分档费率
}

// Backtest 把时钟、引擎、账本、撮合组装成一次可控的回测运行。
type Backtest struct {
	cfg       BacktestConfig
	data      DataHandler
	persister Persister

	runID  string
	clock  *clock.BacktestClock
	engine *Engine
	ledger *portfolio.Ledger
}

func NewBacktest(cfg BacktestConfig, data DataHandler, persister Persister) (*Backtest, error) {
	if cfg.StartDate == "" || cfg.EndDate == "" || cfg.StartDate > cfg.EndDate {
		return nil, fmt.Errorf("backtest: 日期区间无效 [%s, %s]", cfg.StartDate, cfg.EndDate)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("backtest: 初始资金必须为正")
	}
	return &Backtest{
		cfg:       cfg,
		data:      data,
		persister: persister,
		runID:     uuid.NewString(),
	}, nil
}

func (b *Backtest) RunID() string { return b.runID }

// Gate 暴露时钟门闸，运行中可 pause/resume/stop。
func (b *Backtest) Gate() *clock.Gate {
	if b.clock == nil {
		return nil
	}
	return b.clock.Gate()
}

// Stop 终止运行：停时钟、停引擎。幂等。
func (b *Backtest) Stop() {
	if b.clock != nil {
		b.clock.Gate().Stop()
	}
	if b.engine != nil {
		b.engine.Stop()
	}
}

// Run 执行回测直到日历走完或被终止，返回绩效结果。
func (b *Backtest) Run(ctx context.Context) (*Result, error) {
	strat, err := strategy.Build(b.cfg.Strategy)
	if err != nil {
		return nil, err
	}

	// 预热本地数据：多拉一年历史，均线类策略的样本窗口够用。
	warmupStart, err := shiftDate(b.cfg.StartDate, -1, 0, 0)
	if err != nil {
		return nil, err
	}
	g, warmCtx := errgroup.WithContext(ctx)
	for _, sym := range b.cfg.Symbols {
		sym := sym
		g.Go(func() error {
			return b.data.EnsureRange(warmCtx, sym, warmupStart, b.cfg.EndDate)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warnf("[backtest] 数据预热未完成: %v（继续，缺口按需回源）", err)
	}

	// 每 symbol 的交易日历 + 全 symbol 的并集日历（驱动时钟）。
	perSymbol := make(map[string][]string, len(b.cfg.Symbols))
	seen := make(map[string]struct{})
	var union []string
	for _, sym := range b.cfg.Symbols {
		dates, err := b.data.TradingDatesSince(ctx, sym, b.cfg.StartDate)
		if err != nil {
			return nil, fmt.Errorf("backtest: %s 交易日历获取失败: %w", sym, err)
		}
		var window []string
		for _, d := range dates {
			if d > b.cfg.EndDate {
				break
			}
			window = append(window, d)
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				union = append(union, d)
			}
		}
		if len(window) == 0 {
			return nil, fmt.Errorf("backtest: %s 在 [%s, %s] 内无交易日", sym, b.cfg.StartDate, b.cfg.EndDate)
		}
		perSymbol[sym] = window
	}
	sort.Strings(union)

	b.ledger = portfolio.NewLedger(portfolio.Config{
		Symbols:        b.cfg.Symbols,
		StartDate:      b.cfg.StartDate,
		InitialCapital: b.cfg.InitialCapital,
		LotSize:        b.cfg.LotSize,
		Annualization:  b.cfg.Annualization,
	})
	sim := execution.NewSimulator(execution.NewProviderQuoter(b.data), b.cfg.Commission)

	ticks := equeue.New[clock.Tick]()
	b.clock = clock.NewBacktestClock(union, ticks)

	eng, err := New(Config{
		RunID:     b.runID,
		Symbols:   b.cfg.Symbols,
		Heartbeat: b.cfg.Heartbeat,
		Data:      b.data,
		Strategy:  strat,
		Ledger:    b.ledger,
		Simulator: sim,
		Ticks:     ticks,
		Persister: b.persister,
	})
	if err != nil {
		return nil, err
	}
	b.engine = eng
	for sym, dates := range perSymbol {
		eng.PreloadDates(sym, dates)
	}

	logger.Infof("[backtest] %s 启动: %v [%s, %s] 共 %d 个交易日",
		b.runID, b.cfg.Symbols, b.cfg.StartDate, b.cfg.EndDate, len(union))

	runGroup, runCtx := errgroup.WithContext(ctx)
	runGroup.Go(func() error { return b.clock.Run(runCtx) })
	runGroup.Go(func() error { return eng.Run(runCtx) })
	if err := runGroup.Wait(); err != nil && err != clock.ErrStopped {
		return nil, err
	}

	if b.persister != nil {
		if err := b.persister.Flush(); err != nil {
			logger.Warnf("[backtest] 快照落库未完成: %v", err)
		}
	}

	res := &Result{
		RunID:      b.runID,
		Name:       b.cfg.Name,
		Mode:       "backtest",
		Symbols:    b.cfg.Symbols,
		StartDate:  b.cfg.StartDate,
		EndDate:    b.cfg.EndDate,
		Summary:    b.ledger.Statistics(),
		Counters:   eng.Counters(),
		FinishedAt: time.Now(),
	}
	c := res.Counters
	logger.Infof("[backtest] %s 完成: signals=%d orders=%d fills=%d dropped=%d",
		b.runID, c.Signals, c.Orders, c.Fills, c.Dropped)
	return res, nil
}

func shiftDate(date string, years, months, days int) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("日期无效 %q: %w", date, err)
	}
	return t.AddDate(years, months, days).Format("2006-01-02"), nil
}
