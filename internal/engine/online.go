package engine

import (
	"context"
	"fmt"
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

// OnlineConfig 在线（实盘影子）运行参数。
type OnlineConfig struct {
	Name           string
	Symbols        []string
	InitialCapital float64
	LotSize        int
	Annualization  int
	Heartbeat      time.Duration
	PollInterval   time.Duration
	CloseHour      int
	Strategy       strategy.Spec
	Commission     execution.CommissionPolicy
	NowFn          func() time.Time // 测试注入，生产留空
}

// Online 长驻运行：时钟按墙钟产出收盘 tick，引擎逐日跟进，
// 直到 Stop 或 ctx 取消。
type Online struct {
	cfg       OnlineConfig
	data      DataHandler
	persister Persister

	runID  string
	clock  *clock.OnlineClock
	engine *Engine
	ledger *portfolio.Ledger
}

func NewOnline(cfg OnlineConfig, data DataHandler, persister Persister) (*Online, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("online: symbol 列表不能为空")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("online: 初始资金必须为正")
	}
	return &Online{
		cfg:       cfg,
		data:      data,
		persister: persister,
		runID:     uuid.NewString(),
	}, nil
}

func (o *Online) RunID() string { return o.runID }

func (o *Online) Gate() *clock.Gate {
	if o.clock == nil {
		return nil
	}
	return o.clock.Gate()
}

// Stop 终止运行。幂等。
func (o *Online) Stop() {
	if o.clock != nil {
		o.clock.Gate().Stop()
	}
	if o.engine != nil {
		o.engine.Stop()
	}
}

// Run 启动在线循环。正常终止（Stop）返回当前绩效结果。
func (o *Online) Run(ctx context.Context) (*Result, error) {
	strat, err := strategy.Build(o.cfg.Strategy)
	if err != nil {
		return nil, err
	}

	startDate := time.Now().Format("2006-01-02")
	if o.cfg.NowFn != nil {
		startDate = o.cfg.NowFn().Format("2006-01-02")
	}
	o.ledger = portfolio.NewLedger(portfolio.Config{
		Symbols:        o.cfg.Symbols,
		StartDate:      startDate,
		InitialCapital: o.cfg.InitialCapital,
		LotSize:        o.cfg.LotSize,
		Annualization:  o.cfg.Annualization,
	})
	sim := execution.NewSimulator(execution.NewProviderQuoter(o.data), o.cfg.Commission)

	ticks := equeue.New[clock.Tick]()
	o.clock = clock.NewOnlineClock(clock.OnlineClockConfig{
		Symbols:      o.cfg.Symbols,
		PollInterval: o.cfg.PollInterval,
		CloseHour:    o.cfg.CloseHour,
		NowFn:        o.cfg.NowFn,
	}, ticks)

	eng, err := New(Config{
		RunID:     o.runID,
		Symbols:   o.cfg.Symbols,
		Heartbeat: o.cfg.Heartbeat,
		Data:      o.data,
		Strategy:  strat,
		Ledger:    o.ledger,
		Simulator: sim,
		Ticks:     ticks,
		Persister: o.persister,
	})
	if err != nil {
		return nil, err
	}
	o.engine = eng

	logger.Infof("[online] %s 启动: %v 起始日 %s", o.runID, o.cfg.Symbols, startDate)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.clock.Run(runCtx) })
	g.Go(func() error { return eng.Run(runCtx) })
	if err := g.Wait(); err != nil && err != clock.ErrStopped {
		return nil, err
	}

	if o.persister != nil {
		if err := o.persister.Flush(); err != nil {
			logger.Warnf("[online] 快照落库未完成: %v", err)
		}
	}

	return &Result{
		RunID:      o.runID,
		Name:       o.cfg.Name,
		Mode:       "online",
		Symbols:    o.cfg.Symbols,
		StartDate:  startDate,
		EndDate:    time.Now().Format("2006-01-02"),
		Summary:    o.ledger.Statistics(),
		Counters:   eng.Counters(),
		FinishedAt: time.Now(),
	}, nil
}
