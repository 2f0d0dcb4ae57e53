// Package app 负责应用级编排：加载配置→初始化依赖→启动服务或执行单次回测。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tide/internal/config"
	"tide/internal/config/loader"
	"tide/internal/engine"
	"tide/internal/logger"
	"tide/internal/market"
	"tide/internal/report"
	"tide/internal/server"
	"tide/internal/store/gormstore"
)

// App 持有全部已初始化的依赖。
type App struct {
	cfg      *config.Config
	provider *market.CachedProvider
	barStore *market.Store
	runStore *gormstore.GormStore
	profiles *loader.ProfileLoader
	manager  *server.Manager
	http     *server.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.Log.Level)

	barStore, err := market.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("行情缓存初始化失败: %w", err)
	}
	source, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := market.NewCachedProvider(market.CachedProviderConfig{
		Store:           barStore,
		Source:          source,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
	})
	if err != nil {
		return nil, err
	}

	runStore, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("运行库初始化失败: %w", err)
	}

	var profiles *loader.ProfileLoader
	if cfg.Profile != "" {
		profiles, err = loader.NewProfileLoader(cfg.Profile)
		if err != nil {
			return nil, err
		}
	}

	manager, err := server.NewManager(server.ManagerConfig{
		Data:      provider,
		Store:     runStore,
		ChartsDir: cfg.Store.ChartsDir,
		Snapshots: cfg.Engine.SnapshotsEnabled,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		provider: provider,
		barStore: barStore,
		runStore: runStore,
		profiles: profiles,
		manager:  manager,
	}
	if cfg.Server.Enabled {
		a.http, err = server.NewServer(server.Config{
			Addr:     cfg.Server.Addr,
			Manager:  manager,
			Store:    runStore,
			Profiles: profiles,
			Defaults: a.runDefaults(),
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func buildSource(cfg *config.Config) (market.Source, error) {
	switch cfg.Data.Source {
	case "xueqiu":
		return market.NewXueqiuSource(cfg.Data.XueqiuBaseURL, cfg.Data.XueqiuCookie), nil
	case "binance":
		return market.NewBinanceSource("", 0), nil
	default:
		return nil, fmt.Errorf("不支持的数据源: %q", cfg.Data.Source)
	}
}

func (a *App) runDefaults() server.RunDefaults {
	return server.RunDefaults{
		LotSize:       a.cfg.Engine.LotSize,
		Annualization: a.cfg.Engine.Annualization,
		Heartbeat:     time.Duration(a.cfg.Engine.HeartbeatMS) * time.Millisecond,
		PollInterval:  time.Duration(a.cfg.Engine.PollIntervalSec) * time.Second,
		CloseHour:     a.cfg.Engine.CloseHour,
	}
}

// Serve 启动 HTTP 服务，阻塞直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a.http == nil {
		return fmt.Errorf("server 未启用（server.enabled=false）")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.http.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		a.manager.StopAll()
		return nil
	})
	logger.Infof("✓ HTTP 服务监听 %s", a.cfg.Server.Addr)
	return g.Wait()
}

// RunProfile 按档案名同步执行一次回测，返回结果。
// name 为空时使用 default 档案。
func (a *App) RunProfile(ctx context.Context, name string) (*engine.Result, error) {
	if a.profiles == nil {
		return nil, fmt.Errorf("未配置策略档案（config.profile）")
	}
	var (
		p  loader.ProfileDefinition
		ok bool
	)
	if name == "" {
		p, ok = a.profiles.Snapshot().Default()
	} else {
		p, ok = a.profiles.Get(name)
	}
	if !ok {
		return nil, fmt.Errorf("档案不存在: %q", name)
	}
	return a.RunBacktest(ctx, a.backtestConfig(p))
}

func (a *App) backtestConfig(p loader.ProfileDefinition) engine.BacktestConfig {
	cfg := engine.BacktestConfig{
		Name:           p.Name,
		Symbols:        p.Symbols,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		InitialCapital: p.InitialCapital,
		LotSize:        p.LotSize,
		Annualization:  p.Annualization,
		Heartbeat:      time.Duration(a.cfg.Engine.HeartbeatMS) * time.Millisecond,
		Strategy:       p.Strategy,
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = a.cfg.Engine.LotSize
	}
	if cfg.Annualization <= 0 {
		cfg.Annualization = a.cfg.Engine.Annualization
	}
	if cfg.EndDate == "" {
		cfg.EndDate = time.Now().Format("2006-01-02")
	}
	return cfg
}

// RunOnlineProfile 按档案以在线模式长驻运行，直到 ctx 取消。
func (a *App) RunOnlineProfile(ctx context.Context, name string) (*engine.Result, error) {
	if a.profiles == nil {
		return nil, fmt.Errorf("未配置策略档案（config.profile）")
	}
	var (
		p  loader.ProfileDefinition
		ok bool
	)
	if name == "" {
		p, ok = a.profiles.Snapshot().Default()
	} else {
		p, ok = a.profiles.Get(name)
	}
	if !ok {
		return nil, fmt.Errorf("档案不存在: %q", name)
	}

	cfg := engine.OnlineConfig{
		Name:           p.Name,
		Symbols:        p.Symbols,
		InitialCapital: p.InitialCapital,
		LotSize:        p.LotSize,
		Annualization:  p.Annualization,
		Heartbeat:      time.Duration(a.cfg.Engine.HeartbeatMS) * time.Millisecond,
		PollInterval:   time.Duration(a.cfg.Engine.PollIntervalSec) * time.Second,
		CloseHour:      a.cfg.Engine.CloseHour,
		Strategy:       p.Strategy,
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = a.cfg.Engine.LotSize
	}
	if cfg.Annualization <= 0 {
		cfg.Annualization = a.cfg.Engine.Annualization
	}

	var persister engine.Persister
	if a.cfg.Engine.SnapshotsEnabled {
		persister = gormstore.NewAsyncPersister(a.runStore)
	}
	ol, err := engine.NewOnline(cfg, a.provider, persister)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		ol.Stop()
	}()
	// ctx 取消（Ctrl-C）是正常收尾路径，不当错误。
	res, err := ol.Run(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	if err := a.runStore.SaveRun(context.Background(), res); err != nil {
		logger.Errorf("[app] 结果落库失败: %v", err)
	}
	return res, nil
}

// RunBacktest 同步执行一次回测：跑完落库、出图、打摘要。
func (a *App) RunBacktest(ctx context.Context, cfg engine.BacktestConfig) (*engine.Result, error) {
	var persister engine.Persister
	if a.cfg.Engine.SnapshotsEnabled {
		persister = gormstore.NewAsyncPersister(a.runStore)
	}
	bt, err := engine.NewBacktest(cfg, a.provider, persister)
	if err != nil {
		return nil, err
	}
	res, err := bt.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.runStore.SaveRun(ctx, res); err != nil {
		logger.Errorf("[app] 结果落库失败: %v", err)
	}
	if a.cfg.Store.ChartsDir != "" && len(res.Summary.EquityCurve) > 0 {
		if path, err := report.WriteEquityHTML(res, a.cfg.Store.ChartsDir); err != nil {
			logger.Warnf("[app] 权益曲线出图失败: %v", err)
		} else {
			logger.Infof("[app] 权益曲线: %s", path)
		}
	}

	s := res.Summary
	logger.Infof("[app] %s 总收益 %.2f%% 夏普 %.2f 最大回撤 %.2f%%（持续 %d 日）",
		res.Name, s.TotalReturnPct, s.SharpeRatio, s.MaxDrawdown*100, s.DrawdownDuration)
	return res, nil
}

// Close 释放持久资源。
func (a *App) Close() error {
	var firstErr error
	if a.barStore != nil {
		if err := a.barStore.Close(); err != nil {
			firstErr = err
		}
	}
	if a.runStore != nil {
		if err := a.runStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
