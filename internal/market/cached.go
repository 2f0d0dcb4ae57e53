package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tide/internal/logger"

	"golang.org/x/time/rate"
)

// CachedProviderConfig 配置读穿缓存。
type CachedProviderConfig struct {
	Store           *Store
	Source          Source
	RateLimitPerMin int
	MaxAttempts     int           // 单次远端调用的最大尝试次数（含首次）
	RetryBackoff    time.Duration // 首次重试等待，之后指数退避
	CallTimeout     time.Duration // 单次远端调用超时
}

// CachedProvider 实现 Provider：本地 Store 优先，缺数据时经限流、
// 超时、有界重试地回源补齐。远端不可用只降级当前调用，不影响其他 symbol。
type CachedProvider struct {
	store   *Store
	source  Source
	limiter *rate.Limiter

	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
}

func NewCachedProvider(cfg CachedProviderConfig) (*CachedProvider, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &CachedProvider{
		store:       cfg.Store,
		source:      cfg.Source,
		limiter:     rate.NewLimiter(perSec, 1),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		timeout:     timeout,
	}, nil
}

// EnsureRange 预热 [start, end] 区间：本地已覆盖则直接返回，否则回源补齐。
func (p *CachedProvider) EnsureRange(ctx context.Context, symbol, start, end string) error {
	m, err := p.store.Manifest(ctx, symbol)
	if err != nil {
		return err
	}
	if m.Rows > 0 && m.MinDate <= start && m.MaxDate >= end {
		return nil
	}
	return p.fetchInto(ctx, symbol, start, end)
}

func (p *CachedProvider) TradingDatesSince(ctx context.Context, symbol, minDate string) ([]string, error) {
	dates, err := p.store.Dates(ctx, symbol, minDate)
	if err != nil {
		return nil, err
	}
	if len(dates) > 0 {
		return dates, nil
	}
	today := time.Now().Format("2006-01-02")
	if err := p.fetchInto(ctx, symbol, minDate, today); err != nil {
		return nil, err
	}
	return p.store.Dates(ctx, symbol, minDate)
}

func (p *CachedProvider) PreviousTradingDate(ctx context.Context, symbol, date string) (string, error) {
	prev, err := p.store.PreviousDate(ctx, symbol, date)
	if err != nil || prev != "" {
		return prev, err
	}
	if p.source == nil {
		return "", nil
	}
	// 缺前置数据时回看两年，够任何均线窗口使用。
	from, perr := time.Parse("2006-01-02", date)
	if perr != nil {
		return "", fmt.Errorf("date 无效: %w", perr)
	}
	if err := p.fetchInto(ctx, symbol, from.AddDate(-2, 0, 0).Format("2006-01-02"), date); err != nil {
		return "", err
	}
	return p.store.PreviousDate(ctx, symbol, date)
}

func (p *CachedProvider) Bar(ctx context.Context, symbol, date string) (Bar, error) {
	b, err := p.store.Bar(ctx, symbol, date)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNoData) || p.source == nil {
		return Bar{}, err
	}
	if ferr := p.fetchInto(ctx, symbol, date, date); ferr != nil {
		return Bar{}, ferr
	}
	return p.store.Bar(ctx, symbol, date)
}

func (p *CachedProvider) Features(ctx context.Context, symbol, date string) (Features, error) {
	b, err := p.Bar(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return Features{
		"open":      b.Open,
		"high":      b.High,
		"low":       b.Low,
		"close":     b.Close,
		"adj_close": b.AdjClose,
		"volume":    b.Volume,
		"chg":       b.Chg,
		"percent":   b.Percent,
	}, nil
}

// TailBars 透传本地历史窗口（策略取均线样本用）。
func (p *CachedProvider) TailBars(ctx context.Context, symbol, date string, n int) ([]Bar, error) {
	return p.store.TailBars(ctx, symbol, date, n)
}

// fetchInto 带限流+超时+有界重试地回源并写库。
func (p *CachedProvider) fetchInto(ctx context.Context, symbol, start, end string) error {
	if p.source == nil {
		return fmt.Errorf("%w: 未配置数据源", ErrProviderUnavailable)
	}
	var lastErr error
	wait := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		bars, err := p.source.FetchDaily(callCtx, symbol, start, end)
		cancel()
		if err == nil {
			if _, ierr := p.store.InsertBars(ctx, symbol, bars); ierr != nil {
				return ierr
			}
			return nil
		}
		lastErr = err
		logger.Warnf("[market] %s 拉取 %s~%s 第 %d 次失败: %v", symbol, start, end, attempt, err)
		if attempt == p.maxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
	return fmt.Errorf("%w: %s (%v)", ErrProviderUnavailable, p.source.Name(), lastErr)
}
