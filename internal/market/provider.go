package market

import (
	"context"
	"errors"
)

var (
	// ErrNoData 表示请求的 symbol/date 没有任何可用行情。
	ErrNoData = errors.New("market: no data for requested symbol/date")
	// ErrProviderUnavailable 表示远端数据源暂时不可用（重试耗尽后返回）。
	ErrProviderUnavailable = errors.New("market: provider unavailable")
)

// Provider 是引擎依赖的行情边界。所有调用都带 ctx，实现方必须保证有界阻塞。
type Provider interface {
	// PreviousTradingDate 返回 date 之前最近的交易日；不存在时返回 ("", nil)。
	PreviousTradingDate(ctx context.Context, symbol, date string) (string, error)
	// TradingDatesSince 返回 minDate（含）起的升序交易日序列。
	TradingDatesSince(ctx context.Context, symbol, minDate string) ([]string, error)
	// Bar 返回指定交易日的日 K。缺数据时返回 ErrNoData。
	Bar(ctx context.Context, symbol, date string) (Bar, error)
	// Features 返回策略可见的扩展特征，核心不解释内容。
	Features(ctx context.Context, symbol, date string) (Features, error)
}

// Source 统一不同远端（雪球/币安）的日 K 拉取行为。
type Source interface {
	// FetchDaily 拉取 [startDate, endDate] 的日 K（升序）。
	FetchDaily(ctx context.Context, symbol, startDate, endDate string) ([]Bar, error)
	Name() string
}
