package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约日线，
// 用于加密资产（年化周期 365）的回测/在线行情。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) FetchDaily(ctx context.Context, symbol, startDate, endDate string) ([]Bar, error) {
	if symbol == "" || startDate == "" || endDate == "" {
		return nil, fmt.Errorf("symbol/start/end 不能为空")
	}
	start, err := time.ParseInLocation("2006-01-02", startDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("start date 无效: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("end date 无效: %w", err)
	}
	klines, err := b.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval("1d").
		StartTime(start.UnixMilli()).
		EndTime(end.Add(24*time.Hour - time.Millisecond).UnixMilli()).
		Limit(1500).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Bar, 0, len(klines))
	upper := strings.ToUpper(symbol)
	for _, k := range klines {
		closePx := parseFloat(k.Close)
		out = append(out, Bar{
			Symbol:   upper,
			Date:     time.UnixMilli(k.OpenTime).UTC().Format("2006-01-02"),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    closePx,
			Volume:   parseFloat(k.Volume),
			AdjClose: closePx,
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
