package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// XueqiuSource 基于雪球 v5 kline 接口拉取 A 股/ETF 日线（前复权）。
type XueqiuSource struct {
	baseURL string
	cookie  string
	client  *http.Client
}

func NewXueqiuSource(base, cookie string) *XueqiuSource {
	if base == "" {
		base = "https://stock.xueqiu.com"
	}
	return &XueqiuSource{
		baseURL: base,
		cookie:  cookie,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (x *XueqiuSource) Name() string { return "xueqiu" }

func (x *XueqiuSource) FetchDaily(ctx context.Context, symbol, startDate, endDate string) ([]Bar, error) {
	if symbol == "" || startDate == "" || endDate == "" {
		return nil, fmt.Errorf("symbol/start/end 不能为空")
	}
	begin, err := time.ParseInLocation("2006-01-02", startDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("start date 无效: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("end date 无效: %w", err)
	}
	// 与网页端行为一致：begin 偏移到当日 00:01，end 到当日 23:59。
	beginMs := begin.Add(time.Minute).UnixMilli()
	endMs := end.Add(24*time.Hour - time.Minute).UnixMilli()

	u, err := url.Parse(x.baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url 无效 %q: %w", x.baseURL, err)
	}
	u.Path = "/v5/stock/chart/kline.json"
	q := u.Query()
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("begin", strconv.FormatInt(beginMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("period", "day")
	q.Set("type", "before")
	q.Set("indicator", "kline")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_3) AppleWebKit/605.1.15")
	httpReq.Header.Set("Referer", "https://xueqiu.com/S/"+strings.ToUpper(symbol))
	if x.cookie != "" {
		httpReq.Header.Set("Cookie", x.cookie)
	}
	resp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("雪球返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseXueqiuKline(strings.ToUpper(symbol), body)
}

// parseXueqiuKline 按响应自带的 column 数组定位字段，列顺序变化时不受影响。
func parseXueqiuKline(symbol string, body []byte) ([]Bar, error) {
	root := gjson.ParseBytes(body)
	if code := root.Get("error_code"); code.Exists() && code.Int() != 0 {
		return nil, fmt.Errorf("雪球接口错误: %s", root.Get("error_description").String())
	}
	data := root.Get("data")
	if !data.Exists() {
		return nil, fmt.Errorf("雪球响应缺少 data 节点")
	}
	if got := data.Get("symbol").String(); got != "" && !strings.EqualFold(got, symbol) {
		return nil, fmt.Errorf("返回 symbol 与请求不一致: %s != %s", got, symbol)
	}
	idx := make(map[string]int)
	for i, col := range data.Get("column").Array() {
		idx[col.String()] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("雪球响应缺少列: %s", required)
		}
	}
	at := func(row []gjson.Result, col string) float64 {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return 0
		}
		return row[i].Float()
	}
	var out []Bar
	for _, item := range data.Get("item").Array() {
		row := item.Array()
		ts := int64(at(row, "timestamp"))
		if ts <= 0 {
			continue
		}
		closePx := at(row, "close")
		out = append(out, Bar{
			Symbol:   symbol,
			Date:     time.UnixMilli(ts).Local().Format("2006-01-02"),
			Open:     at(row, "open"),
			High:     at(row, "high"),
			Low:      at(row, "low"),
			Close:    closePx,
			Volume:   at(row, "volume"),
			AdjClose: closePx, // type=before 已是前复权价
			Chg:      at(row, "chg"),
			Percent:  at(row, "percent"),
		})
	}
	return out, nil
}
