// Package report 把运行结果渲染成权益曲线图：go-echarts 出 HTML，
// 需要图片时用无头浏览器截成 PNG。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"tide/internal/engine"
)

const (
	colorBackground = "#0f172a"
	colorText       = "#e5e7eb"
	colorTextDim    = "#9ca3af"
	colorEquity     = "#3b82f6"
	colorDrawdown   = "#f87171"

	chartWidthPx  = 1400
	chartHeightPx = 480
)

// BuildEquityHTML 渲染权益曲线 + 回撤两张图的单页 HTML。
func BuildEquityHTML(res *engine.Result) ([]byte, error) {
	if res == nil || len(res.Summary.EquityCurve) == 0 {
		return nil, fmt.Errorf("report: 权益曲线为空")
	}
	curve := res.Summary.EquityCurve

	xAxis := make([]string, len(curve))
	equity := make([]opts.LineData, len(curve))
	drawdown := make([]opts.LineData, len(curve))
	for i, p := range curve {
		xAxis[i] = p.Date
		equity[i] = opts.LineData{Value: p.Curve}
		drawdown[i] = opts.LineData{Value: -p.Drawdown * 100}
	}

	title := res.Name
	if title == "" {
		title = res.RunID
	}
	subtitle := fmt.Sprintf("收益 %.2f%% | Sharpe %.2f | 最大回撤 %.2f%% (%d 日)",
		res.Summary.TotalReturnPct, res.Summary.SharpeRatio,
		res.Summary.MaxDrawdown*100, res.Summary.DrawdownDuration)

	equityLine := charts.NewLine()
	equityLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("权益曲线 %s", title),
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorText, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextDim},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextDim},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextDim},
		}),
	)
	equityLine.SetXAxis(xAxis)
	equityLine.AddSeries("净值", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	ddLine := charts.NewLine()
	ddLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          "260px",
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "回撤 (%)",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorText},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextDim},
		}),
	)
	ddLine.SetXAxis(xAxis)
	ddLine.AddSeries("drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}),
	)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityLine, ddLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteEquityHTML 渲染并写到 dir/<run_id>.html，返回文件路径。
func WriteEquityHTML(res *engine.Result, dir string) (string, error) {
	html, err := BuildEquityHTML(res)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.html", res.RunID))
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测无头浏览器是否可用，结果缓存。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// ErrHeadlessUnavailable 表示本机起不了无头浏览器，PNG 渲染不可用。
var ErrHeadlessUnavailable = errors.New("report: headless browser unavailable")

// RenderEquityPNG 把权益曲线页截成 PNG。机器上没有浏览器时返回
// ErrHeadlessUnavailable，调用方应降级为只出 HTML。
func RenderEquityPNG(ctx context.Context, res *engine.Result) ([]byte, error) {
	html, err := BuildEquityHTML(res)
	if err != nil {
		return nil, err
	}
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeadlessUnavailable, err)
	}
	return renderHTMLToPNG(ctx, html, chartWidthPx, chartHeightPx+320)
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 90),
	}
	if err := chromedp.Run(timeoutCtx, tasks); err != nil {
		return nil, err
	}
	return screenshot, nil
}
