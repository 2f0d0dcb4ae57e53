package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/engine"
	"tide/internal/portfolio"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		RunID: "run-report",
		Name:  "双均线回测",
		Mode:  "backtest",
		Summary: portfolio.Summary{
			TotalReturnPct:   12.5,
			SharpeRatio:      1.4,
			MaxDrawdown:      0.08,
			DrawdownDuration: 5,
			EquityCurve: []portfolio.EquityPoint{
				{Date: "2019-04-01", Total: 1000, Curve: 1.0},
				{Date: "2019-04-02", Total: 1050, Return: 0.05, Curve: 1.05, Drawdown: 0},
				{Date: "2019-04-03", Total: 1020, Return: -0.0286, Curve: 1.02, Drawdown: 0.0286},
			},
		},
	}
}

func TestBuildEquityHTML(t *testing.T) {
	html, err := BuildEquityHTML(sampleResult())
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "2019-04-02")
	assert.Contains(t, s, "净值")
	assert.Contains(t, s, "drawdown")
}

func TestBuildEquityHTMLEmptyCurve(t *testing.T) {
	_, err := BuildEquityHTML(&engine.Result{RunID: "x"})
	assert.Error(t, err)
}

func TestRenderEquityPNGEmptyCurve(t *testing.T) {
	// 输入校验先于浏览器探测，没装 Chrome 的机器也能跑到这条错误路径。
	_, err := RenderEquityPNG(context.Background(), &engine.Result{RunID: "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrHeadlessUnavailable))
}

func TestRenderEquityPNG(t *testing.T) {
	if err := EnsureHeadlessAvailable(context.Background()); err != nil {
		t.Skipf("无头浏览器不可用: %v", err)
	}
	png, err := RenderEquityPNG(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

func TestWriteEquityHTML(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteEquityHTML(sampleResult(), filepath.Join(dir, "charts"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "run-report.html", filepath.Base(path))
}
