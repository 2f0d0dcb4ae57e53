package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xueqiuFixture = `{
  "data": {
    "symbol": "SH510300",
    "column": ["timestamp","volume","open","high","low","close","chg","percent"],
    "item": [
      [1554048000000, 1000, 3.80, 3.92, 3.79, 3.90, 0.10, 2.63],
      [1554134400000, 1200, 3.90, 3.99, 3.88, 3.95, 0.05, 1.28]
    ]
  },
  "error_code": 0,
  "error_description": ""
}`

func TestParseXueqiuKline(t *testing.T) {
	bars, err := parseXueqiuKline("SH510300", []byte(xueqiuFixture))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 3.90, bars[0].Close)
	assert.Equal(t, 3.90, bars[0].AdjClose)
	assert.Equal(t, 2.63, bars[0].Percent)
	assert.Equal(t, "SH510300", bars[0].Symbol)
	assert.NotEmpty(t, bars[0].Date)
}

func TestParseXueqiuKlineError(t *testing.T) {
	_, err := parseXueqiuKline("SH510300", []byte(`{"error_code":1,"error_description":"token expired"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestParseXueqiuKlineSymbolMismatch(t *testing.T) {
	_, err := parseXueqiuKline("SH600000", []byte(xueqiuFixture))
	assert.Error(t, err)
}

func TestXueqiuSourceBadBaseURL(t *testing.T) {
	src := NewXueqiuSource("://bad", "")
	_, err := src.FetchDaily(context.Background(), "SH510300", "2019-04-01", "2019-04-02")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base url")
}

func TestXueqiuSourceFetchDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/stock/chart/kline.json", r.URL.Path)
		assert.Equal(t, "SH510300", r.URL.Query().Get("symbol"))
		assert.Equal(t, "day", r.URL.Query().Get("period"))
		assert.Equal(t, "before", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(xueqiuFixture))
	}))
	defer srv.Close()

	src := NewXueqiuSource(srv.URL, "xq_a_token=test")
	bars, err := src.FetchDaily(context.Background(), "sh510300", "2019-04-01", "2019-04-02")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}
