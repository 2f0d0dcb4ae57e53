package market

// Bar 单个交易日的 OHLCV 汇总。AdjClose 为前复权收盘价，
// 组合估值一律使用 AdjClose。
type Bar struct {
	Symbol   string  `json:"symbol"`
	Date     string  `json:"date"` // event.DateLayout 格式
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	AdjClose float64 `json:"adj_close"`
	Chg      float64 `json:"chg"`     // 涨跌额
	Percent  float64 `json:"percent"` // 涨跌幅
}

// Features 提供给策略的扩展特征，内容由数据源决定，核心引擎不做解释。
type Features map[string]float64
