package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Snapshot 账本的结构化快照，用于持久化与断点恢复。
// 金额字段用十进制字符串，避免 JSON 浮点丢精度。
type Snapshot struct {
	Symbols        []string             `json:"symbols"`
	StartDate      string               `json:"start_date"`
	InitialCapital string               `json:"initial_capital"`
	LotSize        int                  `json:"lot_size"`
	Annualization  int                  `json:"annualization"`
	Cash           string               `json:"cash"`
	Commission     string               `json:"commission"`
	Positions      map[string]int       `json:"positions"`
	MarketValue    map[string]float64   `json:"market_value"`
	LastPrice      map[string]float64   `json:"last_price"`
	TotalEquity    float64              `json:"total_equity"`
	PositionHist   []PositionRow        `json:"position_hist"`
	HoldingHist    []holdingRowSnapshot `json:"holding_hist"`
}

type holdingRowSnapshot struct {
	Date        string             `json:"date"`
	Cash        string             `json:"cash"`
	Commission  string             `json:"commission"`
	MarketValue map[string]float64 `json:"market_value"`
	TotalEquity float64            `json:"total_equity"`
}

// Snapshot 导出当前账本的完整快照。
func (l *Ledger) Snapshot() Snapshot {
	hist := make([]holdingRowSnapshot, 0, len(l.holdingHist))
	for _, h := range l.holdingHist {
		hist = append(hist, holdingRowSnapshot{
			Date:        h.Date,
			Cash:        h.Cash.String(),
			Commission:  h.Commission.String(),
			MarketValue: copyMarket(h.MarketValue),
			TotalEquity: h.TotalEquity,
		})
	}
	posHist := make([]PositionRow, 0, len(l.positionHist))
	for _, p := range l.positionHist {
		posHist = append(posHist, PositionRow{Date: p.Date, Positions: copyPositions(p.Positions)})
	}
	return Snapshot{
		Symbols:        append([]string(nil), l.symbols...),
		StartDate:      l.startDate,
		InitialCapital: l.initialCapital.String(),
		LotSize:        l.lotSize,
		Annualization:  l.annualization,
		Cash:           l.curCash.String(),
		Commission:     l.curCommission.String(),
		Positions:      copyPositions(l.curPositions),
		MarketValue:    copyMarket(l.curMarket),
		LastPrice:      copyMarket(l.lastPrice),
		TotalEquity:    l.recomputeTotal(),
		PositionHist:   posHist,
		HoldingHist:    hist,
	}
}

// Restore 从快照重建账本，恢复后的当前持仓/资金状态与导出时一致。
func Restore(s Snapshot) (*Ledger, error) {
	initial, err := decimal.NewFromString(s.InitialCapital)
	if err != nil {
		return nil, fmt.Errorf("快照 initial_capital 无效: %w", err)
	}
	cash, err := decimal.NewFromString(s.Cash)
	if err != nil {
		return nil, fmt.Errorf("快照 cash 无效: %w", err)
	}
	commission, err := decimal.NewFromString(s.Commission)
	if err != nil {
		return nil, fmt.Errorf("快照 commission 无效: %w", err)
	}

	l := &Ledger{
		symbols:        append([]string(nil), s.Symbols...),
		startDate:      s.StartDate,
		initialCapital: initial,
		lotSize:        s.LotSize,
		annualization:  s.Annualization,
		curCash:        cash,
		curCommission:  commission,
		curPositions:   copyPositions(s.Positions),
		curMarket:      copyMarket(s.MarketValue),
		lastPrice:      copyMarket(s.LastPrice),
	}
	if l.lotSize <= 0 {
		l.lotSize = defaultLotSize
	}
	if l.annualization <= 0 {
		l.annualization = PeriodsEquityDaily
	}
	for _, p := range s.PositionHist {
		l.positionHist = append(l.positionHist, PositionRow{Date: p.Date, Positions: copyPositions(p.Positions)})
	}
	for _, h := range s.HoldingHist {
		rowCash, err := decimal.NewFromString(h.Cash)
		if err != nil {
			return nil, fmt.Errorf("快照 %s cash 无效: %w", h.Date, err)
		}
		rowCommission, err := decimal.NewFromString(h.Commission)
		if err != nil {
			return nil, fmt.Errorf("快照 %s commission 无效: %w", h.Date, err)
		}
		l.holdingHist = append(l.holdingHist, HoldingRow{
			Date:        h.Date,
			Cash:        rowCash,
			Commission:  rowCommission,
			MarketValue: copyMarket(h.MarketValue),
			TotalEquity: h.TotalEquity,
		})
	}
	return l, nil
}
