package model

import (
	"gorm.io/datatypes"
)

// RunModel 一次回测/在线运行的档案与绩效汇总。
type RunModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	RunID            string         `gorm:"column:run_id;uniqueIndex"`
	Name             string         `gorm:"column:name"`
	Mode             string         `gorm:"column:mode"`
	SymbolsJSON      datatypes.JSON `gorm:"column:symbols_json;type:TEXT"`
	StartDate        string         `gorm:"column:start_date"`
	EndDate          string         `gorm:"column:end_date"`
	TotalReturnPct   float64        `gorm:"column:total_return_pct"`
	SharpeRatio      float64        `gorm:"column:sharpe_ratio"`
	MaxDrawdown      float64        `gorm:"column:max_drawdown"`
	DrawdownDuration int            `gorm:"column:drawdown_duration"`
	CountersJSON     datatypes.JSON `gorm:"column:counters_json;type:TEXT"`
	EquityCurveJSON  datatypes.JSON `gorm:"column:equity_curve_json;type:TEXT"`
	CreatedAtUnix    int64          `gorm:"column:created_at"`
}

func (RunModel) TableName() string { return "runs" }

// SnapshotModel 成交后落库的账本快照镜像。内存账本是运行期权威，
// 这里只是可查询的副本。
type SnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	RunID         string         `gorm:"column:run_id;index:idx_snapshot_run,priority:1"`
	Date          string         `gorm:"column:date;index:idx_snapshot_run,priority:2"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (SnapshotModel) TableName() string { return "ledger_snapshots" }

// FillModel 逐笔成交记录。
type FillModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	RunID         string  `gorm:"column:run_id;index:idx_fill_run,priority:1"`
	Date          string  `gorm:"column:date;index:idx_fill_run,priority:2"`
	Symbol        string  `gorm:"column:symbol"`
	Direction     string  `gorm:"column:direction"`
	Quantity      int     `gorm:"column:quantity"`
	FillCost      float64 `gorm:"column:fill_cost"`
	Commission    float64 `gorm:"column:commission"`
	Venue         string  `gorm:"column:venue"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (FillModel) TableName() string { return "fills" }
