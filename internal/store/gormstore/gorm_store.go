// Package gormstore 用 Gorm + SQLite 持久化运行档案与账本快照。
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tide/internal/engine"
	"tide/internal/event"
	"tide/internal/portfolio"
	storemodel "tide/internal/store/model"
)

type runModel = storemodel.RunModel
type snapshotModel = storemodel.SnapshotModel
type fillModel = storemodel.FillModel

// GormStore 运行结果与快照的落库实现。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &snapshotModel{}, &fillModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给 HTTP 并发读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 落一条运行档案。同 run_id 重复保存会失败（档案不可变）。
func (s *GormStore) SaveRun(ctx context.Context, res *engine.Result) error {
	if res == nil {
		return nil
	}
	symbols, err := json.Marshal(res.Symbols)
	if err != nil {
		return err
	}
	counters, err := json.Marshal(res.Counters)
	if err != nil {
		return err
	}
	curve, err := json.Marshal(res.Summary.EquityCurve)
	if err != nil {
		return err
	}
	m := runModel{
		RunID:            res.RunID,
		Name:             res.Name,
		Mode:             res.Mode,
		SymbolsJSON:      datatypes.JSON(symbols),
		StartDate:        res.StartDate,
		EndDate:          res.EndDate,
		TotalReturnPct:   res.Summary.TotalReturnPct,
		SharpeRatio:      res.Summary.SharpeRatio,
		MaxDrawdown:      res.Summary.MaxDrawdown,
		DrawdownDuration: res.Summary.DrawdownDuration,
		CountersJSON:     datatypes.JSON(counters),
		EquityCurveJSON:  datatypes.JSON(curve),
		CreatedAtUnix:    time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// GetRun 按 run_id 取运行档案。
func (s *GormStore) GetRun(ctx context.Context, runID string) (*engine.Result, error) {
	var m runModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&m).Error; err != nil {
		return nil, err
	}
	return modelToResult(&m)
}

// ListRuns 按创建时间倒序列出最近的运行。
func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]*engine.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*engine.Result, 0, len(models))
	for i := range models {
		res, err := modelToResult(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func modelToResult(m *runModel) (*engine.Result, error) {
	res := &engine.Result{
		RunID:      m.RunID,
		Name:       m.Name,
		Mode:       m.Mode,
		StartDate:  m.StartDate,
		EndDate:    m.EndDate,
		FinishedAt: time.Unix(m.CreatedAtUnix, 0),
	}
	res.Summary.TotalReturnPct = m.TotalReturnPct
	res.Summary.SharpeRatio = m.SharpeRatio
	res.Summary.MaxDrawdown = m.MaxDrawdown
	res.Summary.DrawdownDuration = m.DrawdownDuration
	if len(m.SymbolsJSON) > 0 {
		if err := json.Unmarshal(m.SymbolsJSON, &res.Symbols); err != nil {
			return nil, fmt.Errorf("run %s symbols 解析失败: %w", m.RunID, err)
		}
	}
	if len(m.CountersJSON) > 0 {
		if err := json.Unmarshal(m.CountersJSON, &res.Counters); err != nil {
			return nil, fmt.Errorf("run %s counters 解析失败: %w", m.RunID, err)
		}
	}
	if len(m.EquityCurveJSON) > 0 {
		if err := json.Unmarshal(m.EquityCurveJSON, &res.Summary.EquityCurve); err != nil {
			return nil, fmt.Errorf("run %s equity curve 解析失败: %w", m.RunID, err)
		}
	}
	return res, nil
}

// SaveSnapshot 同步落一条账本快照。
func (s *GormStore) SaveSnapshot(ctx context.Context, runID, date string, snap portfolio.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m := snapshotModel{
		RunID:         runID,
		Date:          date,
		PayloadJSON:   datatypes.JSON(payload),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// SnapshotRecord 查询返回的快照条目。
type SnapshotRecord struct {
	RunID    string             `json:"run_id"`
	Date     string             `json:"date"`
	Snapshot portfolio.Snapshot `json:"snapshot"`
}

// SaveFill 同步落一笔成交。
func (s *GormStore) SaveFill(ctx context.Context, runID string, fill event.Event) error {
	if fill.Kind != event.KindFill {
		return fmt.Errorf("fill 事件种类不对: %s", fill.Kind)
	}
	m := fillModel{
		RunID:         runID,
		Date:          fill.Date,
		Symbol:        fill.Symbol,
		Direction:     fill.Fill.Direction.String(),
		Quantity:      fill.Fill.Quantity,
		FillCost:      fill.Fill.FillCost,
		Commission:    fill.Fill.Commission,
		Venue:         fill.Fill.Venue,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// FillRecord 查询返回的成交条目。
type FillRecord struct {
	RunID      string  `json:"run_id"`
	Date       string  `json:"date"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Quantity   int     `json:"quantity"`
	FillCost   float64 `json:"fill_cost"`
	Commission float64 `json:"commission"`
	Venue      string  `json:"venue"`
}

// ListFills 取某次运行的全部成交，按日期升序。
func (s *GormStore) ListFills(ctx context.Context, runID string) ([]FillRecord, error) {
	var models []fillModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("date ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]FillRecord, 0, len(models))
	for _, m := range models {
		out = append(out, FillRecord{
			RunID:      m.RunID,
			Date:       m.Date,
			Symbol:     m.Symbol,
			Direction:  m.Direction,
			Quantity:   m.Quantity,
			FillCost:   m.FillCost,
			Commission: m.Commission,
			Venue:      m.Venue,
		})
	}
	return out, nil
}

// ListSnapshots 取某次运行的全部快照，按日期升序。
func (s *GormStore) ListSnapshots(ctx context.Context, runID string) ([]SnapshotRecord, error) {
	var models []snapshotModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("date ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SnapshotRecord, 0, len(models))
	for _, m := range models {
		rec := SnapshotRecord{RunID: m.RunID, Date: m.Date}
		if err := json.Unmarshal(m.PayloadJSON, &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("快照 %s/%s 解析失败: %w", m.RunID, m.Date, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
