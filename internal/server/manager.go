// Package server 提供运行管理与 HTTP API。
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tide/internal/clock"
	"tide/internal/engine"
	"tide/internal/logger"
	"tide/internal/report"
	"tide/internal/store/gormstore"
)

// RunStatus 运行生命周期状态。
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusDone    RunStatus = "done"
	StatusFailed  RunStatus = "failed"
)

// RunJob 一次已提交运行的对外视图。
type RunJob struct {
	RunID       string         `json:"run_id"`
	Name        string         `json:"name"`
	Mode        string         `json:"mode"`
	Status      RunStatus      `json:"status"`
	Gate        string         `json:"gate"`
	SubmittedAt time.Time      `json:"submitted_at"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Result      *engine.Result `json:"result,omitempty"`
}

// runner 是 Backtest 与 Online 的公共控制面。
type runner interface {
	RunID() string
	Gate() *clock.Gate
	Stop()
	Run(ctx context.Context) (*engine.Result, error)
}

type runEntry struct {
	job RunJob
	run runner
}

// Manager 负责启动运行、跟踪状态、在结束时落库出图。
type Manager struct {
	data      engine.DataHandler
	store     *gormstore.GormStore
	chartsDir string
	snapshots bool

	mu      sync.Mutex
	entries map[string]*runEntry
	order   []string // 提交顺序
}

// ManagerConfig Manager 的依赖。
type ManagerConfig struct {
	Data      engine.DataHandler
	Store     *gormstore.GormStore
	ChartsDir string
	Snapshots bool // 开启后每笔成交都异步落快照
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Data == nil {
		return nil, fmt.Errorf("manager: data handler 不能为空")
	}
	return &Manager{
		data:      cfg.Data,
		store:     cfg.Store,
		chartsDir: cfg.ChartsDir,
		snapshots: cfg.Snapshots,
		entries:   make(map[string]*runEntry),
	}, nil
}

func (m *Manager) persister() engine.Persister {
	if !m.snapshots || m.store == nil {
		return nil
	}
	return gormstore.NewAsyncPersister(m.store)
}

// SubmitBacktest 异步启动一次回测，立即返回 job 视图。
func (m *Manager) SubmitBacktest(cfg engine.BacktestConfig) (RunJob, error) {
	bt, err := engine.NewBacktest(cfg, m.data, m.persister())
	if err != nil {
		return RunJob{}, err
	}
	return m.launch(bt, cfg.Name, "backtest"), nil
}

// SubmitOnline 异步启动一次在线运行。
func (m *Manager) SubmitOnline(cfg engine.OnlineConfig) (RunJob, error) {
	ol, err := engine.NewOnline(cfg, m.data, m.persister())
	if err != nil {
		return RunJob{}, err
	}
	return m.launch(ol, cfg.Name, "online"), nil
}

func (m *Manager) launch(run runner, name, mode string) RunJob {
	entry := &runEntry{
		job: RunJob{
			RunID:       run.RunID(),
			Name:        name,
			Mode:        mode,
			Status:      StatusRunning,
			SubmittedAt: time.Now(),
		},
		run: run,
	}
	m.mu.Lock()
	m.entries[entry.job.RunID] = entry
	m.order = append(m.order, entry.job.RunID)
	m.mu.Unlock()

	go func() {
		res, err := run.Run(context.Background())
		m.finish(entry.job.RunID, res, err)
	}()
	return entry.job
}

func (m *Manager) finish(runID string, res *engine.Result, err error) {
	m.mu.Lock()
	entry := m.entries[runID]
	if entry != nil {
		entry.job.FinishedAt = time.Now()
		if err != nil {
			entry.job.Status = StatusFailed
			entry.job.Error = err.Error()
		} else {
			entry.job.Status = StatusDone
			entry.job.Result = res
		}
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("[runs] %s 失败: %v", runID, err)
		return
	}
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.store.SaveRun(ctx, res); err != nil {
			logger.Errorf("[runs] %s 结果落库失败: %v", runID, err)
		}
	}
	if m.chartsDir != "" && len(res.Summary.EquityCurve) > 0 {
		if path, err := report.WriteEquityHTML(res, m.chartsDir); err != nil {
			logger.Warnf("[runs] %s 权益曲线出图失败: %v", runID, err)
		} else {
			logger.Infof("[runs] %s 权益曲线: %s", runID, path)
		}
	}
}

// Job 按 run_id 查运行。
func (m *Manager) Job(runID string) (RunJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[runID]
	if !ok {
		return RunJob{}, false
	}
	return m.snapshotJob(entry), true
}

// Jobs 按提交顺序返回全部运行（新的在前）。
func (m *Manager) Jobs() []RunJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunJob, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if entry, ok := m.entries[m.order[i]]; ok {
			out = append(out, m.snapshotJob(entry))
		}
	}
	return out
}

func (m *Manager) snapshotJob(entry *runEntry) RunJob {
	job := entry.job
	if g := entry.run.Gate(); g != nil {
		job.Gate = g.State().String()
	}
	return job
}

// Pause 暂停运行的时钟。运行不存在或已结束时报错。
func (m *Manager) Pause(runID string) error {
	return m.withGate(runID, func(g *clock.Gate) { g.Pause() })
}

// Resume 恢复被暂停的时钟。
func (m *Manager) Resume(runID string) error {
	return m.withGate(runID, func(g *clock.Gate) { g.Resume() })
}

// StopRun 终止运行。幂等。
func (m *Manager) StopRun(runID string) error {
	m.mu.Lock()
	entry, ok := m.entries[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("run 不存在: %s", runID)
	}
	entry.run.Stop()
	return nil
}

func (m *Manager) withGate(runID string, fn func(*clock.Gate)) error {
	m.mu.Lock()
	entry, ok := m.entries[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("run 不存在: %s", runID)
	}
	g := entry.run.Gate()
	if g == nil {
		return fmt.Errorf("run 尚未启动时钟: %s", runID)
	}
	fn(g)
	return nil
}

// StopAll 终止全部在跑的运行，关停时调用。
func (m *Manager) StopAll() {
	m.mu.Lock()
	entries := make([]*runEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	for _, e := range entries {
		e.run.Stop()
	}
}
