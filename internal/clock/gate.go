// Package clock 提供交易日时钟：回测模式一次性展开交易日历，
// 在线模式按墙钟轮询。两种模式共用同一个可暂停/可终止的门闸。
package clock

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped 表示时钟已终止，不会再产生任何 tick。
var ErrStopped = errors.New("clock: stopped")

// State 门闸状态机：Stopped → Running ⇄ Paused → Stopped（终态）。
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	default:
		return "STOPPED"
	}
}

// Gate 用显式状态机 + channel 实现 pause/resume/stop，
// 替代布尔标志轮询，保证转换无竞态、可在不依赖真实时序的情况下测试。
type Gate struct {
	mu         sync.Mutex
	state      State
	terminated bool
	resumeCh   chan struct{} // Paused 期间阻塞 Wait 的信号
	stopCh     chan struct{} // Stop 后关闭，唤醒所有等待者
}

func NewGate() *Gate {
	return &Gate{stopCh: make(chan struct{})}
}

// Start 进入 RUNNING。时钟终止后不可重新启动。
func (g *Gate) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return ErrStopped
	}
	g.state = StateRunning
	return nil
}

// Pause 暂停产出；对非 RUNNING 状态是 no-op。
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated || g.state != StateRunning {
		return
	}
	g.state = StatePaused
	g.resumeCh = make(chan struct{})
}

// Resume 恢复产出；对非 PAUSED 状态是 no-op。
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated || g.state != StatePaused {
		return
	}
	g.state = StateRunning
	if g.resumeCh != nil {
		close(g.resumeCh)
		g.resumeCh = nil
	}
}

// Stop 终止时钟。幂等；会在一个轮询周期内唤醒所有阻塞中的生产者。
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return
	}
	g.terminated = true
	g.state = StateStopped
	close(g.stopCh)
	if g.resumeCh != nil {
		close(g.resumeCh)
		g.resumeCh = nil
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Stopped 返回终止信号 channel，供生产者 select。
func (g *Gate) Stopped() <-chan struct{} {
	return g.stopCh
}

// Wait 在 PAUSED 期间阻塞；RUNNING 返回 nil；终止返回 ErrStopped。
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.terminated {
			g.mu.Unlock()
			return ErrStopped
		}
		switch g.state {
		case StateRunning:
			g.mu.Unlock()
			return nil
		case StateStopped:
			// Start 之前的 Wait：按未运行处理。
			g.mu.Unlock()
			return ErrStopped
		case StatePaused:
			resume := g.resumeCh
			g.mu.Unlock()
			select {
			case <-resume:
				// 回到循环重新检查状态（可能是 Resume，也可能是 Stop）
			case <-g.stopCh:
				return ErrStopped
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
