package clock

import (
	"context"
	"time"

	"tide/internal/equeue"
	"tide/internal/logger"
)

// 交易所收盘后行情数据才完整，收盘时间之前不产出当日 tick。
const defaultCloseHour = 17

// OnlineClockConfig 配置在线时钟。NowFn 可注入，测试不依赖真实时间。
type OnlineClockConfig struct {
	Symbols      []string
	PollInterval time.Duration
	CloseHour    int // 当地时间小时数，默认 17 点
	NowFn        func() time.Time
}

// OnlineClock 按墙钟轮询：每个轮询周期检查每个 symbol，
// 当前时间过了收盘点且当日尚未产出过，才推送一个 tick。
// 同一 symbol 同一交易日绝不重复产出。
type OnlineClock struct {
	gate     *Gate
	out      *equeue.Queue[Tick]
	symbols  []string
	interval time.Duration
	closeHr  int
	nowFn    func() time.Time

	emitted map[string]map[string]struct{} // symbol -> 已产出日期集合
}

func NewOnlineClock(cfg OnlineClockConfig, out *equeue.Queue[Tick]) *OnlineClock {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	closeHr := cfg.CloseHour
	if closeHr <= 0 {
		closeHr = defaultCloseHour
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &OnlineClock{
		gate:     NewGate(),
		out:      out,
		symbols:  cfg.Symbols,
		interval: interval,
		closeHr:  closeHr,
		nowFn:    nowFn,
		emitted:  make(map[string]map[string]struct{}),
	}
}

func (c *OnlineClock) Gate() *Gate { return c.gate }

// Run 轮询直到被终止。终止后投毒关闭队列。
func (c *OnlineClock) Run(ctx context.Context) error {
	defer c.out.Poison()
	if err := c.gate.Start(); err != nil {
		return err
	}
	for {
		if err := c.gate.Wait(ctx); err != nil {
			logger.Infof("[clock] 在线时钟退出: %v", err)
			if err == ErrStopped {
				return nil
			}
			return err
		}
		c.poll()
		timer := time.NewTimer(c.interval)
		select {
		case <-c.gate.Stopped():
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// poll 对每个 symbol 做一次收盘检查。
func (c *OnlineClock) poll() {
	now := c.nowFn()
	if now.Hour() < c.closeHr {
		return
	}
	date := now.Format("2006-01-02")
	for _, sym := range c.symbols {
		seen := c.emitted[sym]
		if seen == nil {
			seen = make(map[string]struct{})
			c.emitted[sym] = seen
		}
		if _, ok := seen[date]; ok {
			continue
		}
		seen[date] = struct{}{}
		logger.Infof("[clock] %s %s 收盘 tick", sym, date)
		c.out.Push(Tick{Symbol: sym, Date: date})
	}
}
