package clock

import (
	"context"

	"tide/internal/equeue"
	"tide/internal/logger"
)

// Tick 表示某个 symbol 的一个交易日。回测模式下 Symbol 为空，
// 由引擎对全部 symbol 扇出。
type Tick struct {
	Symbol string
	Date   string
}

// BacktestClock 按预先展开的交易日历顺序产出 tick。
// 日历在构造时就确定，产出只受门闸控制。
type BacktestClock struct {
	gate  *Gate
	dates []string
	out   *equeue.Queue[Tick]
}

func NewBacktestClock(dates []string, out *equeue.Queue[Tick]) *BacktestClock {
	return &BacktestClock{gate: NewGate(), dates: dates, out: out}
}

func (c *BacktestClock) Gate() *Gate { return c.gate }

// Run 依次推送日历中的每个交易日，结束（或被终止）后投毒关闭队列。
// 每个日期推送前都过一次门闸，暂停期间阻塞，终止立即退出。
func (c *BacktestClock) Run(ctx context.Context) error {
	defer c.out.Poison()
	if err := c.gate.Start(); err != nil {
		return err
	}
	for _, d := range c.dates {
		if err := c.gate.Wait(ctx); err != nil {
			logger.Infof("[clock] 回测时钟提前终止于 %s: %v", d, err)
			return err
		}
		c.out.Push(Tick{Date: d})
	}
	logger.Infof("[clock] 回测日历走完，共 %d 个交易日", len(c.dates))
	return nil
}
