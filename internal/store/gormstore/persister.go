package gormstore

import (
	"context"
	"sync"
	"time"

	"tide/internal/event"
	"tide/internal/logger"
	"tide/internal/portfolio"
)

const persistQueueDepth = 256

type persistJob struct {
	runID string
	date  string
	snap  *portfolio.Snapshot
	fill  *event.Event
}

// AsyncPersister 把快照/成交写库挪到后台 worker，主循环只做一次
// 非阻塞入队。写失败只记日志：持久化是镜像，不是运行期的权威状态。
type AsyncPersister struct {
	store *GormStore
	jobs  chan persistJob
	done  chan struct{}

	closeOnce sync.Once
}

func NewAsyncPersister(store *GormStore) *AsyncPersister {
	p := &AsyncPersister{
		store: store,
		jobs:  make(chan persistJob, persistQueueDepth),
		done:  make(chan struct{}),
	}
	go p.worker()
	return p
}

func (p *AsyncPersister) worker() {
	defer close(p.done)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case job.snap != nil:
			err = p.store.SaveSnapshot(ctx, job.runID, job.date, *job.snap)
		case job.fill != nil:
			err = p.store.SaveFill(ctx, job.runID, *job.fill)
		}
		cancel()
		if err != nil {
			logger.Warnf("[store] %s/%s 落库失败: %v", job.runID, job.date, err)
		}
	}
}

func (p *AsyncPersister) enqueue(job persistJob) {
	select {
	case p.jobs <- job:
	default:
		logger.Warnf("[store] 持久化队列已满，丢弃 %s/%s", job.runID, job.date)
	}
}

// SaveSnapshot 非阻塞入队。队列满时丢弃并记日志，不拖慢主循环。
func (p *AsyncPersister) SaveSnapshot(runID, date string, snap portfolio.Snapshot) {
	p.enqueue(persistJob{runID: runID, date: date, snap: &snap})
}

// SaveFill 非阻塞入队一笔成交。
func (p *AsyncPersister) SaveFill(runID string, fill event.Event) {
	p.enqueue(persistJob{runID: runID, date: fill.Date, fill: &fill})
}

// Flush 关闭入队并等待在途任务全部落库。之后不可再入队。
func (p *AsyncPersister) Flush() error {
	p.closeOnce.Do(func() { close(p.jobs) })
	<-p.done
	return nil
}
