// Package equeue 提供事件引擎使用的线程安全 FIFO 队列。
//
// 队列支持毒丸（poison）哨兵：Poison() 入队一个关闭信号，消费者在
// 取到该信号时退出循环。Pop 为非阻塞操作，消费者自行按心跳间隔轮询，
// 因此任何阻塞中的 worker 都能在一个心跳内观察到关闭。
package equeue

import "sync"

// PopState 描述一次 Pop 的结果。
type PopState int

const (
	// PopOK 取到一个正常元素。
	PopOK PopState = iota
	// PopEmpty 队列当前为空。
	PopEmpty
	// PopPoison 取到关闭哨兵，消费者应立即退出。
	PopPoison
)

type item[T any] struct {
	value  T
	poison bool
}

// Queue 是单生产者/单消费者约定下的 FIFO 队列；
// 实现本身对并发 Push/Pop 都是安全的。
type Queue[T any] struct {
	mu    sync.Mutex
	items []item[T]
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, item[T]{value: v})
	q.mu.Unlock()
}

// Poison 入队关闭哨兵。幂等：重复调用只会多排几个哨兵，
// 消费者取到第一个即退出。
func (q *Queue[T]) Poison() {
	q.mu.Lock()
	q.items = append(q.items, item[T]{poison: true})
	q.mu.Unlock()
}

// Pop 非阻塞取队头。
func (q *Queue[T]) Pop() (T, PopState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, PopEmpty
	}
	head := q.items[0]
	q.items = q.items[1:]
	if head.poison {
		return zero, PopPoison
	}
	return head.value, PopOK
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}
