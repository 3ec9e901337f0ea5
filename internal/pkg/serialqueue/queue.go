// internal/pkg/serialqueue/queue.go
package serialqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"

	"shopline/internal/pkg/metrics"
)

// ErrTaskPanicked 任务 panic 时返回给该任务调用方的错误
var ErrTaskPanicked = errors.New("serial queue task panicked")

// Queue 按 key 串行执行任务：同一个 key 下的任务按提交顺序逐个执行，
// 不同 key 之间互不阻塞。它是所有共享计数器（库存、时段、座位、订单号）
// 唯一的互斥手段，由构造函数注入给需要它的组件。
//
// 没有重试，也没有超时：任务一旦被调度就会执行完毕，失败只影响它自己的调用方。
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	jobs    []func()
	running bool
}

func New() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Schedule 把 task 放到 key 对应的队列尾部，并等待它执行完成。
// 调用方的 ctx 会原样传给 task；排队期间 ctx 被取消不会撤回任务。
func Schedule[T any](ctx context.Context, q *Queue, key string, task func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	q.enqueue(key, func() {
		start := time.Now()
		val, err := run(ctx, task)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.QueueTaskDuration.WithLabelValues(metrics.KeyPrefix(key), outcome).Observe(time.Since(start).Seconds())
		done <- result{val: val, err: err}
	})

	r := <-done
	return r.val, r.err
}

// Do 是没有返回值的 Schedule
func (q *Queue) Do(ctx context.Context, key string, task func(ctx context.Context) error) error {
	_, err := Schedule(ctx, q, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task(ctx)
	})
	return err
}

// Pending 返回 key 上排队和正在执行的任务总数
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		return 0
	}
	n := len(l.jobs)
	if l.running {
		n++
	}
	return n
}

func (q *Queue) enqueue(key string, job func()) {
	q.mu.Lock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.jobs = append(l.jobs, job)
	metrics.QueuePending.WithLabelValues(metrics.KeyPrefix(key)).Inc()
	if !l.running {
		l.running = true
		go q.drain(key, l)
	}
	q.mu.Unlock()
}

// drain 每个 key 最多一个 worker，队列清空后退出并移除 lane
func (q *Queue) drain(key string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.jobs) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs[0] = nil
		l.jobs = l.jobs[1:]
		q.mu.Unlock()

		job()
		metrics.QueuePending.WithLabelValues(metrics.KeyPrefix(key)).Dec()
	}
}

func run[T any](ctx context.Context, task func(ctx context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrTaskPanicked, fmt.Sprintf("%v\n%s", r, debug.Stack()))
		}
	}()
	return task(ctx)
}
