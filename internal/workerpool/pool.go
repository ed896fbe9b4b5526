// Package workerpool provides a fixed-size goroutine pool with a bounded
// task queue. It is shared by the price-feed fan-out path and the tool
// executor so that load spikes translate into dropped work instead of
// unbounded goroutine growth.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of work executed by a pool worker.
type Task func()

// Pool manages a fixed set of worker goroutines pulling from a buffered
// task queue. When the queue is full, Submit drops the task and counts
// it rather than blocking the caller.
//
// All methods are safe for concurrent use.
type Pool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// New creates a pool with workerCount workers and a queue of queueSize
// pending tasks. Typical sizing is 2x GOMAXPROCS workers.
func New(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = workerCount * 100
	}
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger.With().Str("component", "workerpool").Logger(),
	}
}

// Start launches the workers. Must be called once, before Submit.
// Cancelling ctx makes workers finish their current task and exit.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			if task != nil {
				p.run(task)
			}
		case <-p.ctx.Done():
			p.logger.Debug().Msg("Worker shutting down")
			return
		}
	}
}

// run executes one task with panic recovery. A panicking task is logged
// with its stack trace and the worker keeps serving the queue.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
}

// Submit enqueues a task. If the queue is full the task is dropped and
// the dropped counter incremented; callers needing delivery guarantees
// should check DroppedTasks.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
	}
}

// Stop closes the queue and blocks until every worker has drained it and
// exited. Submitting after Stop panics.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns how many tasks were dropped because the queue was
// full. A growing value means the fan-out rate exceeds worker capacity.
func (p *Pool) DroppedTasks() int64 {
	return atomic.LoadInt64(&p.droppedTasks)
}

// QueueDepth returns the number of tasks currently waiting.
func (p *Pool) QueueDepth() int { return len(p.taskQueue) }

// QueueCapacity returns the queue buffer size.
func (p *Pool) QueueCapacity() int { return cap(p.taskQueue) }
