// Package worker provides a fixed-size task pool that keeps CPU- and
// IO-heavy work (archive packaging, disk writes) off the
// request-handling goroutines.
package worker

import (
	"context"
	"sync"
)

// Pool runs submitted tasks on a fixed number of workers.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool starts a pool with n workers (minimum 1).
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{tasks: make(chan func(), n*4)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit enqueues a task for asynchronous execution. Blocks while the
// queue is full; returns false after Stop.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.tasks <- task
	return true
}

// Do runs task on the pool and waits for its result, or until ctx is
// cancelled. On cancellation the task keeps running but its result is
// dropped.
func (p *Pool) Do(ctx context.Context, task func() error) error {
	result := make(chan error, 1)
	if !p.Submit(func() { result <- task() }) {
		return context.Canceled
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.tasks)
	p.wg.Wait()
}
