package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Promise is the completion slot for an asynchronous bridge operation. It
// resolves exactly once, to a decoded host value or an error.
type Promise struct {
	done chan struct{}
	val  interface{}
	err  error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) resolve(val interface{}, err error) {
	p.val = val
	p.err = err
	close(p.done)
}

// Done returns a channel closed when the promise resolves.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the promise resolves or the context is done.
func (p *Promise) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// poolTask pairs a submitted function with its promise, so a task that never
// runs can still be resolved.
type poolTask struct {
	promise *Promise
	fn      func() (interface{}, error)
}

// run resolves the task's promise, capturing panics into its error slot
// rather than terminating the worker.
func (t poolTask) run() {
	defer func() {
		if r := recover(); r != nil {
			t.promise.resolve(nil, fmt.Errorf("panic in async call: %v", r))
		}
	}()
	t.promise.resolve(t.fn())
}

// Pool is a bounded worker pool with per-call completion channels. It
// replaces thread-per-call bridging: callers still block until their result
// is produced, but worker creation is bounded under load. There is no
// cancellation; once dequeued, a task runs to completion or failure and the
// outcome is relayed verbatim into its promise.
type Pool struct {
	tasks chan poolTask
	quit  chan struct{}
	wg    sync.WaitGroup

	once sync.Once
}

// NewPool creates a pool with size workers. Size must be at least 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan poolTask, size*2),
		quit:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		// Quit wins over queued work, so Stop can drain the queue
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case task := <-p.tasks:
			task.run()
		case <-p.quit:
			return
		}
	}
}

// Submit enqueues fn and returns its promise. Submitting after Stop is a
// programming error.
func (p *Pool) Submit(fn func() (interface{}, error)) *Promise {
	promise := newPromise()
	p.tasks <- poolTask{promise: promise, fn: fn}
	return promise
}

// Stop shuts down the pool workers. Tasks already dequeued run to
// completion; tasks still queued never run and their promises resolve with
// ErrPoolStopped, so no waiter hangs across shutdown.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case task := <-p.tasks:
				task.promise.resolve(nil, ErrPoolStopped)
			default:
				return
			}
		}
	})
}
