package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/chazu/girder/value"
	"github.com/chazu/girder/vmapi"
)

// vmRequest is a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(vmapi.Service) (value.Value, error)
	done chan vmResult
}

// vmResult holds the outcome of a VM operation.
type vmResult struct {
	val value.Value
	err error
}

// Worker serializes all VM access through a single goroutine. The VM is a
// single logical thread of control; every service call must go through the
// worker to avoid data races.
//
// The VM may re-enter the host via dispatch, and a dispatched callable may
// itself issue further VM calls. Do detects that it is already running on the
// VM goroutine and executes inline instead of queueing, which would deadlock.
type Worker struct {
	svc      vmapi.Service
	requests chan vmRequest
	quit     chan struct{}
	gid      atomic.Int64
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(svc vmapi.Service) *Worker {
	w := &Worker{
		svc:      svc,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	w.gid.Store(goid.Get())
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function against the VM, recovering from panics.
func (w *Worker) execute(fn func(vmapi.Service) (value.Value, error)) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("panic in vm operation: %v", r)
			}
		}()
		result.val, result.err = fn(w.svc)
	}()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks until
// it completes. When called from the VM goroutine itself (re-entrant host
// code), the function runs inline.
func (w *Worker) Do(fn func(vmapi.Service) (value.Value, error)) (value.Value, error) {
	if goid.Get() == w.gid.Load() {
		result := w.execute(fn)
		return result.val, result.err
	}

	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.val, result.err
}

// OnWorkerGoroutine reports whether the caller is running on the VM
// goroutine, i.e. inside a dispatched host callable.
func (w *Worker) OnWorkerGoroutine() bool {
	return goid.Get() == w.gid.Load()
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
