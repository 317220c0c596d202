package pipeline

import "sync"

// Dispatcher schedules batch work items and waits for them to finish.
type Dispatcher interface {
	Dispatch(fn func())
	Wait()
}

// AsyncDispatcher runs each item on its own goroutine.
type AsyncDispatcher struct {
	wg sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher that processes batches concurrently.
func NewAsyncDispatcher() *AsyncDispatcher {
	return &AsyncDispatcher{}
}

// Dispatch implements Dispatcher.
func (d *AsyncDispatcher) Dispatch(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Wait implements Dispatcher.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// SyncDispatcher runs each item inline on the calling goroutine.
type SyncDispatcher struct{}

// Dispatch implements Dispatcher.
func (SyncDispatcher) Dispatch(fn func()) { fn() }

// Wait implements Dispatcher.
func (SyncDispatcher) Wait() {}
