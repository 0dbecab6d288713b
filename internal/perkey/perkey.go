// Package perkey provides a scheduler that serializes work per key while
// allowing work for different keys to execute concurrently.
//
// The projection pipeline keys work by order UUID so that events for one
// order are applied in emission order while different orders proceed in
// parallel. Workers are started on demand and exit once their queue drains.
package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSchedulerClosed is returned when work is submitted to a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
	onError    func(key any, err error)
}

// WithBufferSize sets the initial queue capacity per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithErrorHandler sets a callback for errors returned by tasks submitted
// with Go, which have no caller waiting for the result.
func WithErrorHandler(fn func(key any, err error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

// Scheduler runs tasks such that for any key K, tasks execute sequentially
// in submission order. Tasks for different keys can run in parallel.
// Enqueueing never blocks; queues grow as needed.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	idle       *sync.Cond
	workers    map[K]*worker
	inflight   int
	closed     bool
	bufferSize int
	onError    func(key any, err error)
}

type worker struct {
	queue []*task
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
		onError:    cfg.onError,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Do schedules fn for key and blocks until it finishes.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but stops waiting when ctx is done. A task that was
// already enqueued still runs after the caller gives up.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	t := &task{fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(ctx, key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go enqueues fn for key and returns without waiting for it to run.
// Errors returned by fn go to the configured error handler.
func (s *Scheduler[K]) Go(ctx context.Context, key K, fn func() error) error {
	return s.enqueue(ctx, key, &task{fn: fn})
}

// Wait blocks until every accepted task has finished.
func (s *Scheduler[K]) Wait() {
	s.mu.Lock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Close stops accepting new tasks and waits for queued tasks to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Wait()
}

// ActiveKeys returns the number of keys with queued or running work.
func (s *Scheduler[K]) ActiveKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Scheduler[K]) enqueue(ctx context.Context, key K, t *task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	w, ok := s.workers[key]
	if !ok {
		w = &worker{queue: make([]*task, 0, s.bufferSize)}
		s.workers[key] = w
	}
	w.queue = append(w.queue, t)
	s.inflight++
	s.mu.Unlock()

	if !ok {
		go s.run(key, w)
	}
	return nil
}

// run drains the queue of one key and exits once it is empty.
func (s *Scheduler[K]) run(key K, w *worker) {
	for {
		s.mu.Lock()
		if len(w.queue) == 0 {
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		s.mu.Unlock()

		err := call(t.fn)
		if t.done != nil {
			t.done <- err
		} else if err != nil && s.onError != nil {
			s.onError(key, err)
		}

		s.mu.Lock()
		s.inflight--
		if s.inflight == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}
