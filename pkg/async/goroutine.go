package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool shut down")

// Task is a unit of background work.
type Task func(context.Context) error

// SafeGo executes fn in a goroutine bounded by timeout. Panics are recovered
// and logged with their stack; errors are logged and otherwise dropped.
func SafeGo(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn Task) {
	go run(parentCtx, log, timeout, taskName, fn)
}

func run(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn Task) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("panic in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		log.WithError(err).WithField("task", taskName).Warn("background task failed")
	}
}

// Group launches tasks like SafeGo and remembers them so Wait can block
// until all have returned.
type Group struct {
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup returns a Group whose tasks are bounded by timeout.
func NewGroup(log logrus.FieldLogger, timeout time.Duration) *Group {
	return &Group{log: log, timeout: timeout}
}

// Go launches fn.
func (g *Group) Go(ctx context.Context, taskName string, fn Task) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(ctx, g.log, g.timeout, taskName, fn)
	}()
}

// Wait blocks until every launched task has returned or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkerPool runs submitted tasks on a fixed number of workers.
type WorkerPool struct {
	log          logrus.FieldLogger
	taskName     string
	timeout      time.Duration
	workCh       chan Task
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
}

// NewWorkerPool starts workers goroutines. Each task runs with its own
// timeout derived from ctx.
func NewWorkerPool(ctx context.Context, log logrus.FieldLogger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		log:      log.WithField("pool", taskName),
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan Task, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn. It blocks while the queue is full.
func (p *WorkerPool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns task failures. Errors are dropped when nobody reads them
// and the buffer is full.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.execute(id, fn)
		}
	}
}

func (p *WorkerPool) execute(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("panic in pooled task")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.log.WithError(err).Warn("error channel full, dropping error")
	}
}
