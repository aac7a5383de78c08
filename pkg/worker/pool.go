// Package worker bounds concurrent symbol lookups. All request handlers
// funnel through a fixed pool so a burst of clients cannot fan out into an
// unbounded number of origin fetches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// ErrBusy is returned when a task could not be completed within the
// submit timeout, either stuck in the queue or still running.
var ErrBusy = errors.New("worker: request timed out, server busy")

// ErrStopped is returned for submits after the pool shut down
var ErrStopped = errors.New("worker: pool stopped")

// Handler executes one symbol lookup
type Handler func(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error)

// Result is what a task produces
type Result struct {
	Items []domain.NewsItem
	Err   error
}

type task struct {
	id         string
	symbol     string
	limit      int
	resultCh   chan Result // buffered, abandoned results are dropped not leaked
	enqueuedAt time.Time
}

// Pool runs a fixed number of workers over a FIFO queue
type Pool struct {
	handler       Handler
	queue         chan *task
	workers       int
	submitTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	nowFn  func() time.Time
}

// NewPool creates a pool with the given worker count, queue capacity and
// per-submit timeout.
func NewPool(workers, queueSize int, submitTimeout time.Duration, handler Handler) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pool{
		handler:       handler,
		queue:         make(chan *task, queueSize),
		workers:       workers,
		submitTimeout: submitTimeout,
		nowFn:         time.Now,
	}
}

// Start launches the workers. They run until ctx is canceled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	lgr.Printf("[INFO] worker pool started, %d workers, queue %d", p.workers, cap(p.queue))
}

// Stop cancels the workers and waits for the in-flight tasks to finish.
// Queued tasks are not drained; their submitters get ErrStopped or time
// out on their own.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	lgr.Printf("[INFO] worker pool stopped")
}

// Submit enqueues a lookup and waits for its result. Waits at most the
// submit timeout end to end; after that the caller gets ErrBusy and the
// eventual result is discarded.
func (p *Pool) Submit(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
	if p.ctx == nil {
		return nil, ErrStopped
	}

	t := &task{
		id:         uuid.New().String(),
		symbol:     symbol,
		limit:      limit,
		resultCh:   make(chan Result, 1),
		enqueuedAt: p.nowFn(),
	}

	timer := time.NewTimer(p.submitTimeout)
	defer timer.Stop()

	select {
	case p.queue <- t:
	case <-timer.C:
		lgr.Printf("[WARN] queue full, task %s for %s rejected", t.id, symbol)
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrStopped
	}

	select {
	case res := <-t.resultCh:
		return res.Items, res.Err
	case <-timer.C:
		lgr.Printf("[WARN] task %s for %s timed out after %s", t.id, symbol, p.submitTimeout)
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrStopped
	}
}

// QueueDepth reports how many tasks are waiting, used for stats and metrics
func (p *Pool) QueueDepth() int { return len(p.queue) }

// Workers reports the pool size
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.queue:
			res := p.run(t)
			// buffered channel, never blocks even when the submitter is gone
			t.resultCh <- res
		}
	}
}

// run executes one task, converting a handler panic into an error result
// so the worker keeps serving.
func (p *Pool) run(t *task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			lgr.Printf("[ERROR] task %s for %s panicked: %v", t.id, t.symbol, r)
			res = Result{Err: fmt.Errorf("worker: task for %s panicked: %v", t.symbol, r)}
		}
	}()

	if wait := p.nowFn().Sub(t.enqueuedAt); wait > time.Second {
		lgr.Printf("[DEBUG] task %s for %s waited %s in queue", t.id, t.symbol, wait)
	}

	items, err := p.handler(p.ctx, t.symbol, t.limit)
	return Result{Items: items, Err: err}
}
