package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("paging: load queue full")
	ErrClosed    = errors.New("paging: loader closed")
)

// LoadRequest identifies one page generation job.
type LoadRequest struct {
	X, Z       int
	Version    int64
	PageSize   float64
	Resolution int
}

// Generator builds page content off the update goroutine. It must only read
// immutable inputs and must not touch pages, blocks or the scene. A false
// result with a nil error means there is no data for the page yet.
type Generator interface {
	Generate(ctx context.Context, req LoadRequest) (*PageContent, bool, error)
}

type GeneratorFunc func(ctx context.Context, req LoadRequest) (*PageContent, bool, error)

func (f GeneratorFunc) Generate(ctx context.Context, req LoadRequest) (*PageContent, bool, error) {
	return f(ctx, req)
}

type Result struct {
	Content  *PageContent
	OK       bool
	Err      error
	Duration time.Duration
}

// Task is the handle of a scheduled load. Its result is written once by a
// worker before Done reports true.
type Task struct {
	req    LoadRequest
	done   chan struct{}
	result Result
}

func newTask(req LoadRequest) *Task {
	return &Task{req: req, done: make(chan struct{})}
}

func (t *Task) Request() LoadRequest { return t.req }

// Done reports without blocking whether the task has completed.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome if the task has completed.
func (t *Task) Result() (Result, bool) {
	if !t.Done() {
		return Result{}, false
	}
	return t.result, true
}

func (t *Task) complete(res Result) {
	t.result = res
	close(t.done)
}

// completionQueue hands finished tasks back to the update goroutine.
type completionQueue struct {
	mu      sync.Mutex
	pending []*Task
}

func (q *completionQueue) Enqueue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

func (q *completionQueue) Drain(max int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := q.pending
		q.pending = nil
		return batch
	}
	batch := append([]*Task(nil), q.pending[:max]...)
	q.pending = q.pending[max:]
	return batch
}

func (q *completionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Loader runs page generation on a fixed pool of workers.
type Loader struct {
	gen     Generator
	workers int
	log     logrus.FieldLogger

	mu     sync.RWMutex
	queue  chan *Task
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group

	completed   completionQueue
	outstanding atomic.Int64
}

func NewLoader(gen Generator, workers, queueSize int, logger logrus.FieldLogger) *Loader {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{
		gen:     gen,
		workers: workers,
		log:     logger,
		queue:   make(chan *Task, queueSize),
	}
}

// Start launches the workers. Generation contexts derive from ctx.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.group != nil {
		return errors.New("paging: loader already started")
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < l.workers; i++ {
		worker := i
		l.group.Go(func() error {
			l.run(ctx, worker)
			return nil
		})
	}
	return nil
}

func (l *Loader) run(ctx context.Context, worker int) {
	for task := range l.queue {
		res := l.execute(ctx, task.req)
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			l.log.WithFields(logrus.Fields{
				"worker": worker,
				"page_x": task.req.X,
				"page_z": task.req.Z,
			}).WithError(res.Err).Debug("page generation failed")
		}
		task.complete(res)
		l.completed.Enqueue(task)
	}
}

func (l *Loader) execute(ctx context.Context, req LoadRequest) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("generate page %d,%d: panic: %v", req.X, req.Z, r)}
		}
		res.Duration = time.Since(start)
	}()
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	content, ok, err := l.gen.Generate(ctx, req)
	if err != nil {
		return Result{Err: fmt.Errorf("generate page %d,%d: %w", req.X, req.Z, err)}
	}
	if ok && content == nil {
		content = &PageContent{}
	}
	return Result{Content: content, OK: ok}
}

// Schedule queues req without blocking.
func (l *Loader) Schedule(req LoadRequest) (*Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	task := newTask(req)
	select {
	case l.queue <- task:
		l.outstanding.Add(1)
		return task, nil
	default:
		return nil, ErrQueueFull
	}
}

// Poll returns up to max completed tasks (all when max <= 0) without blocking.
func (l *Loader) Poll(max int) []*Task {
	tasks := l.completed.Drain(max)
	l.outstanding.Add(-int64(len(tasks)))
	return tasks
}

// Outstanding counts tasks scheduled but not yet polled.
func (l *Loader) Outstanding() int {
	return int(l.outstanding.Load())
}

// Close stops accepting work, cancels in-flight generation and waits for the
// workers to exit.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	cancel, group := l.cancel, l.group
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}
