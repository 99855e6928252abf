package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/security"
)

// ErrNotStarted is returned by Submit when the worker pool hasn't been
// started and the backend isn't in immediate mode.
var ErrNotStarted = errors.New("asyncjobs: local backend not started")

// ErrNotBound is returned by Submit when no executor has been bound. The
// backend and the scheduler reference each other, so wiring is two-phase:
// construct both, then Bind.
var ErrNotBound = errors.New("asyncjobs: backend not bound to a scheduler")

// Local executes jobs in-process.
//
// In immediate mode, Submit runs the job inline before returning; tests and
// development use this to make asynchronous behavior deterministic. In pool
// mode, Submit enqueues onto a per-queue-class channel consumed by a fixed
// set of workers started with Start. Separate queue classes keep bulk
// background work from starving page-blocking realtime work.
type Local struct {
	exec     Executor
	queues   QueueResolver
	logger   *slog.Logger
	pool     map[string]chan string
	poolSize map[string]int
	done     chan struct{}
	wg       sync.WaitGroup

	immediate bool
	started   bool
	mu        sync.Mutex
}

var _ Backend = (*Local)(nil)

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// Immediate makes Submit execute the job inline.
func Immediate() LocalOption {
	return func(l *Local) { l.immediate = true }
}

// PoolConcurrency sets the number of workers for a queue class.
func PoolConcurrency(queue string, n int) LocalOption {
	return func(l *Local) { l.poolSize[queue] = security.ClampConcurrency(n) }
}

// WithLocalLogger sets a custom logger.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates an in-process backend. queues maps job names to queue
// classes. Call Bind with the scheduler before submitting.
func NewLocal(queues QueueResolver, opts ...LocalOption) *Local {
	l := &Local{
		queues:   queues,
		logger:   slog.Default(),
		poolSize: map[string]int{"background": 4, "realtime": 4},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind sets the executor that runs submitted jobs. Call once during
// setup, after constructing the scheduler.
func (l *Local) Bind(exec Executor) {
	l.exec = exec
}

// Start launches the worker pool. Blocks until the context is cancelled.
// Not needed in immediate mode.
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.done = make(chan struct{})
	l.pool = make(map[string]chan string, len(l.poolSize))
	for queue, n := range l.poolSize {
		ch := make(chan string, n*4)
		l.pool[queue] = ch
		for i := 0; i < n; i++ {
			l.wg.Add(1)
			go l.processLoop(ctx, ch)
		}
	}
	l.mu.Unlock()

	<-ctx.Done()

	// The job channels are never closed: a Submit on a live context may
	// still be blocked sending, and closing under it would panic. Closing
	// done unblocks those senders; the workers exit on their own context.
	// Queued job IDs are dropped here, which is safe: the jobs are still
	// pending and the next scheduling pass re-submits them.
	l.mu.Lock()
	close(l.done)
	l.pool = nil
	l.started = false
	l.mu.Unlock()

	l.wg.Wait()
	return ctx.Err()
}

// Submit dispatches a job to its queue class's workers, or runs it inline in
// immediate mode.
func (l *Local) Submit(ctx context.Context, job *core.Job) error {
	if l.exec == nil {
		return ErrNotBound
	}
	if l.immediate {
		return l.exec.ExecuteJob(ctx, job.ID)
	}

	queue := l.queues.QueueFor(job.Name)
	l.mu.Lock()
	if l.pool == nil {
		l.mu.Unlock()
		return ErrNotStarted
	}
	ch, ok := l.pool[queue]
	if !ok {
		// Unknown queue class; fall back to background.
		ch, ok = l.pool["background"]
	}
	done := l.done
	l.mu.Unlock()
	if !ok {
		return ErrNotStarted
	}

	select {
	case ch <- job.ID:
		return nil
	case <-done:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) processLoop(ctx context.Context, jobs <-chan string) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-jobs:
			if err := l.exec.ExecuteJob(ctx, jobID); err != nil {
				l.logger.Error("job execution failed", "job_id", jobID, "error", err)
			}
		}
	}
}
