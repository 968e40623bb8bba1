// Package deferred runs a task after a delay on a small worker pool.
//
// Tasks are keyed, scheduling a task under a key that already has one
// pending replaces the pending one, so a resumed walk never races an earlier
// resumption of itself.
package deferred

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docharvest/lib/chrono"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("lib/deferred")

var ErrClosed = errors.New("runner is closed")

// Task must be safe to run again with the same inputs, the runner gives no
// exactly-once guarantee across process restarts.
type Task func(ctx context.Context)

type job struct {
	id   string
	key  string
	task Task
}

type entry struct {
	id    string
	due   time.Time
	timer chrono.Timer
}

type Runner struct {
	clock chrono.Clock
	queue chan job

	mu      sync.Mutex
	pending map[string]entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scheduledCounter metric.Int64Counter
}

// NewRunner starts a runner with the given number of workers.
func NewRunner(clock chrono.Clock, workers int) *Runner {
	if clock == nil {
		clock = chrono.Standard{}
	}
	if workers <= 0 {
		workers = 1
	}

	scheduledCounter, err := meter.Int64Counter(
		"deferred_scheduled_total",
		metric.WithDescription("The total amount of tasks scheduled with a delay."),
	)
	if err != nil {
		slog.Warn("failed to create deferred counter", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		clock:            clock,
		queue:            make(chan job, workers*4),
		pending:          make(map[string]entry),
		ctx:              ctx,
		cancel:           cancel,
		scheduledCounter: scheduledCounter,
	}
	for range workers {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.queue:
			slog.DebugContext(r.ctx, "running deferred task", "key", j.key, "id", j.id)
			j.task(r.ctx)
		case <-r.ctx.Done():
			return
		}
	}
}

// Schedule runs task once delay has elapsed. A delay that is zero or
// negative runs the task synchronously on the caller's context. The returned
// id identifies the scheduled task, it is empty for synchronous runs.
func (r *Runner) Schedule(ctx context.Context, key string, delay time.Duration, task Task) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if delay <= 0 {
		r.mu.Unlock()
		slog.DebugContext(ctx, "running task immediately", "key", key)
		task(ctx)
		return "", nil
	}
	defer r.mu.Unlock()

	id, err := random.String(8)
	if err != nil {
		return "", err
	}

	if previous, ok := r.pending[key]; ok {
		previous.timer.Stop()
		slog.InfoContext(ctx, "replacing pending task", "key", key, "previous", previous.id, "id", id)
	}

	timer := r.clock.AfterFunc(delay, func() {
		r.fire(key, id, task)
	})
	r.pending[key] = entry{
		id:    id,
		due:   r.clock.Now().Add(delay),
		timer: timer,
	}
	if r.scheduledCounter != nil {
		r.scheduledCounter.Add(ctx, 1)
	}

	slog.InfoContext(ctx, "scheduled task", "key", key, "id", id, "delay", delay.String())
	return id, nil
}

func (r *Runner) fire(key, id string, task Task) {
	r.mu.Lock()
	current, ok := r.pending[key]
	if !ok || current.id != id || r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	r.mu.Unlock()

	select {
	case r.queue <- job{id: id, key: key, task: task}:
	case <-r.ctx.Done():
	}
}

// Pending returns when the task scheduled under key is due.
func (r *Runner) Pending(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[key]
	return e.due, ok
}

// Close drops every pending task and waits for running tasks to return.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for key, e := range r.pending {
		e.timer.Stop()
		delete(r.pending, key)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
