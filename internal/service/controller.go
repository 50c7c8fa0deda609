package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/log"
	"github.com/contentflow/wfm/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// Executor runs an admitted job and reports its end to notify exactly once.
type Executor interface {
	Execute(ctx context.Context, job model.Job, notify TerminalNotifier)
}

var _ Executor = (*Supervisor)(nil)

// Controller owns the job table and the queue. All scheduling state is
// changed under mu; readers use an immutable snapshot published after every
// change and never wait for the lock.
type Controller struct {
	ctx        context.Context
	exec       Executor
	logs       *joblog.Dir
	max        int
	now        func() time.Time
	onTerminal func(model.JobView)

	mu      sync.Mutex
	jobs    map[string]*model.JobView
	order   []string
	queue   []string
	running int

	snap atomic.Pointer[snapshot]
	wg   sync.WaitGroup
}

type snapshot struct {
	jobs    map[string]model.JobView
	order   []string
	running int
	queued  int
}

// NewController returns a controller running at most maxConcurrent jobs.
// Executions get ctx without its cancellation, so a running job always
// finishes.
func NewController(ctx context.Context, maxConcurrent int, exec Executor, logs *joblog.Dir) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = model.DefaultMaxConcurrent
	}
	c := &Controller{
		ctx:  context.WithoutCancel(ctx),
		exec: exec,
		logs: logs,
		max:  maxConcurrent,
		now:  time.Now,
		jobs: make(map[string]*model.JobView),
	}
	c.snap.Store(&snapshot{jobs: map[string]model.JobView{}})
	return c
}

// WithClock replaces the clock used for job timestamps.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// OnTerminal registers fn to be called after a job reached a terminal state.
func (c *Controller) OnTerminal(fn func(model.JobView)) *Controller {
	c.onTerminal = fn
	return c
}

func (c *Controller) MaxConcurrent() int {
	return c.max
}

// Submit records a new job and either starts it or appends it to the queue.
// It never blocks on the execution and always succeeds; a job that cannot
// run fails later.
func (c *Controller) Submit(kind model.Kind, params model.Params, batchID string) string {
	c.mu.Lock()
	id := c.newID()
	now := c.now().UTC()
	sink := c.logs.Sink(id)
	v := &model.JobView{
		ID:          id,
		Kind:        kind,
		Status:      model.StatusQueued,
		CreatedAt:   now,
		Params:      params.Clone(),
		LogFile:     sink.Path(),
		OutputFiles: []string{},
		Log:         sink,
	}
	if batchID != "" {
		v.BatchID = &batchID
	}
	c.jobs[id] = v
	c.order = append(c.order, id)

	var launch []model.Job
	if c.running < c.max {
		launch = append(launch, c.startLocked(v))
	} else {
		c.queue = append(c.queue, id)
		pos := len(c.queue)
		v.QueuePosition = &pos
	}
	c.publishLocked()
	view := *v
	running := c.running
	c.mu.Unlock()

	ctx := jobContext(c.ctx, view)
	if view.QueuePosition == nil {
		slog.InfoContext(ctx, "job admitted", "running", running)
	} else {
		slog.InfoContext(ctx, "job queued", "queue_position", *view.QueuePosition)
	}
	c.launch(launch)
	return id
}

// OnJobTerminal records the outcome of a running job and promotes queued
// jobs into the freed slots. Reports for jobs that are not running are
// ignored.
func (c *Controller) OnJobTerminal(ctx context.Context, id string, out Outcome) {
	c.mu.Lock()
	v, ok := c.jobs[id]
	if !ok || v.Status != model.StatusRunning {
		c.mu.Unlock()
		slog.WarnContext(ctx, "ignoring terminal report", "job_id", id, "known", ok)
		return
	}

	status := out.Status
	if !status.Terminal() {
		slog.WarnContext(ctx, "non terminal outcome treated as failure", "status", status)
		status = model.StatusFailed
	}
	now := c.now().UTC()
	v.Status = status
	v.FinishedAt = &now
	if status == model.StatusCompleted {
		v.OutputFiles = slices.Clone(out.Artifacts)
		if v.OutputFiles == nil {
			v.OutputFiles = []string{}
		}
	}
	c.running--
	launch := c.promoteLocked()
	c.publishLocked()
	view := v.Clone()
	c.mu.Unlock()

	slog.InfoContext(ctx, "job finished", "status", status, "promoted", len(launch))
	c.launch(launch)
	if c.onTerminal != nil {
		c.onTerminal(view)
	}
}

// Get returns the current view of a job.
func (c *Controller) Get(id string) (model.JobView, error) {
	v, ok := c.snap.Load().jobs[id]
	if !ok {
		return model.JobView{}, ErrJobNotFound
	}
	return v.Clone(), nil
}

// List returns jobs in submission order, optionally only those in status.
func (c *Controller) List(status model.Status) []model.JobView {
	s := c.snap.Load()
	out := make([]model.JobView, 0, len(s.order))
	for _, id := range s.order {
		v := s.jobs[id]
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, v.Clone())
	}
	return out
}

func (c *Controller) ActiveCount() int {
	return c.snap.Load().running
}

func (c *Controller) QueuedCount() int {
	return c.snap.Load().queued
}

// Wait blocks until all started executions, including ones promoted while
// waiting, have finished. Used on shutdown and in tests.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) startLocked(v *model.JobView) model.Job {
	now := c.now().UTC()
	v.Status = model.StatusRunning
	v.StartedAt = &now
	v.QueuePosition = nil
	c.running++
	return model.Job{
		ID:        v.ID,
		Kind:      v.Kind,
		Params:    v.Params.Clone(),
		BatchID:   model.Get(v.BatchID),
		CreatedAt: v.CreatedAt,
		Log:       v.Log,
	}
}

// promoteLocked starts queued jobs in FIFO order while there is capacity and
// renumbers the rest 1..N.
func (c *Controller) promoteLocked() []model.Job {
	var launch []model.Job
	for len(c.queue) > 0 && c.running < c.max {
		id := c.queue[0]
		c.queue = c.queue[1:]
		launch = append(launch, c.startLocked(c.jobs[id]))
	}
	for i, id := range c.queue {
		pos := i + 1
		c.jobs[id].QueuePosition = &pos
	}
	return launch
}

func (c *Controller) publishLocked() {
	s := &snapshot{
		jobs:    make(map[string]model.JobView, len(c.jobs)),
		order:   slices.Clone(c.order),
		running: c.running,
		queued:  len(c.queue),
	}
	for id, v := range c.jobs {
		cp := *v
		if v.QueuePosition != nil {
			pos := *v.QueuePosition
			cp.QueuePosition = &pos
		}
		s.jobs[id] = cp
	}
	c.snap.Store(s)
}

func (c *Controller) launch(jobs []model.Job) {
	for _, job := range jobs {
		c.wg.Go(func() {
			c.exec.Execute(c.ctx, job, c)
		})
	}
}

// newID returns a short random id not used yet.
func (c *Controller) newID() string {
	for {
		id := uuid.NewString()[:8]
		if _, ok := c.jobs[id]; !ok {
			return id
		}
	}
}

func jobContext(ctx context.Context, v model.JobView) context.Context {
	if v.BatchID != nil {
		ctx = log.ContextAttrs(ctx, slog.String("batch_id", *v.BatchID))
	}
	return log.JobContext(ctx, v.ID, string(v.Kind))
}
