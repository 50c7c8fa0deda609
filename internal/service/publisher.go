package service

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/model"
)

// MsgLogNotFound is the error notice of a feed whose job never got a log.
const MsgLogNotFound = "Log file not found"

type MessageKind string

const (
	MessageLog      MessageKind = "log"
	MessageComplete MessageKind = "complete"
	MessageError    MessageKind = "error"
)

// Message is one item of a log feed. Entry is set for MessageLog, Job for
// MessageComplete and Error for MessageError.
type Message struct {
	Kind  MessageKind
	Entry joblog.Entry
	Job   model.JobView
	Error string
}

// JobSource looks up jobs; Controller implements it.
type JobSource interface {
	Get(id string) (model.JobView, error)
}

// Publisher serves live log feeds. Every feed keeps its own offset, so any
// number of subscribers may follow the same job.
type Publisher struct {
	jobs  JobSource
	poll  time.Duration
	wait  time.Duration
	watch bool
}

func NewPublisher(jobs JobSource, cfg model.Tail) *Publisher {
	return &Publisher{
		jobs:  jobs,
		poll:  cfg.PollIntervalDuration(),
		wait:  cfg.WaitDuration(),
		watch: model.Get(cfg.Watch),
	}
}

// Tail returns the feed of job id: the log history, then new lines as they
// are appended, then one MessageComplete once the job is terminal. A log
// that does not show up within the wait period ends the feed with a
// MessageError. The feed also ends when ctx is done, without a notice.
func (p *Publisher) Tail(ctx context.Context, id string) (iter.Seq[Message], error) {
	if _, err := p.jobs.Get(id); err != nil {
		return nil, err
	}
	return func(yield func(Message) bool) {
		sink, ok := p.awaitSink(ctx, id)
		if !ok {
			if ctx.Err() == nil {
				yield(Message{Kind: MessageError, Error: MsgLogNotFound})
			}
			return
		}
		p.follow(ctx, id, sink, yield)
	}, nil
}

// awaitSink waits for the first log append. The wait period only runs while
// the job is not queued: queued jobs have not written anything yet.
func (p *Publisher) awaitSink(ctx context.Context, id string) (*joblog.Sink, bool) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	deadline := time.Now().Add(p.wait)
	for {
		view, err := p.jobs.Get(id)
		if err != nil {
			return nil, false
		}
		if view.Log != nil && view.Log.Exists() {
			return view.Log, true
		}
		if view.Status == model.StatusQueued {
			deadline = time.Now().Add(p.wait)
		} else if time.Now().After(deadline) {
			slog.DebugContext(ctx, "log never appeared", "job_id", id, "status", view.Status)
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

func (p *Publisher) follow(ctx context.Context, id string, sink *joblog.Sink, yield func(Message) bool) {
	var wake <-chan struct{}
	if p.watch {
		w, err := sink.Watch()
		if err != nil {
			slog.DebugContext(ctx, "watching job log failed, polling only", "job_id", id, "error", err)
		} else {
			defer func() { _ = w.Close() }()
			wake = w.C()
		}
	}

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	var offset int64
	for {
		// status first: a terminal job has written everything, so the read
		// below is the last one
		view, err := p.jobs.Get(id)
		if err != nil {
			yield(Message{Kind: MessageError, Error: err.Error()})
			return
		}
		entries, next, err := sink.ReadFrom(offset)
		if err != nil {
			yield(Message{Kind: MessageError, Error: err.Error()})
			return
		}
		for _, e := range entries {
			if !yield(Message{Kind: MessageLog, Entry: e}) {
				return
			}
		}
		offset = next

		if view.Status.Terminal() {
			yield(Message{Kind: MessageComplete, Job: view})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}
