package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/contentflow/wfm/internal/joblog"
)

// Status is a state of the job lifecycle:
//
//	queued -> running -> completed | failed
//
// A job may also start directly in running.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Kind selects the prompt and the artifact naming convention of a job.
type Kind string

const (
	KindBrandData Kind = "brand_data"
	KindBrief     Kind = "brief"
	KindDraft     Kind = "draft"
)

// Params holds kind specific job parameters. Values are what a JSON decoder
// produces (string, float64, bool, []any, map[string]any) or plain Go strings
// and string slices.
type Params map[string]any

// Clone returns a copy sharing no slices or maps with p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []string:
		return slices.Clone(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = cloneValue(v)
		}
		return out
	default:
		return v
	}
}

// String returns the parameter as a string, ok is false when it is missing or
// not a string.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Strings returns a list parameter; every element must be a string.
func (p Params) Strings(key string) ([]string, bool) {
	switch x := p[key].(type) {
	case []string:
		return slices.Clone(x), true
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Job is the record handed to an executor once the job is admitted to run.
type Job struct {
	ID        string
	Kind      Kind
	Params    Params
	BatchID   string
	CreatedAt time.Time
	Log       *joblog.Sink
}

func (j Job) String() string {
	return fmt.Sprintf("job %s (%s)", j.ID, j.Kind)
}

// JobView is an immutable snapshot of a job as seen by status readers.
type JobView struct {
	ID            string       `json:"id"`
	Kind          Kind         `json:"type"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Params        Params       `json:"params"`
	LogFile       string       `json:"log_file"`
	OutputFiles   []string     `json:"output_files"`
	BatchID       *string      `json:"batch_id"`
	QueuePosition *int         `json:"queue_position"`
	Log           *joblog.Sink `json:"-"`
}

// Clone returns a copy safe to hand to another goroutine
// that may keep or change it.
func (v JobView) Clone() JobView {
	v.Params = v.Params.Clone()
	v.OutputFiles = slices.Clone(v.OutputFiles)
	if v.OutputFiles == nil {
		v.OutputFiles = []string{}
	}
	return v
}
