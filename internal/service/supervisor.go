package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/event"
	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/log"
	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/prompt"
)

// stderrTail is how much of the worker stderr is kept for a failure report.
const stderrTail = 4 * 1024

// Outcome is the terminal report of one execution.
type Outcome struct {
	Status    model.Status
	Artifacts []string
	ExitCode  int
	Err       error
}

// TerminalNotifier learns about the end of an execution.
type TerminalNotifier interface {
	OnJobTerminal(ctx context.Context, id string, out Outcome)
}

// Supervisor executes jobs in worker processes.
type Supervisor struct {
	runner  *Runner
	command Command
	workDir string
	root    string
	store   artifact.Store
	mirror  artifact.Store
	now     func() time.Time
}

// NewSupervisor returns a supervisor running cfg.Worker in the parent of the
// data dir. store is the data dir the worker reads and writes; artifacts are
// looked up there.
func NewSupervisor(cfg model.Config, store artifact.Store) (*Supervisor, error) {
	workDir, err := cfg.Service.WorkDir()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.Service.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir: %w", err)
	}
	return &Supervisor{
		runner:  NewRunner(),
		command: workerCommand(cfg.Worker),
		workDir: workDir,
		root:    filepath.Base(abs),
		store:   store,
		now:     time.Now,
	}, nil
}

// WithCommand replaces the worker path and arguments. This method exists for
// unit testing only.
func (s *Supervisor) WithCommand(path string, args ...string) *Supervisor {
	s.command.Path = path
	s.command.Args = args
	return s
}

// WithMirror keeps the worker data dir in sync with a shared store: job
// inputs are copied from it before the worker starts and the artifact is
// copied to it afterwards.
func (s *Supervisor) WithMirror(shared artifact.Store) *Supervisor {
	s.mirror = shared
	return s
}

// WithClock replaces the clock used for the prompt date.
func (s *Supervisor) WithClock(now func() time.Time) *Supervisor {
	s.now = now
	return s
}

// Execute runs job to the end and calls notify exactly once as its final
// action, whatever happens on the way.
func (s *Supervisor) Execute(ctx context.Context, job model.Job, notify TerminalNotifier) {
	ctx = log.JobContext(ctx, job.ID, string(job.Kind))
	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			out = s.fault(ctx, job, fmt.Errorf("panic: %v", r), debug.Stack())
		}
		notify.OnJobTerminal(ctx, job.ID, out)
	}()
	out = s.run(ctx, job)
}

func (s *Supervisor) run(ctx context.Context, job model.Job) Outcome {
	started := time.Now()
	slog.InfoContext(ctx, "job started", "work_dir", s.workDir)
	s.append(ctx, job.Log, "Starting job type: "+string(job.Kind))
	s.append(ctx, job.Log, "Working directory: "+s.workDir)

	text, err := prompt.Build(job.Kind, job.Params, prompt.Options{Root: s.root, Now: s.now()})
	if err != nil {
		return s.fault(ctx, job, fmt.Errorf("building prompt: %w", err), nil)
	}

	if err := s.stage(ctx, job); err != nil {
		return s.fault(ctx, job, err, nil)
	}

	s.append(ctx, job.Log, "Executing worker...")
	parser := event.NewParser()
	stderr := newTailBuffer(stderrTail)
	var skipped int

	cmd := s.command
	cmd.Dir = s.workDir
	cmd.Stdin = text
	res := s.runner.Run(ctx, cmd,
		func(ctx context.Context, line []byte) {
			lines, err := parser.Line(line)
			if err != nil {
				skipped++
				slog.DebugContext(ctx, "skipping worker output", "error", err)
				return
			}
			for _, l := range lines {
				s.append(ctx, job.Log, l)
			}
		},
		func(ctx context.Context, line string) {
			stderr.WriteLine(line)
			slog.DebugContext(ctx, "worker stderr", "line", line)
		},
	)

	if res.State != nil {
		s.append(ctx, job.Log, fmt.Sprintf("Process completed with return code: %d", res.ExitCode()))
	}
	if res.Err != nil {
		out := s.fault(ctx, job, fmt.Errorf("running worker: %w", res.Err), nil)
		out.ExitCode = res.ExitCode()
		return out
	}

	code := res.ExitCode()
	if code != 0 {
		for _, line := range stderr.Lines() {
			s.append(ctx, job.Log, "stderr: "+line)
		}
		slog.WarnContext(ctx, "job failed",
			"exit_code", code,
			"skipped_lines", skipped,
			"duration", time.Since(started).String())
		return Outcome{Status: model.StatusFailed, ExitCode: code}
	}

	artifacts := s.discover(ctx, job)
	slog.InfoContext(ctx, "job completed",
		"output_files", artifacts,
		"skipped_lines", skipped,
		"duration", time.Since(started).String())
	return Outcome{Status: model.StatusCompleted, Artifacts: artifacts, ExitCode: 0}
}

// discover checks the output location derived from the job parameters. A
// missing artifact is reported in the log, the job still completes.
func (s *Supervisor) discover(ctx context.Context, job model.Job) []string {
	folder, name, err := prompt.Output(job.Kind, job.Params)
	if err != nil {
		slog.WarnContext(ctx, "cannot derive output file", "error", err)
		return []string{}
	}
	ok, err := s.store.Exists(ctx, folder, name)
	if err != nil {
		slog.WarnContext(ctx, "checking output file", "folder", folder, "name", name, "error", err)
		s.append(ctx, job.Log, "Output file check failed: "+err.Error())
		return []string{}
	}
	if !ok {
		s.append(ctx, job.Log, "Output file not found: "+folder+"/"+name)
		return []string{}
	}
	if s.mirror != nil {
		if err := copyFile(ctx, s.store, s.mirror, prompt.File{Folder: folder, Name: name}); err != nil {
			slog.WarnContext(ctx, "uploading output file", "folder", folder, "name", name, "error", err)
			s.append(ctx, job.Log, "Output file upload failed: "+err.Error())
			return []string{}
		}
		s.append(ctx, job.Log, "Output file uploaded: "+folder+"/"+name)
	}
	return []string{name}
}

// stage copies the job inputs from the mirror into the worker data dir.
func (s *Supervisor) stage(ctx context.Context, job model.Job) error {
	if s.mirror == nil {
		return nil
	}
	for _, f := range prompt.Inputs(job.Kind, job.Params) {
		if err := copyFile(ctx, s.mirror, s.store, f); err != nil {
			return fmt.Errorf("staging %s: %w", f, err)
		}
	}
	return nil
}

func copyFile(ctx context.Context, from, to artifact.Store, f prompt.File) error {
	data, err := from.Read(ctx, f.Folder, f.Name)
	if err != nil {
		return err
	}
	return to.Write(ctx, f.Folder, f.Name, data)
}

// fault records an internal error in the job log: the error, a trace of the
// job, the worker command and the error chain, then stack line by line when
// given.
func (s *Supervisor) fault(ctx context.Context, job model.Job, err error, stack []byte) Outcome {
	slog.ErrorContext(ctx, "job failed on internal error", "error", err)
	s.append(ctx, job.Log, "Error: "+err.Error())
	for _, line := range s.diagnose(job, err) {
		s.append(ctx, job.Log, "Trace: "+line)
	}
	for line := range strings.Lines(string(stack)) {
		s.append(ctx, job.Log, "Trace: "+strings.TrimRight(line, "\n"))
	}
	return Outcome{Status: model.StatusFailed, ExitCode: -1, Err: err}
}

// diagnose describes where a fault happened. The worker environment is left
// out, it may carry credentials.
func (s *Supervisor) diagnose(job model.Job, err error) []string {
	lines := []string{
		fmt.Sprintf("job %s type %s", job.ID, job.Kind),
		"command: " + strings.Join(append([]string{s.command.Path}, s.command.Args...), " "),
		"dir: " + s.workDir,
	}
	if t := s.command.Timeout; t > 0 {
		lines = append(lines, "timeout: "+t.String())
	}
	return appendCauses(lines, err)
}

// appendCauses walks the wrapped errors of err depth first.
func appendCauses(lines []string, err error) []string {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		if next := u.Unwrap(); next != nil {
			lines = append(lines, fmt.Sprintf("caused by: %v (%T)", next, next))
			return appendCauses(lines, next)
		}
	case interface{ Unwrap() []error }:
		for _, next := range u.Unwrap() {
			lines = append(lines, fmt.Sprintf("caused by: %v (%T)", next, next))
			lines = appendCauses(lines, next)
		}
	}
	return lines
}

// append never fails the job, a broken log is only reported.
func (s *Supervisor) append(ctx context.Context, sink *joblog.Sink, text string) {
	if sink == nil {
		return
	}
	if err := sink.Append(text); err != nil {
		slog.ErrorContext(ctx, "appending job log", "path", sink.Path(), "error", err)
	}
}
