package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// MaxLineSize bounds a single stdout line. The worker prints whole tool
// results on one line, so it is generous.
const MaxLineSize = 10 * 1024 * 1024

// LineFunc receives a stdout line without the trailing newline. The slice is
// only valid during the call.
type LineFunc func(ctx context.Context, line []byte)

// StderrFunc receives a stderr line.
type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path    string
	Args    []string
	Env     []string // appended to the service environment
	Dir     string
	Stdin   string
	Timeout time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Dir     string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	// Err is set when the process could not be started, its output could not
	// be read or it was killed on timeout. A plain non-zero exit is reported
	// via State only.
	Err error
}

// ExitCode returns -1 when the process did not exit normally.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

func (r Result) Duration() time.Duration {
	return r.Stopped.Sub(r.Started)
}

type Runner struct {
	maxLine int
}

func NewRunner() *Runner {
	return &Runner{maxLine: MaxLineSize}
}

// Run starts the command and blocks until it exits. Output lines are handed
// to stdoutFunc from the calling goroutine in order. Cancelling ctx does not
// stop the process, use Command.Timeout for that.
func (r *Runner) Run(ctx context.Context, proto Command, stdoutFunc LineFunc, stderrFunc StderrFunc) Result {
	res := Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
		Dir:  proto.Dir,
	}

	runCtx := context.WithoutCancel(ctx)
	if proto.Timeout == 0 {
		slog.DebugContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, res.Path, res.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.Stdin = strings.NewReader(proto.Stdin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Err = err
		return res
	}
	var stderr io.ReadCloser
	if stderrFunc != nil {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			res.Err = err
			return res
		}
	}

	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.Err = err
		return res
	}

	var wg sync.WaitGroup
	if stderr != nil {
		wg.Go(func() {
			processStderr(ctx, stderr, stderrFunc)
		})
	}

	streamErr := r.processStdout(ctx, stdout, stdoutFunc)
	if streamErr != nil {
		// keep the pipe flowing so the process can finish
		_, _ = io.Copy(io.Discard, stdout)
	}
	// all reads must be done before Wait closes the pipes
	wg.Wait()

	waitErr := cmd.Wait()
	res.Stopped = time.Now().UTC()
	res.State = cmd.ProcessState

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		waitErr = nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !res.State.Exited() {
		waitErr = errors.Join(waitErr, fmt.Errorf("killed after timeout %s: %w", proto.Timeout, context.DeadlineExceeded))
	}
	res.Err = errors.Join(streamErr, waitErr)
	return res
}

func (r *Runner) processStdout(ctx context.Context, stdout io.Reader, fn LineFunc) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), r.maxLine)
	for scanner.Scan() {
		if fn != nil {
			fn(ctx, scanner.Bytes())
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdout: %w", err)
	}
	return nil
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
		_, _ = io.Copy(io.Discard, stderr)
	}
}
