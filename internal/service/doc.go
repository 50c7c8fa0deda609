// Package service runs content generation jobs.
//
// Overview
// The Controller admits submitted jobs. At most MaxConcurrent jobs run at a
// time, the rest wait in a FIFO queue and see their 1-based queue position.
// A running job is handed to the Supervisor, which executes one worker
// process, turns its stream-json output into job log lines and reports back
// exactly once through TerminalNotifier. That report frees a slot and
// promotes the head of the queue.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process in a fixed working directory
//   - writes the instruction text to stdin and closes it
//   - hands every stdout line to a callback as it arrives
//   - optionally hands stderr lines to another callback (extra goroutine)
//   - waits for the exit and returns a single Result
//
// Data flow:
//
//	Controller             Supervisor              Runner{cmd}
//	    |                      |                       |
//	Submit -> running -------->| Execute()             |
//	    |  (or queued)         | prompt.Build -------->| Run()
//	    |                      |<------ stdout line ---| os/exec.Start
//	    |                      | event.Parser          |
//	    |                      | joblog.Sink.Append    |
//	    |                      |<------ Result --------| (process exits)
//	    |<-- OnJobTerminal ----| artifact discovery    |
//	promote queue head         |                       |
//
// The Publisher reads the job log by byte offset for any number of
// subscribers, each with its own offset, until the job is terminal. The
// Janitor removes log files no known job refers to.
//
// Invariants:
//   - At most MaxConcurrent jobs are running.
//   - Queued jobs start in submission order and never go back to queued.
//   - Each execution reports exactly one terminal Outcome, also on panics.
//   - A worker is never killed because a caller went away; only the
//     optional timeout stops it.
//
// controller_test.go and supervisor_test.go show how the pieces fit together.
package service
