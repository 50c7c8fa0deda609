// Package joblog stores the user facing log of every job as a plain text file,
// one timestamped entry per line:
//
//	15:04:05 | Starting job type: brief
//
// A Sink has a single writer (the job supervisor) and any number of readers
// tailing it by byte offset.
package joblog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// TimeLayout formats the entry timestamp.
	TimeLayout = "15:04:05"
	separator  = " | "
	suffix     = ".log"
)

// Dir is a directory of job logs named <job id>.log.
type Dir struct {
	path string
	now  func() time.Time
}

// New creates the directory if needed.
func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &Dir{path: path, now: time.Now}, nil
}

// WithClock replaces the clock used for timestamps of sinks created later.
func (d *Dir) WithClock(now func() time.Time) *Dir {
	d.now = now
	return d
}

func (d *Dir) Path() string {
	return d.path
}

// Sink returns the handle of job id. The file is created on first Append.
func (d *Dir) Sink(id string) *Sink {
	return &Sink{
		path: filepath.Join(d.path, id+suffix),
		now:  d.now,
	}
}

// JobID returns the job id of a log file name and false for other files.
func JobID(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, suffix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Sink is the append only log of one job.
type Sink struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Exists reports whether anything was appended yet.
func (s *Sink) Exists() bool {
	if s == nil {
		return false
	}
	_, err := os.Stat(s.path)
	return err == nil
}

// Append writes text with the current time. Every physical line of text
// becomes its own entry, so a reader never sees a line without a timestamp.
// All lines are written with a single write call.
func (s *Sink) Append(text string) error {
	ts := s.now().Format(TimeLayout)
	var buf bytes.Buffer
	for line := range strings.Lines(strings.TrimRight(text, "\r\n") + "\n") {
		buf.WriteString(ts)
		buf.WriteString(separator)
		buf.WriteString(strings.TrimRight(line, "\r\n"))
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening job log: %w", err)
	}
	_, err = f.Write(buf.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("appending job log: %w", err)
	}
	return nil
}

// ReadAll returns every complete entry from the start.
func (s *Sink) ReadAll() ([]Entry, error) {
	entries, _, err := s.ReadFrom(0)
	return entries, err
}

// ReadFrom returns the complete entries appended at or after byte offset and
// the offset following the last one. A trailing partial line is left for the
// next call. The error wraps fs.ErrNotExist when nothing was appended yet.
func (s *Sink) ReadFrom(offset int64) ([]Entry, int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seeking job log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("reading job log: %w", err)
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, offset, nil
	}
	data = data[:end+1]

	var entries []Entry
	for line := range strings.Lines(string(data)) {
		entries = append(entries, ParseEntry(strings.TrimRight(line, "\r\n")))
	}
	return entries, offset + int64(len(data)), nil
}

// Entry is one line of a job log.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// ParseEntry splits a stored line. Lines without a timestamp keep the whole
// line as text.
func ParseEntry(line string) Entry {
	ts, text, ok := strings.Cut(line, separator)
	if !ok {
		return Entry{Text: line}
	}
	if _, err := time.Parse(TimeLayout, ts); err != nil {
		return Entry{Text: line}
	}
	return Entry{Timestamp: ts, Text: text}
}

// String returns the line as stored.
func (e Entry) String() string {
	if e.Timestamp == "" {
		return e.Text
	}
	return e.Timestamp + separator + e.Text
}
