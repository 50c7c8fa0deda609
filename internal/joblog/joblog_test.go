package joblog_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/contentflow/wfm/internal/joblog"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newDir(t *testing.T) *joblog.Dir {
	t.Helper()
	dir, err := joblog.New(t.TempDir())
	require.NoError(t, err)
	return dir.WithClock(fixedClock)
}

func TestSink_AppendAndRead(t *testing.T) {
	t.Parallel()
	sink := newDir(t).Sink("ab12cd34")
	require.False(t, sink.Exists())
	require.Equal(t, "ab12cd34.log", filepath.Base(sink.Path()))

	require.NoError(t, sink.Append("Starting job type: brief"))
	require.NoError(t, sink.Append("Process completed with return code: 0"))
	require.True(t, sink.Exists())

	raw, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	require.Equal(t,
		"09:26:53 | Starting job type: brief\n09:26:53 | Process completed with return code: 0\n",
		string(raw))

	entries, err := sink.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []joblog.Entry{
		{Timestamp: "09:26:53", Text: "Starting job type: brief"},
		{Timestamp: "09:26:53", Text: "Process completed with return code: 0"},
	}, entries)
}

func TestSink_AppendMultiline(t *testing.T) {
	t.Parallel()
	sink := newDir(t).Sink("multi")

	require.NoError(t, sink.Append("first\nsecond\r\n\nlast\n"))
	require.NoError(t, sink.Append(""))

	entries, err := sink.ReadAll()
	require.NoError(t, err)
	var texts []string
	for _, e := range entries {
		require.Equal(t, "09:26:53", e.Timestamp)
		texts = append(texts, e.Text)
	}
	require.Equal(t, []string{"first", "second", "", "last", ""}, texts)
}

func TestSink_ReadFrom(t *testing.T) {
	t.Parallel()
	sink := newDir(t).Sink("offset")

	_, _, err := sink.ReadFrom(0)
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, sink.Append("one"))
	entries, next, err := sink.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(len("09:26:53 | one\n")), next)

	// nothing new
	entries, again, err := sink.ReadFrom(next)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, next, again)

	// a partial line is not consumed
	f, err := os.OpenFile(sink.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("09:26:54 | tw")
	require.NoError(t, err)
	entries, partial, err := sink.ReadFrom(next)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, next, partial)

	_, err = f.WriteString("o\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, _, err = sink.ReadFrom(next)
	require.NoError(t, err)
	require.Equal(t, []joblog.Entry{{Timestamp: "09:26:54", Text: "two"}}, entries)
}

func TestParseEntry(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     joblog.Entry
	}{
		{"regular", "10:00:01 | hello", joblog.Entry{Timestamp: "10:00:01", Text: "hello"}},
		{"separator in text", "10:00:01 | a | b", joblog.Entry{Timestamp: "10:00:01", Text: "a | b"}},
		{"no timestamp", "just text", joblog.Entry{Text: "just text"}},
		{"not a time", "later | text", joblog.Entry{Text: "later | text"}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			got := joblog.ParseEntry(tc.given)
			require.Equal(t, tc.then, got)
			require.Equal(t, tc.given, got.String())
		})
	}
}

func TestJobID(t *testing.T) {
	t.Parallel()
	id, ok := joblog.JobID("ab12cd34.log")
	require.True(t, ok)
	require.Equal(t, "ab12cd34", id)

	for _, name := range []string{".log", "notes.txt", "ab12cd34.log.bak"} {
		_, ok := joblog.JobID(name)
		require.False(t, ok, name)
	}
}

func TestSink_Watch(t *testing.T) {
	t.Parallel()
	sink := newDir(t).Sink("watched")
	require.NoError(t, sink.Append("created"))

	w, err := sink.Watch()
	if err != nil && strings.Contains(err.Error(), "too many open files") {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	require.NoError(t, err)

	require.NoError(t, sink.Append("grown"))
	select {
	case <-w.C():
	case <-time.After(5 * time.Second):
		t.Fatal("no write notification")
	}
	require.NoError(t, w.Close())
}
