package service_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/prompt"
	"github.com/contentflow/wfm/internal/service"
)

type terminalCall struct {
	id  string
	out service.Outcome
}

type notifyRecorder struct {
	mu    sync.Mutex
	calls []terminalCall
}

func (n *notifyRecorder) OnJobTerminal(_ context.Context, id string, out service.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, terminalCall{id: id, out: out})
}

func (n *notifyRecorder) only(t *testing.T) terminalCall {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.calls, 1)
	return n.calls[0]
}

type supervisorEnv struct {
	dir   string
	data  string
	logs  *joblog.Dir
	store artifact.Store
	sup   *service.Supervisor
}

func newSupervisorEnv(t *testing.T, store artifact.Store) *supervisorEnv {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "backend")

	if store == nil {
		local, err := artifact.NewLocalStore(data)
		require.NoError(t, err)
		t.Cleanup(func() { _ = local.Close() })
		store = local
	}

	cfg := model.DefaultConfig()
	cfg.Service.DataDir = data
	sup, err := service.NewSupervisor(cfg, store)
	require.NoError(t, err)

	logs, err := joblog.New(cfg.Service.LogDirPath())
	require.NoError(t, err)

	return &supervisorEnv{dir: dir, data: data, logs: logs, store: store, sup: sup}
}

func (e *supervisorEnv) job(id string, kind model.Kind, params model.Params) model.Job {
	return model.Job{ID: id, Kind: kind, Params: params, Log: e.logs.Sink(id)}
}

func logTexts(t *testing.T, sink *joblog.Sink) []string {
	t.Helper()
	entries, err := sink.ReadAll()
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		require.NotEmpty(t, e.Timestamp, e.Text)
		out = append(out, e.Text)
	}
	return out
}

var acmeParams = model.Params{
	"brand_name": "Acme",
	"urls":       []any{"https://acme.test", "https://blog.acme.test"},
}

const successWorker = `cat > prompt.txt
echo '{"type":"system","subtype":"init","session_id":"s1"}'
echo 'not json'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"Researching"}]}}'
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Write","input":{"file_path":"backend/brand-data/acme_brand_data.json"}}]}}'
mkdir -p backend/brand-data && echo '{}' > backend/brand-data/acme_brand_data.json
echo '{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"duration_ms":1500}'
`

func TestSupervisor_Completed(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	env := newSupervisorEnv(t, nil)
	env.sup.WithCommand(sh, "-c", successWorker)

	job := env.job("a1b2c3d4", model.KindBrandData, acmeParams)
	var n notifyRecorder
	env.sup.Execute(t.Context(), job, &n)

	call := n.only(t)
	require.Equal(t, job.ID, call.id)
	require.Equal(t, model.StatusCompleted, call.out.Status)
	require.Equal(t, []string{"acme_brand_data.json"}, call.out.Artifacts)
	require.Equal(t, 0, call.out.ExitCode)
	require.NoError(t, call.out.Err)

	require.Equal(t, []string{
		"Starting job type: brand_data",
		"Working directory: " + env.dir,
		"Executing worker...",
		"Session initialized: s1",
		"Researching",
		"🔧 Tool: Write → backend/brand-data/acme_brand_data.json",
		"  ✓ Write: success → ok",
		"Task success (took 1.5s)",
		"Process completed with return code: 0",
	}, logTexts(t, job.Log))

	text, err := os.ReadFile(filepath.Join(env.dir, "prompt.txt"))
	require.NoError(t, err)
	require.Contains(t, string(text), `Research the brand "Acme"`)
	require.Contains(t, string(text), "- https://blog.acme.test")
	require.Contains(t, string(text), "backend/brand-data/acme_brand_data.json")
}

func TestSupervisor_Failed(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var testCases = []struct {
		scenario string
		script   string
		exitCode int
		want     []string
	}{
		{
			scenario: "non zero exit",
			script:   "cat > /dev/null; echo 'first problem' 1>&2; echo 'second problem' 1>&2; exit 2",
			exitCode: 2,
			want: []string{
				"Process completed with return code: 2",
				"stderr: first problem",
				"stderr: second problem",
			},
		},
		{
			scenario: "error result with exit",
			script:   `cat > /dev/null; echo '{"type":"result","is_error":true,"duration_ms":400}'; exit 1`,
			exitCode: 1,
			want: []string{
				"Task error (took 0.4s)",
				"Process completed with return code: 1",
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			env := newSupervisorEnv(t, nil)
			env.sup.WithCommand(sh, "-c", tc.script)

			job := env.job("f0000001", model.KindBrandData, acmeParams)
			var n notifyRecorder
			env.sup.Execute(t.Context(), job, &n)

			call := n.only(t)
			require.Equal(t, model.StatusFailed, call.out.Status)
			require.Equal(t, tc.exitCode, call.out.ExitCode)
			require.Empty(t, call.out.Artifacts)
			require.NoError(t, call.out.Err)

			texts := logTexts(t, job.Log)
			require.Subset(t, texts, tc.want)
			require.Equal(t, tc.want, texts[len(texts)-len(tc.want):])
		})
	}
}

func TestSupervisor_MissingArtifact(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	env := newSupervisorEnv(t, nil)
	env.sup.WithCommand(sh, "-c", "cat > /dev/null; echo done")

	job := env.job("m1551ng0", model.KindBrandData, acmeParams)
	var n notifyRecorder
	env.sup.Execute(t.Context(), job, &n)

	call := n.only(t)
	require.Equal(t, model.StatusCompleted, call.out.Status)
	require.Empty(t, call.out.Artifacts)

	texts := logTexts(t, job.Log)
	require.Equal(t, "Output file not found: brand-data/acme_brand_data.json", texts[len(texts)-1])
}

func TestSupervisor_InternalFault(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var testCases = []struct {
		scenario string
		path     string
		kind     model.Kind
		params   model.Params
		errIs    error
		cause    string
		worker   bool
	}{
		{
			scenario: "unknown kind",
			path:     sh,
			kind:     model.Kind("poem"),
			params:   model.Params{},
			errIs:    prompt.ErrUnknownKind,
			cause:    "caused by: unknown job type (*errors.errorString)",
		},
		{
			scenario: "missing parameter",
			path:     sh,
			kind:     model.KindBrief,
			params:   model.Params{"title": "Guide", "brand_data": "acme_brand_data.json"},
			errIs:    prompt.ErrMissingParam,
			cause:    "caused by: missing parameter (*errors.errorString)",
		},
		{
			scenario: "worker not installed",
			path:     filepath.Join(t.TempDir(), "claude"),
			kind:     model.KindBrandData,
			params:   acmeParams,
			errIs:    os.ErrNotExist,
			cause:    "caused by: no such file or directory (syscall.Errno)",
			worker:   true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			env := newSupervisorEnv(t, nil)
			env.sup.WithCommand(tc.path)

			job := env.job("e7700001", tc.kind, tc.params)
			var n notifyRecorder
			env.sup.Execute(t.Context(), job, &n)

			call := n.only(t)
			require.Equal(t, model.StatusFailed, call.out.Status)
			require.Equal(t, -1, call.out.ExitCode)
			require.ErrorIs(t, call.out.Err, tc.errIs)

			texts := logTexts(t, job.Log)
			require.Equal(t, "Starting job type: "+string(tc.kind), texts[0])
			require.Equal(t, tc.worker, slices.Contains(texts, "Executing worker..."))

			i := slices.IndexFunc(texts, func(s string) bool { return strings.HasPrefix(s, "Error: ") })
			require.NotEqual(t, -1, i, texts)
			trace := texts[i+1:]
			require.GreaterOrEqual(t, len(trace), 4, texts)
			require.Equal(t, []string{
				"Trace: job e7700001 type " + string(tc.kind),
				"Trace: command: " + tc.path,
				"Trace: dir: " + env.dir,
			}, trace[:3])
			for _, line := range trace {
				require.True(t, strings.HasPrefix(line, "Trace: "), texts)
			}
			require.Equal(t, "Trace: "+tc.cause, trace[len(trace)-1])
		})
	}
}

// panicStore fails the artifact lookup in the worst possible way.
type panicStore struct {
	artifact.Store
}

func (panicStore) Exists(context.Context, string, string) (bool, error) {
	panic("store exploded")
}

func TestSupervisor_Panic(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	env := newSupervisorEnv(t, panicStore{})
	env.sup.WithCommand(sh, "-c", "cat > /dev/null")

	job := env.job("9a1c0000", model.KindBrandData, acmeParams)
	var n notifyRecorder
	env.sup.Execute(t.Context(), job, &n)

	call := n.only(t)
	require.Equal(t, model.StatusFailed, call.out.Status)
	require.ErrorContains(t, call.out.Err, "store exploded")

	texts := logTexts(t, job.Log)
	require.Contains(t, texts, "Process completed with return code: 0")
	require.Contains(t, texts, "Error: panic: store exploded")
	require.True(t, strings.HasPrefix(texts[len(texts)-1], "Trace: "), texts)
}

func TestSupervisor_WorkerEnv(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	dir := t.TempDir()
	data := filepath.Join(dir, "backend")
	store, err := artifact.NewLocalStore(data)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := model.DefaultConfig()
	cfg.Service.DataDir = data
	cfg.Worker.Path = sh
	cfg.Worker.Env = map[string]string{"wfm_greeting": "hello"}
	sup, err := service.NewSupervisor(cfg, store)
	require.NoError(t, err)
	// the worker arguments are replaced, the environment stays
	sup.WithCommand(sh, "-c", `cat > /dev/null; echo "{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"$WFM_GREETING\"}]}}"`)

	logs, err := joblog.New(filepath.Join(data, "logs"))
	require.NoError(t, err)
	job := model.Job{ID: "e0000001", Kind: model.KindBrandData, Params: acmeParams, Log: logs.Sink("e0000001")}
	var n notifyRecorder
	sup.Execute(t.Context(), job, &n)

	require.Equal(t, model.StatusCompleted, n.only(t).out.Status)
	require.Contains(t, logTexts(t, job.Log), "hello")
}

func TestSupervisor_Mirror(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	env := newSupervisorEnv(t, nil)

	shared, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = shared.Close() })
	require.NoError(t, shared.Write(t.Context(), prompt.FolderBrandData, "acme_brand_data.json", []byte(`{}`)))
	env.sup.WithMirror(shared)

	params := model.Params{
		"title":           "Widget Guide",
		"primary_keyword": "widgets",
		"brand_data":      "acme_brand_data.json",
	}
	t.Run("inputs and output are copied", func(t *testing.T) {
		env.sup.WithCommand(sh, "-c", `cat > /dev/null
test -f backend/brand-data/acme_brand_data.json || exit 5
mkdir -p backend/brief-outputs && echo '# Widget Guide' > backend/brief-outputs/widget_guide_brief.md`)

		job := env.job("b0000001", model.KindBrief, params)
		var n notifyRecorder
		env.sup.Execute(t.Context(), job, &n)

		call := n.only(t)
		require.Equal(t, model.StatusCompleted, call.out.Status)
		require.Equal(t, []string{"widget_guide_brief.md"}, call.out.Artifacts)
		require.Contains(t, logTexts(t, job.Log), "Output file uploaded: brief-outputs/widget_guide_brief.md")

		data, err := shared.Read(t.Context(), prompt.FolderBriefs, "widget_guide_brief.md")
		require.NoError(t, err)
		require.Equal(t, "# Widget Guide\n", string(data))
	})

	t.Run("missing input", func(t *testing.T) {
		missing := params.Clone()
		missing["brand_data"] = "other_brand_data.json"
		job := env.job("b0000002", model.KindBrief, missing)
		var n notifyRecorder
		env.sup.Execute(t.Context(), job, &n)

		call := n.only(t)
		require.Equal(t, model.StatusFailed, call.out.Status)
		require.ErrorIs(t, call.out.Err, artifact.ErrNotFound)
		require.NotContains(t, logTexts(t, job.Log), "Executing worker...")
	})
}
