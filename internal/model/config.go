package model

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"

	_ "embed"
)

const (
	StorageLocal    = "local"
	StorageSupabase = "supabase"

	DefaultMaxConcurrent = 5
	DefaultListen        = ":8000"
	DefaultDataDir       = "backend"
	DefaultWorkerPath    = "claude"
	DefaultPollInterval  = "500ms"
	DefaultTailWait      = "5s"
	DefaultJanitorEvery  = "1h"
	DefaultRetention     = "7d"
	DefaultBucket        = "workflow-files"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Service Service `json:"service" yaml:"service"`
	Worker  Worker  `json:"worker" yaml:"worker"`
	Tail    Tail    `json:"tail" yaml:"tail"`
	Storage Storage `json:"storage" yaml:"storage"`
	Janitor Janitor `json:"janitor" yaml:"janitor"`
}

type Service struct {
	Listen        string `json:"listen,omitempty" yaml:"listen"`
	Verbose       bool   `json:"verbose,omitempty" yaml:"verbose"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	DataDir       string `json:"data_dir,omitempty" yaml:"data_dir"`
	LogDir        string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"` // empty => <data_dir>/logs
}

// Worker describes the external generation process. Its arguments are fixed
// by the supervisor and cannot be configured.
type Worker struct {
	Path    string            `json:"path,omitempty" yaml:"path"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // empty => no timeout
}

type Tail struct {
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval"`
	Wait         string `json:"wait,omitempty" yaml:"wait"`
	Watch        *bool  `json:"watch,omitempty" yaml:"watch,omitempty"`
}

type Storage struct {
	Backend  string   `json:"backend,omitempty" yaml:"backend"` // "local" | "supabase"
	Supabase Supabase `json:"supabase" yaml:"supabase,omitempty"`
}

type Supabase struct {
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// Janitor removes log files left behind by previous service runs.
type Janitor struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Every     string `json:"every,omitempty" yaml:"every,omitempty"` // 1d2h3m4s form
	Cron      string `json:"cron,omitempty" yaml:"cron,omitempty"`   // wins over every
	Retention string `json:"retention,omitempty" yaml:"retention,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadConfig validates YAML from r against CUE schema, decodes it to Config
// and fills in defaults.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	out.applyDefaults()
	return out, nil
}

// Validate checks the effective configuration, e.g. after ApplyEnv, against
// the same schema LoadConfig uses.
func (c Config) Validate() error {
	v := cueCtx.Encode(c)
	if v.Err() != nil {
		return v.Err()
	}
	return schema.Unify(v).Validate(cue.All(), cue.Concrete(true))
}

// envBindings maps config keys to the environment variables overriding them.
// The first name listed for max_concurrent is the historical one.
var envBindings = [][]string{
	{"service.max_concurrent", "MAX_CONCURRENT_JOBS", "WFM_MAX_CONCURRENT"},
	{"service.listen", "WFM_LISTEN"},
	{"service.data_dir", "WFM_DATA_DIR"},
	{"worker.path", "WFM_WORKER_PATH"},
	{"storage.supabase.url", "SUPABASE_URL"},
	{"storage.supabase.key", "SUPABASE_SERVICE_ROLE_KEY"},
	{"storage.supabase.bucket", "SUPABASE_BUCKET"},
}

// ApplyEnv overrides cfg with values found in the environment. Call Validate
// afterwards.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	for _, b := range envBindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("binding %s: %w", b[0], err)
		}
	}

	if v.IsSet("service.max_concurrent") {
		cfg.Service.MaxConcurrent = v.GetInt("service.max_concurrent")
	}
	set := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	set("service.listen", &cfg.Service.Listen)
	set("service.data_dir", &cfg.Service.DataDir)
	set("worker.path", &cfg.Worker.Path)
	set("storage.supabase.url", &cfg.Storage.Supabase.URL)
	set("storage.supabase.key", &cfg.Storage.Supabase.Key)
	set("storage.supabase.bucket", &cfg.Storage.Supabase.Bucket)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Service.Listen == "" {
		c.Service.Listen = DefaultListen
	}
	if c.Service.MaxConcurrent == 0 {
		c.Service.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Service.DataDir == "" {
		c.Service.DataDir = DefaultDataDir
	}
	if c.Worker.Path == "" {
		c.Worker.Path = DefaultWorkerPath
	}
	if c.Tail.PollInterval == "" {
		c.Tail.PollInterval = DefaultPollInterval
	}
	if c.Tail.Wait == "" {
		c.Tail.Wait = DefaultTailWait
	}
	if c.Tail.Watch == nil {
		c.Tail.Watch = ptr(true)
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if c.Storage.Supabase.Bucket == "" {
		c.Storage.Supabase.Bucket = DefaultBucket
	}
	if c.Janitor.Enabled == nil {
		c.Janitor.Enabled = ptr(true)
	}
	if c.Janitor.Every == "" && c.Janitor.Cron == "" {
		c.Janitor.Every = DefaultJanitorEvery
	}
	if c.Janitor.Retention == "" {
		c.Janitor.Retention = DefaultRetention
	}
}

// LogDirPath returns the directory holding per job log files.
func (s Service) LogDirPath() string {
	if s.LogDir != "" {
		return s.LogDir
	}
	return filepath.Join(s.DataDir, "logs")
}

// WorkDir is the directory the worker runs in: the parent of the data dir.
func (s Service) WorkDir() (string, error) {
	abs, err := filepath.Abs(s.DataDir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir: %w", err)
	}
	return filepath.Dir(abs), nil
}

// TimeoutDuration returns zero when no timeout is configured.
func (w Worker) TimeoutDuration() time.Duration {
	return mustDuration(w.Timeout, 0)
}

// PollIntervalDuration falls back to the default for intervals a ticker
// cannot use.
func (t Tail) PollIntervalDuration() time.Duration {
	if d := mustDuration(t.PollInterval, defaultPoll); d > 0 {
		return d
	}
	return defaultPoll
}

func (t Tail) WaitDuration() time.Duration {
	return mustDuration(t.Wait, 5*time.Second)
}

// mustDuration parses a schema validated duration, returning dflt for empty
// or unparsable input.
func mustDuration(s string, dflt time.Duration) time.Duration {
	if s == "" {
		return dflt
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return dflt
	}
	return d
}

const defaultPoll = 500 * time.Millisecond

func ptr[T any](v T) *T {
	return &v
}

// Get dereferences an optional value, returning the zero value for nil.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
