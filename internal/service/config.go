package service

import (
	"os"
	"slices"
	"strings"

	"github.com/contentflow/wfm/internal/model"
)

// WorkerArgs are passed to every worker: print mode, no permission prompts
// and one JSON record per output line.
var WorkerArgs = []string{
	"--print",
	"--verbose",
	"--dangerously-skip-permissions",
	"--output-format", "stream-json",
}

// workerCommand returns the command template of cfg. Values starting with $
// are expanded from the service environment.
func workerCommand(cfg model.Worker) Command {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	slices.Sort(env)
	return Command{
		Path:    cfg.Path,
		Args:    slices.Clone(WorkerArgs),
		Env:     env,
		Timeout: cfg.TimeoutDuration(),
	}
}
