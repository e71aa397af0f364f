// Package sandbox executes user-supplied scoring code in isolation. The
// pipeline treats the sandbox as an opaque capability: code goes in with a
// verdict payload out, bounded by a hard timeout, with no network access.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Input is the payload handed to the user's scoring function.
type Input struct {
	TaskInput       json.RawMessage    `json:"task_input"`
	TaskOutput      json.RawMessage    `json:"task_output"`
	PerformanceData map[string]float64 `json:"performance_data"`
}

// Verdict is what the scoring function produced. Score is nil when the
// function returned a bare boolean.
type Verdict struct {
	Passed bool     `json:"passed"`
	Score  *float64 `json:"score,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Runner executes one scoring function against one input. Implementations
// must enforce their own wall-clock bound; a run that exceeds it returns an
// error rather than hanging.
type Runner interface {
	Run(ctx context.Context, code string, input Input) (*Verdict, error)
}

// harnessTemplate wraps the user's function so the container prints exactly
// one JSON verdict line on stdout. The user code must define
// evaluate(task_input, task_output, performance_data) returning a bool or a
// (passed, score) pair; any exception becomes a verdict with an error field.
const harnessTemplate = `import json, sys

%s

def _main():
    payload = json.load(sys.stdin)
    try:
        result = evaluate(payload["task_input"], payload["task_output"], payload["performance_data"])
    except Exception as exc:
        print(json.dumps({"passed": False, "error": "%%s: %%s" %% (type(exc).__name__, exc)}))
        return
    if isinstance(result, bool):
        print(json.dumps({"passed": result}))
    elif isinstance(result, (tuple, list)) and len(result) == 2:
        print(json.dumps({"passed": bool(result[0]), "score": float(result[1])}))
    else:
        print(json.dumps({"passed": False, "error": "evaluate() must return bool or (passed, score), got %%r" %% (result,)}))

_main()
`

// buildHarness embeds the user code into the verdict harness.
func buildHarness(code string) string {
	return fmt.Sprintf(harnessTemplate, code)
}

// parseVerdict extracts the verdict from the harness stdout. The verdict is
// the last non-empty line so user print statements do not break parsing.
func parseVerdict(stdout string) (*Verdict, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var v Verdict
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, fmt.Errorf("scoring output is not a verdict: %q", line)
		}
		return &v, nil
	}
	return nil, fmt.Errorf("scoring code produced no output")
}

// Config configures the Docker runner.
type Config struct {
	// Image is the container image holding the Python runtime.
	Image string `yaml:"image" json:"image"`
	// Timeout is the hard wall-clock bound for one run.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MemoryBytes caps the container's memory; zero means the daemon default.
	MemoryBytes int64 `yaml:"memory_bytes" json:"memory_bytes"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Image:   "python:3.12-alpine",
		Timeout: 30 * time.Second,
	}
}
