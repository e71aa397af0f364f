package evaluation

import (
	"context"
	"errors"

	"github.com/BaSui01/agentlens/sandbox"
	"github.com/BaSui01/agentlens/types"
)

// codeVariant runs the metric's Python scoring function in a sandbox.
// Exceptions raised by the user's code, timeouts, and unusable output all
// become negative verdicts with the cause as reasoning; only a sandbox
// infrastructure failure (no daemon, image pull) surfaces as an error.
type codeVariant struct {
	runner sandbox.Runner
}

func newCodeVariant(runner sandbox.Runner) *codeVariant {
	return &codeVariant{runner: runner}
}

func (c *codeVariant) Evaluate(ctx context.Context, def *types.MetricDefinition, sample *Sample) (*Outcome, error) {
	input := sandbox.Input{
		TaskInput:       sample.TaskInput,
		TaskOutput:      sample.TaskOutput,
		PerformanceData: sample.Performance.Fields(),
	}
	verdict, err := c.runner.Run(ctx, def.Config.Code, input)
	if err != nil {
		var te *types.Error
		if errors.As(err, &te) && te.Code == types.ErrSandboxTimeout {
			return &Outcome{
				Passed:    false,
				Reasoning: "scoring code timed out: " + err.Error(),
			}, nil
		}
		// A runner that flags the scoring code itself as broken is a
		// configuration problem; the dispatcher folds it into a failed
		// result the same way a formula compile error is.
		if types.IsConfigError(err) {
			return nil, err
		}
		return nil, types.NewError(types.ErrSandboxUnavailable,
			"sandbox run failed").WithMetric(def.ID).WithCause(err).WithRetryable(true)
	}
	if verdict.Error != "" {
		return &Outcome{Passed: false, Reasoning: verdict.Error}, nil
	}
	return &Outcome{Passed: verdict.Passed, Score: verdict.Score}, nil
}
