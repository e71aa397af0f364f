package evaluation

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/internal/telemetry"
	"github.com/BaSui01/agentlens/llm"
	"github.com/BaSui01/agentlens/sandbox"
	"github.com/BaSui01/agentlens/trace"
	"github.com/BaSui01/agentlens/types"
)

// Sample is the material handed to a variant for scoring: the task's
// input, its final output, and the performance numbers gathered from the
// response's spans.
type Sample struct {
	TaskInput   json.RawMessage
	TaskOutput  json.RawMessage
	Performance types.PerformanceData
}

// Target identifies the response an evaluation result attaches to.
type Target struct {
	WorkspaceID   string
	TaskID        string
	ResponseID    string
	ResponseIndex int
}

// Outcome is the raw verdict produced by a single variant run.
type Outcome struct {
	Passed    bool
	Score     *float64
	Reasoning string
	CostUSD   float64
}

// variant is one concrete evaluator implementation. A returned error
// carries a types.Error code; anything the variant can express as a
// negative verdict comes back as an Outcome instead.
type variant interface {
	Evaluate(ctx context.Context, def *types.MetricDefinition, sample *Sample) (*Outcome, error)
}

// Config tunes the evaluator variants.
type Config struct {
	// JudgeModel is used when a metric definition does not name one.
	JudgeModel string `yaml:"judge_model" json:"judge_model"`
	// JudgeTimeout bounds a single judge completion call.
	JudgeTimeout time.Duration `yaml:"judge_timeout" json:"judge_timeout"`
	// PassScore is the default score threshold for judge metrics whose
	// definition does not set one.
	PassScore float64 `yaml:"pass_score" json:"pass_score"`
}

// DefaultConfig returns the evaluator defaults.
func DefaultConfig() Config {
	return Config{
		JudgeModel:   "gpt-4o-mini",
		JudgeTimeout: 60 * time.Second,
		PassScore:    0.7,
	}
}

// Evaluator dispatches a metric definition to the variant matching its
// type and shapes the verdict into a persistable EvaluationResult.
type Evaluator struct {
	variants  map[types.MetricType]variant
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewEvaluator wires the three variants. provider and runner may be nil
// when the deployment does not use the corresponding metric type;
// evaluating such a metric then yields a hard configuration error.
func NewEvaluator(provider llm.Provider, runner sandbox.Runner, costs *trace.CostCalculator, cfg Config, logger *zap.Logger, collector *metrics.Collector) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	variants := map[types.MetricType]variant{
		types.MetricTypeFormula: newFormulaVariant(),
	}
	if provider != nil {
		variants[types.MetricTypeLLMJudge] = newJudgeVariant(provider, costs, cfg)
	}
	if runner != nil {
		variants[types.MetricTypePythonCode] = newCodeVariant(runner)
	}
	return &Evaluator{
		variants:  variants,
		logger:    logger,
		collector: collector,
	}
}

// Evaluate runs one metric against one response and returns the result to
// persist. It returns an error only for an unknown metric type, a
// definition that fails validation, or a transient infrastructure
// failure; every other negative path is a result with Passed=false and
// the cause in Reasoning.
func (e *Evaluator) Evaluate(ctx context.Context, def *types.MetricDefinition, target Target, sample *Sample) (*types.EvaluationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "evaluation.Evaluate",
		attribute.String("metric.name", def.Name),
		attribute.String("metric.type", string(def.MetricType)),
	)
	var evalErr error
	defer func() { telemetry.EndSpan(span, evalErr) }()

	if !def.MetricType.Valid() {
		// An unknown type means the dispatcher cannot even pick a
		// variant; unlike other configuration problems this is a hard
		// error, never a recorded verdict.
		evalErr = types.NewError(types.ErrUnknownMetricType,
			"unknown metric type "+string(def.MetricType)).WithMetric(def.ID)
		return nil, evalErr
	}
	v, ok := e.variants[def.MetricType]
	if !ok {
		evalErr = types.NewError(types.ErrConfigInvalid,
			"no evaluator wired for metric type "+string(def.MetricType)).
			WithMetric(def.ID)
		return nil, evalErr
	}

	start := time.Now()
	outcome, err := e.run(ctx, v, def, sample)
	elapsed := time.Since(start)
	if err != nil {
		if types.IsConfigError(err) {
			// The metric author needs to see the configuration
			// problem, so it lands in the result rather than
			// vanishing into a log line.
			outcome = &Outcome{Passed: false, Reasoning: err.Error()}
		} else {
			e.observe(def, false, elapsed, 0)
			evalErr = err
			return nil, err
		}
	}
	if outcome.Score != nil {
		clamped := clampScore(*outcome.Score)
		outcome.Score = &clamped
	}

	result := &types.EvaluationResult{
		TaskID:             target.TaskID,
		ResponseID:         target.ResponseID,
		ResponseIndex:      target.ResponseIndex,
		WorkspaceID:        target.WorkspaceID,
		MetricDefinitionID: def.ID,
		MetricName:         def.Name,
		MetricType:         def.MetricType,
		MetricCategory:     def.Category,
		Passed:             outcome.Passed,
		Score:              outcome.Score,
		Reasoning:          outcome.Reasoning,
		EvalDurationMs:     elapsed.Milliseconds(),
		EvalCostUSD:        outcome.CostUSD,
		CreatedAt:          time.Now().UTC(),
	}
	e.observe(def, outcome.Passed, elapsed, outcome.CostUSD)
	e.logger.Debug("metric evaluated",
		zap.String("metric_name", def.Name),
		zap.String("metric_type", string(def.MetricType)),
		zap.String("response_id", target.ResponseID),
		zap.Bool("passed", outcome.Passed),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// run validates the definition and executes the variant. Validation
// failures come back as config errors for the caller to fold into the
// result.
func (e *Evaluator) run(ctx context.Context, v variant, def *types.MetricDefinition, sample *Sample) (*Outcome, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return v.Evaluate(ctx, def, sample)
}

func (e *Evaluator) observe(def *types.MetricDefinition, passed bool, elapsed time.Duration, costUSD float64) {
	if e.collector == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	e.collector.RecordEvaluation(string(def.MetricType), outcome, elapsed, costUSD)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
