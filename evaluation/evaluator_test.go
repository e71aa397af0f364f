package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/types"
)

func newTestEvaluator(t *testing.T, provider *scriptedProvider) *Evaluator {
	t.Helper()
	collector := metrics.NewCollector("agentlens", prometheus.NewRegistry())
	return NewEvaluator(provider, nil, nil, DefaultConfig(), zap.NewNop(), collector)
}

func TestEvaluatorDispatch(t *testing.T) {
	ctx := context.Background()
	target := Target{WorkspaceID: "ws-1", TaskID: "task-1", ResponseID: "resp-1"}

	t.Run("unknown metric type is a hard error", func(t *testing.T) {
		e := newTestEvaluator(t, &scriptedProvider{})
		def := formulaDef("duration_ms < 5000")
		def.MetricType = types.MetricType("sentiment")
		_, err := e.Evaluate(ctx, def, target, &Sample{})
		require.Error(t, err)
		var te *types.Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, types.ErrUnknownMetricType, te.Code)
	})

	t.Run("missing required config becomes a failed result", func(t *testing.T) {
		e := newTestEvaluator(t, &scriptedProvider{})
		def := formulaDef("")
		result, err := e.Evaluate(ctx, def, target, &Sample{})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Contains(t, result.Reasoning, "requires an expression")
	})

	t.Run("formula compile error becomes a failed result", func(t *testing.T) {
		e := newTestEvaluator(t, &scriptedProvider{})
		result, err := e.Evaluate(ctx, formulaDef("duration_ms <"), target, &Sample{})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.NotEmpty(t, result.Reasoning)
	})

	t.Run("result carries identity and metric metadata", func(t *testing.T) {
		e := newTestEvaluator(t, &scriptedProvider{})
		sample := &Sample{Performance: types.PerformanceData{DurationMs: 100}}
		result, err := e.Evaluate(ctx, formulaDef("duration_ms < 5000"), target, sample)
		require.NoError(t, err)
		assert.Equal(t, "task-1", result.TaskID)
		assert.Equal(t, "resp-1", result.ResponseID)
		assert.Equal(t, "ws-1", result.WorkspaceID)
		assert.Equal(t, "md-formula", result.MetricDefinitionID)
		assert.Equal(t, "latency_slo", result.MetricName)
		assert.Equal(t, types.MetricTypeFormula, result.MetricType)
		assert.Equal(t, types.MetricCategoryPerformance, result.MetricCategory)
		assert.True(t, result.Passed)
		assert.False(t, result.CreatedAt.IsZero())
	})

	t.Run("judge score is clamped to the unit interval", func(t *testing.T) {
		p := &scriptedProvider{content: `{"passed": true, "score": 3.5, "reasoning": "over-enthusiastic"}`}
		e := newTestEvaluator(t, p)
		result, err := e.Evaluate(ctx, judgeDef(), target, judgeSample())
		require.NoError(t, err)
		require.NotNil(t, result.Score)
		assert.Equal(t, 1.0, *result.Score)
	})

	t.Run("transient provider failure propagates", func(t *testing.T) {
		p := &scriptedProvider{err: errors.New("dial tcp: connection refused")}
		e := newTestEvaluator(t, p)
		_, err := e.Evaluate(ctx, judgeDef(), target, judgeSample())
		require.Error(t, err)
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("variant not wired is a config error", func(t *testing.T) {
		e := NewEvaluator(nil, nil, nil, DefaultConfig(), zap.NewNop(), nil)
		_, err := e.Evaluate(ctx, judgeDef(), target, judgeSample())
		require.Error(t, err)
		assert.True(t, types.IsConfigError(err))
	})
}
