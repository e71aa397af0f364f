package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanFinish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("derives duration from timestamps", func(t *testing.T) {
		s := Span{TraceID: "tr", SpanID: "sp", StartedAt: start, Status: SpanStatusRunning}
		s.Finish(start.Add(250*time.Millisecond), SpanStatusCompleted)

		require.NotNil(t, s.DurationMs)
		assert.Equal(t, int64(250), *s.DurationMs)
		assert.Equal(t, SpanStatusCompleted, s.Status)
	})

	t.Run("second finish is a no-op", func(t *testing.T) {
		s := Span{TraceID: "tr", SpanID: "sp", StartedAt: start}
		s.Finish(start.Add(time.Second), SpanStatusCompleted)
		s.Finish(start.Add(2*time.Second), SpanStatusFailed)

		assert.Equal(t, int64(1000), *s.DurationMs)
		assert.Equal(t, SpanStatusCompleted, s.Status)
	})

	t.Run("running span has undefined duration", func(t *testing.T) {
		s := Span{TraceID: "tr", SpanID: "sp", StartedAt: start, Status: SpanStatusRunning}
		assert.Nil(t, s.EndedAt)
		assert.Nil(t, s.DurationMs)
	})
}

func TestSpanValidate(t *testing.T) {
	start := time.Now()
	end := start.Add(-time.Second)

	tests := []struct {
		name    string
		span    Span
		wantErr bool
	}{
		{"valid", Span{TraceID: "tr", SpanID: "a", StartedAt: start}, false},
		{"missing trace id", Span{SpanID: "a"}, true},
		{"missing span id", Span{TraceID: "tr"}, true},
		{"self parent", Span{TraceID: "tr", SpanID: "a", ParentSpanID: "a"}, true},
		{"ends before start", Span{TraceID: "tr", SpanID: "a", StartedAt: start, EndedAt: &end}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.span.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, SpanStatusCompleted.Terminal())
	assert.True(t, SpanStatusFailed.Terminal())
	assert.True(t, SpanStatusCancelled.Terminal())
	assert.False(t, SpanStatusRunning.Terminal())

	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusPartiallyFailed.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"key": "value", "n": float64(3)}

	v, err := m.Value()
	require.NoError(t, err)

	var got JSONMap
	require.NoError(t, got.Scan(v))
	assert.Equal(t, m, got)

	t.Run("nil survives", func(t *testing.T) {
		var nilMap JSONMap
		v, err := nilMap.Value()
		require.NoError(t, err)
		assert.Nil(t, v)

		var got JSONMap
		require.NoError(t, got.Scan(nil))
		assert.Nil(t, got)
	})
}

func TestMetricDefinitionValidate(t *testing.T) {
	tests := []struct {
		name     string
		def      MetricDefinition
		wantCode ErrorCode
	}{
		{
			"unknown type",
			MetricDefinition{ID: "m1", MetricType: "regex"},
			ErrUnknownMetricType,
		},
		{
			"judge without criteria",
			MetricDefinition{ID: "m2", MetricType: MetricTypeLLMJudge},
			ErrConfigInvalid,
		},
		{
			"code without body",
			MetricDefinition{ID: "m3", MetricType: MetricTypePythonCode},
			ErrConfigInvalid,
		},
		{
			"formula without expression",
			MetricDefinition{ID: "m4", MetricType: MetricTypeFormula},
			ErrConfigInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.def.ID, e.MetricID)
		})
	}

	t.Run("valid formula", func(t *testing.T) {
		def := MetricDefinition{
			ID:         "m5",
			MetricType: MetricTypeFormula,
			Config:     MetricConfig{Expression: "duration_ms < 5000"},
		}
		assert.NoError(t, def.Validate())
	})
}
