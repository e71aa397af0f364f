package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("formats code and message", func(t *testing.T) {
		err := NewError(ErrConfigInvalid, "bad formula")
		assert.Equal(t, "[CONFIG_INVALID] bad formula", err.Error())
	})

	t.Run("includes cause when set", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewError(ErrStoreUnavailable, "insert failed").WithCause(cause)
		assert.Contains(t, err.Error(), "boom")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("builder methods chain", func(t *testing.T) {
		err := NewError(ErrProviderUnavailable, "timeout").
			WithRetryable(true).
			WithTrace("tr-1").
			WithMetric("m-1")
		assert.True(t, err.Retryable)
		assert.Equal(t, "tr-1", err.TraceID)
		assert.Equal(t, "m-1", err.MetricID)
	})
}

func TestIsConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown metric type", NewError(ErrUnknownMetricType, "x"), true},
		{"invalid config", NewError(ErrConfigInvalid, "x"), true},
		{"invalid formula", NewError(ErrFormulaInvalid, "x"), true},
		{"transient store error", NewError(ErrStoreUnavailable, "x"), false},
		{"plain error", errors.New("x"), false},
		{"wrapped config error", fmt.Errorf("wrap: %w", NewError(ErrConfigInvalid, "x")), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfigError(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrStoreUnavailable, "x").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrStoreUnavailable, "x")))
	assert.False(t, IsRetryable(errors.New("x")))
}
