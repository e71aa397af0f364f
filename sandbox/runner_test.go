package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHarness(t *testing.T) {
	code := "def evaluate(task_input, task_output, performance_data):\n    return True"
	harness := buildHarness(code)

	assert.Contains(t, harness, code)
	assert.Contains(t, harness, "json.load(sys.stdin)")
	// The user code slot must come before the driver.
	assert.Less(t, strings.Index(harness, "def evaluate"), strings.Index(harness, "_main()"))
}

func TestParseVerdict(t *testing.T) {
	t.Run("bare boolean verdict", func(t *testing.T) {
		v, err := parseVerdict(`{"passed": true}`)
		require.NoError(t, err)
		assert.True(t, v.Passed)
		assert.Nil(t, v.Score)
	})

	t.Run("passed and score pair", func(t *testing.T) {
		v, err := parseVerdict(`{"passed": true, "score": 0.85}`)
		require.NoError(t, err)
		assert.True(t, v.Passed)
		require.NotNil(t, v.Score)
		assert.Equal(t, 0.85, *v.Score)
	})

	t.Run("exception verdict", func(t *testing.T) {
		v, err := parseVerdict(`{"passed": false, "error": "KeyError: 'response'"}`)
		require.NoError(t, err)
		assert.False(t, v.Passed)
		assert.Equal(t, "KeyError: 'response'", v.Error)
	})

	t.Run("user prints do not break parsing", func(t *testing.T) {
		out := "debugging...\nstill going\n{\"passed\": true, \"score\": 1.0}\n"
		v, err := parseVerdict(out)
		require.NoError(t, err)
		assert.True(t, v.Passed)
	})

	t.Run("garbage output is an error", func(t *testing.T) {
		_, err := parseVerdict("Traceback (most recent call last):")
		assert.Error(t, err)
	})

	t.Run("empty output is an error", func(t *testing.T) {
		_, err := parseVerdict("")
		assert.Error(t, err)
		_, err = parseVerdict("\n \n")
		assert.Error(t, err)
	})
}
