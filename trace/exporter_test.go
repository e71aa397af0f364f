package trace

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

type failingSpanStore struct{ err error }

func (f *failingSpanStore) InsertSpans(ctx context.Context, spans []types.Span) error {
	return f.err
}

func (f *failingSpanStore) ListUnevaluated(ctx context.Context, workspaceID, metricDefinitionID string, sf store.SpanFilter) ([]types.Span, error) {
	return nil, f.err
}

var rootInput = json.RawMessage(`{"task_id":"task-1","agent_id":"agent-1","agent_version":"v3","workspace_id":"ws-1"}`)

func sampleHistory() *ExecutionHistory {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)
	genEnd1 := start.Add(200 * time.Millisecond)
	genEnd2 := start.Add(800 * time.Millisecond)

	return &ExecutionHistory{
		TraceID: "run-42",
		Root: &NodeRecord{
			ID:        "wf-1",
			Name:      "agent_task",
			Kind:      NodeKindWorkflow,
			StartedAt: start,
			EndedAt:   &end,
			Status:    "completed",
			Input:     rootInput,
			Children: []*NodeRecord{
				{
					ID: "gen-1", Name: "draft", Kind: NodeKindGeneration,
					StartedAt: start, EndedAt: &genEnd1, Status: "completed",
					Output: json.RawMessage(`{"text":"hello"}`),
					LLM:    &LLMCall{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 30, OutputTokens: 20},
				},
				{
					ID: "act-1", Name: "post_process", Kind: NodeKindActivity,
					StartedAt: start.Add(300 * time.Millisecond), EndedAt: &genEnd2, Status: "completed",
					Children: []*NodeRecord{
						{
							ID: "gen-2", Name: "refine", Kind: NodeKindGeneration,
							StartedAt: start.Add(400 * time.Millisecond), EndedAt: &genEnd2, Status: "completed",
							LLM: &LLMCall{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 50, OutputTokens: 30},
						},
					},
				},
			},
		},
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()

	t.Run("flattens history into spans with propagated business ids", func(t *testing.T) {
		st := store.NewMemoryStore()
		exp := NewExporter(st, nil, DefaultExporterConfig(), nil, nil)

		result, err := exp.Export(ctx, sampleHistory())
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 4, result.SpansExported)

		spans, err := st.ListUnevaluated(ctx, "ws-1", "any", store.SpanFilter{})
		require.NoError(t, err)
		require.Len(t, spans, 2) // only generation spans
		for _, s := range spans {
			assert.Equal(t, "run-42", s.TraceID)
			assert.Equal(t, "task-1", s.TaskID)
			assert.Equal(t, "agent-1", s.AgentID)
			assert.Equal(t, "v3", s.AgentVersion)
		}
	})

	t.Run("assigns parents from nesting", func(t *testing.T) {
		exp := NewExporter(store.NewMemoryStore(), nil, DefaultExporterConfig(), nil, nil)
		spans, err := exp.flatten(sampleHistory())
		require.NoError(t, err)

		byID := make(map[string]types.Span)
		for _, s := range spans {
			byID[s.SpanID] = s
		}
		assert.Empty(t, byID["wf-1"].ParentSpanID)
		assert.Equal(t, "wf-1", byID["gen-1"].ParentSpanID)
		assert.Equal(t, "wf-1", byID["act-1"].ParentSpanID)
		assert.Equal(t, "act-1", byID["gen-2"].ParentSpanID)
	})

	t.Run("prices generation spans only", func(t *testing.T) {
		costs := NewCostCalculator()
		costs.SetPrice("openai", "gpt-4o-mini", 1.0, 2.0) // per 1K tokens
		exp := NewExporter(store.NewMemoryStore(), costs, DefaultExporterConfig(), nil, nil)

		spans, err := exp.flatten(sampleHistory())
		require.NoError(t, err)
		for _, s := range spans {
			switch s.SpanID {
			case "gen-1":
				assert.InDelta(t, 0.03+0.04, s.CostUSD, 1e-9)
				assert.Equal(t, "gpt-4o-mini", s.ModelName)
			case "gen-2":
				assert.InDelta(t, 0.05+0.06, s.CostUSD, 1e-9)
			default:
				assert.Zero(t, s.CostUSD)
				assert.Empty(t, s.ModelName)
			}
		}
	})

	t.Run("re-export is idempotent", func(t *testing.T) {
		st := store.NewMemoryStore()
		exp := NewExporter(st, nil, DefaultExporterConfig(), nil, nil)

		_, err := exp.Export(ctx, sampleHistory())
		require.NoError(t, err)
		_, err = exp.Export(ctx, sampleHistory())
		require.NoError(t, err)

		rows, err := st.PerformanceDaily(ctx, "ws-1", store.AnalyticsFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(200+400), rows[0].TotalDurationMs)
		assert.Equal(t, int64(130), rows[0].TotalTokens)
	})

	t.Run("still-running nodes export as running spans", func(t *testing.T) {
		h := sampleHistory()
		h.Root.EndedAt = nil
		h.Root.Status = ""
		exp := NewExporter(store.NewMemoryStore(), nil, DefaultExporterConfig(), nil, nil)

		spans, err := exp.flatten(h)
		require.NoError(t, err)
		for _, s := range spans {
			if s.SpanID == "wf-1" {
				assert.Equal(t, types.SpanStatusRunning, s.Status)
				assert.Nil(t, s.EndedAt)
				assert.Nil(t, s.DurationMs)
			}
		}
	})

	t.Run("truncates oversized payloads", func(t *testing.T) {
		h := sampleHistory()
		h.Root.Children[0].Output = json.RawMessage(`"` + strings.Repeat("x", 100) + `"`)
		exp := NewExporter(store.NewMemoryStore(), nil, ExporterConfig{MaxPayloadBytes: 64}, nil, nil)

		spans, err := exp.flatten(h)
		require.NoError(t, err)
		for _, s := range spans {
			if s.SpanID == "gen-1" {
				assert.Len(t, s.Output, 64+len(truncationMarker))
				assert.True(t, strings.HasSuffix(s.Output, truncationMarker))
			}
		}
	})

	t.Run("truncation never splits a rune", func(t *testing.T) {
		h := sampleHistory()
		h.Root.Children[0].Output = json.RawMessage(`"` + strings.Repeat("é", 100) + `"`)
		exp := NewExporter(store.NewMemoryStore(), nil, ExporterConfig{MaxPayloadBytes: 64}, nil, nil)

		spans, err := exp.flatten(h)
		require.NoError(t, err)
		for _, s := range spans {
			if s.SpanID == "gen-1" {
				assert.True(t, utf8.ValidString(s.Output))
				assert.True(t, strings.HasSuffix(s.Output, truncationMarker))
				assert.LessOrEqual(t, len(s.Output), 64+len(truncationMarker))
			}
		}
	})

	t.Run("store failure propagates as retryable", func(t *testing.T) {
		storeErr := types.NewError(types.ErrStoreUnavailable, "down").WithRetryable(true)
		exp := NewExporter(&failingSpanStore{err: storeErr}, nil, DefaultExporterConfig(), nil, nil)

		result, err := exp.Export(ctx, sampleHistory())
		require.Error(t, err)
		assert.False(t, result.Success)
		assert.Zero(t, result.SpansExported)
		assert.True(t, types.IsRetryable(err))
	})
}

func TestExportMalformedHistory(t *testing.T) {
	ctx := context.Background()

	mutate := func(fn func(h *ExecutionHistory)) *ExecutionHistory {
		h := sampleHistory()
		fn(h)
		return h
	}

	tests := []struct {
		name    string
		history *ExecutionHistory
	}{
		{"nil history", nil},
		{"no root", &ExecutionHistory{TraceID: "run-1"}},
		{"no trace id", mutate(func(h *ExecutionHistory) { h.TraceID = "" })},
		{"no root input", mutate(func(h *ExecutionHistory) { h.Root.Input = nil })},
		{"root input not json", mutate(func(h *ExecutionHistory) { h.Root.Input = json.RawMessage("{") })},
		{"missing business ids", mutate(func(h *ExecutionHistory) { h.Root.Input = json.RawMessage(`{"agent_id":"a"}`) })},
		{"duplicate node id", mutate(func(h *ExecutionHistory) { h.Root.Children[0].ID = "wf-1" })},
		{"unknown kind", mutate(func(h *ExecutionHistory) { h.Root.Children[0].Kind = "checkpoint" })},
		{"unknown end status", mutate(func(h *ExecutionHistory) { h.Root.Status = "done" })},
		{"child starts before parent", mutate(func(h *ExecutionHistory) {
			h.Root.Children[0].StartedAt = h.Root.StartedAt.Add(-time.Second)
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			exp := NewExporter(st, nil, DefaultExporterConfig(), nil, nil)

			result, err := exp.Export(ctx, tt.history)
			require.Error(t, err)
			assert.False(t, result.Success)
			assert.Zero(t, result.SpansExported)
			var e *types.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, types.ErrHistoryMalformed, e.Code)

			// Malformed history exports zero spans, not a partial trace.
			spans, listErr := st.ListUnevaluated(ctx, "ws-1", "any", store.SpanFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, spans)
		})
	}
}

func TestCostCalculator(t *testing.T) {
	c := NewCostCalculator()

	t.Run("prices known models", func(t *testing.T) {
		cost := c.Calculate("openai", "gpt-4o", 1000, 1000)
		assert.InDelta(t, 0.005+0.015, cost, 1e-9)
	})

	t.Run("unknown model costs zero", func(t *testing.T) {
		assert.Zero(t, c.Calculate("openai", "gpt-99", 1000, 1000))
	})

	t.Run("overrides take effect", func(t *testing.T) {
		c.UpdatePrices([]ModelPrice{{Provider: "acme", Model: "m1", PriceInput: 0.1, PriceOutput: 0.2}})
		assert.InDelta(t, 0.1+0.2, c.Calculate("acme", "m1", 1000, 1000), 1e-9)
	})
}
