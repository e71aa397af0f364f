package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/glebarez/sqlite"

	"github.com/BaSui01/agentlens/types"
)

var sqliteSeq atomic.Int64

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	s, err := NewGormStore(db, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func genSpan(ws, trace, span, task string, startedAt time.Time, durMs int64, inTok, outTok int) types.Span {
	ended := startedAt.Add(time.Duration(durMs) * time.Millisecond)
	return types.Span{
		TraceID:      trace,
		SpanID:       span,
		ParentSpanID: "root-" + trace,
		TaskID:       task,
		AgentID:      "agent-1",
		WorkspaceID:  ws,
		SpanType:     types.SpanTypeGeneration,
		SpanName:     "generate",
		StartedAt:    startedAt,
		EndedAt:      &ended,
		DurationMs:   &durMs,
		Status:       types.SpanStatusCompleted,
		ModelName:    "gpt-4o-mini",
		InputTokens:  inTok,
		OutputTokens: outTok,
	}
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("insert spans is idempotent by trace and span id", func(t *testing.T) {
		s := open(t)
		spans := []types.Span{
			genSpan("ws1", "tr1", "sp1", "task1", base, 200, 30, 20),
			genSpan("ws1", "tr1", "sp2", "task1", base.Add(time.Second), 300, 50, 30),
		}
		require.NoError(t, s.InsertSpans(ctx, spans))
		require.NoError(t, s.InsertSpans(ctx, spans)) // re-export

		rows, err := s.PerformanceDaily(ctx, "ws1", AnalyticsFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(500), rows[0].TotalDurationMs)
		assert.Equal(t, int64(130), rows[0].TotalTokens)
	})

	t.Run("upsert result is last write wins", func(t *testing.T) {
		s := open(t)
		first := &types.EvaluationResult{
			TaskID: "task1", ResponseID: "sp1", MetricDefinitionID: "m1",
			WorkspaceID: "ws1", MetricName: "tone", MetricType: types.MetricTypeLLMJudge,
			MetricCategory: types.MetricCategoryQuality,
			Passed:         false, Score: ptr(0.2), CreatedAt: base,
		}
		require.NoError(t, s.UpsertResult(ctx, first))

		second := *first
		second.Passed = true
		second.Score = ptr(0.9)
		require.NoError(t, s.UpsertResult(ctx, &second))

		results, err := s.ListResultsByTask(ctx, "task1")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Passed)
		assert.Equal(t, 0.9, *results[0].Score)
	})

	t.Run("list unevaluated excludes spans with results", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertSpans(ctx, []types.Span{
			genSpan("ws1", "tr1", "sp1", "task1", base, 100, 10, 10),
			genSpan("ws1", "tr1", "sp2", "task1", base.Add(time.Minute), 100, 10, 10),
			genSpan("ws1", "tr2", "sp3", "task2", base.Add(2*time.Minute), 100, 10, 10),
		}))
		require.NoError(t, s.UpsertResult(ctx, &types.EvaluationResult{
			TaskID: "task1", ResponseID: "sp1", MetricDefinitionID: "m1",
			WorkspaceID: "ws1", MetricName: "tone",
			MetricCategory: types.MetricCategoryQuality, CreatedAt: base,
		}))

		spans, err := s.ListUnevaluated(ctx, "ws1", "m1", SpanFilter{})
		require.NoError(t, err)
		require.Len(t, spans, 2)
		assert.Equal(t, "sp2", spans[0].SpanID)
		assert.Equal(t, "sp3", spans[1].SpanID)

		// A different metric still sees all three.
		spans, err = s.ListUnevaluated(ctx, "ws1", "m2", SpanFilter{})
		require.NoError(t, err)
		assert.Len(t, spans, 3)
	})

	t.Run("list unevaluated honors filters and limit", func(t *testing.T) {
		s := open(t)
		var spans []types.Span
		for i := 0; i < 5; i++ {
			sp := genSpan("ws1", "tr1", fmt.Sprintf("sp%d", i), "task1", base.Add(time.Duration(i)*time.Minute), 100, 10, 10)
			if i >= 3 {
				sp.AgentID = "agent-2"
			}
			spans = append(spans, sp)
		}
		require.NoError(t, s.InsertSpans(ctx, spans))

		got, err := s.ListUnevaluated(ctx, "ws1", "m1", SpanFilter{AgentID: "agent-1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "sp0", got[0].SpanID)

		from := base.Add(3 * time.Minute)
		got, err = s.ListUnevaluated(ctx, "ws1", "m1", SpanFilter{From: &from})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("quality aggregate groups by metric name", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 4; i++ {
			require.NoError(t, s.UpsertResult(ctx, &types.EvaluationResult{
				TaskID: fmt.Sprintf("task%d", i), ResponseID: "r", MetricDefinitionID: "m1",
				WorkspaceID: "ws1", MetricName: "tone", MetricType: types.MetricTypeLLMJudge,
				MetricCategory: types.MetricCategoryQuality,
				Passed:         i%2 == 0, Score: ptr(float64(i) / 4), CreatedAt: base,
			}))
		}
		require.NoError(t, s.UpsertResult(ctx, &types.EvaluationResult{
			TaskID: "task9", ResponseID: "r", MetricDefinitionID: "m2",
			WorkspaceID: "ws1", MetricName: "latency", MetricType: types.MetricTypeFormula,
			MetricCategory: types.MetricCategoryPerformance,
			Passed:         true, CreatedAt: base,
		}))

		rows, err := s.QualityByMetric(ctx, "ws1", AnalyticsFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "latency", rows[0].MetricName)
		assert.Equal(t, "tone", rows[1].MetricName)
		assert.Equal(t, int64(4), rows[1].EvaluationCount)
		assert.Equal(t, int64(2), rows[1].PassedCount)
		require.NotNil(t, rows[1].AvgScore)
		assert.InDelta(t, 0.375, *rows[1].AvgScore, 1e-9)
		assert.Nil(t, rows[0].AvgScore)
	})

	t.Run("feedback counts split by passed", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.UpsertResult(ctx, &types.EvaluationResult{
				TaskID: fmt.Sprintf("task%d", i), ResponseID: "r", MetricDefinitionID: "fb",
				WorkspaceID: "ws1", MetricName: "thumbs", MetricType: types.MetricTypeFormula,
				MetricCategory: types.MetricCategoryFeedback,
				Passed:         i < 2, CreatedAt: base,
			}))
		}

		counts, err := s.CountFeedback(ctx, "ws1", AnalyticsFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Positive)
		assert.Equal(t, int64(1), counts.Negative)
	})

	t.Run("tasks daily counts distinct tasks over root workflow spans", func(t *testing.T) {
		s := open(t)
		mk := func(trace, task string, at time.Time) types.Span {
			return types.Span{
				TraceID: trace, SpanID: "root-" + trace, TaskID: task,
				WorkspaceID: "ws1", SpanType: types.SpanTypeWorkflow,
				StartedAt: at, Status: types.SpanStatusCompleted,
			}
		}
		require.NoError(t, s.InsertSpans(ctx, []types.Span{
			mk("tr1", "task1", base),
			mk("tr2", "task2", base),
			mk("tr3", "task3", base.AddDate(0, 0, 1)),
		}))

		rows, err := s.TasksDaily(ctx, "ws1", AnalyticsFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "2026-03-10", rows[0].Day)
		assert.Equal(t, int64(2), rows[0].TaskCount)
		assert.Equal(t, int64(1), rows[1].TaskCount)
	})

	t.Run("window filter bounds aggregates", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertSpans(ctx, []types.Span{
			genSpan("ws1", "tr1", "sp1", "task1", base.AddDate(0, 0, -40), 100, 10, 10),
			genSpan("ws1", "tr2", "sp2", "task2", base, 100, 10, 10),
		}))

		rows, err := s.PerformanceDaily(ctx, "ws1", AnalyticsFilter{From: base.AddDate(0, 0, -30)})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2026-03-10", rows[0].Day)
	})

	t.Run("metric definitions save and list active", func(t *testing.T) {
		s := open(t)
		active := &types.MetricDefinition{
			ID: "m1", WorkspaceID: "ws1", Name: "tone",
			Category: types.MetricCategoryQuality, MetricType: types.MetricTypeLLMJudge,
			Config: types.MetricConfig{Criteria: "polite"}, IsActive: true,
			CreatedAt: base, UpdatedAt: base,
		}
		inactive := &types.MetricDefinition{
			ID: "m2", WorkspaceID: "ws1", Name: "speed",
			Category: types.MetricCategoryPerformance, MetricType: types.MetricTypeFormula,
			Config: types.MetricConfig{Expression: "duration_ms < 5000"}, IsActive: false,
			CreatedAt: base, UpdatedAt: base,
		}
		require.NoError(t, s.SaveMetricDefinition(ctx, active))
		require.NoError(t, s.SaveMetricDefinition(ctx, inactive))

		defs, err := s.ListActiveMetricDefinitions(ctx, "ws1")
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, "tone", defs[0].Name)
		assert.Equal(t, "polite", defs[0].Config.Criteria)

		got, err := s.GetMetricDefinition(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, "speed", got.Name)

		_, err = s.GetMetricDefinition(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestGormStoreSQLite(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.InsertSpans(context.Background(), nil), ErrStoreClosed)
	_, err := s.ListResultsByTask(context.Background(), "t")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
