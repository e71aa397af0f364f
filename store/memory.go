package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentlens/types"
)

// MemoryStore is an in-memory Store implementation for development and
// tests. All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	spans   map[string]types.Span            // trace_id|span_id
	results map[string]types.EvaluationResult // task_id|response_id|metric_definition_id
	defs    map[string]types.MetricDefinition
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spans:   make(map[string]types.Span),
		results: make(map[string]types.EvaluationResult),
		defs:    make(map[string]types.MetricDefinition),
	}
}

func spanKey(traceID, spanID string) string { return traceID + "|" + spanID }

func resultKey(taskID, responseID, metricID string) string {
	return taskID + "|" + responseID + "|" + metricID
}

// InsertSpans implements SpanStore. The whole batch is applied under one
// lock acquisition, matching the all-or-nothing batch semantics of the SQL
// backend.
func (m *MemoryStore) InsertSpans(ctx context.Context, spans []types.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for _, s := range spans {
		m.spans[spanKey(s.TraceID, s.SpanID)] = s
	}
	return nil
}

// ListUnevaluated implements SpanStore.
func (m *MemoryStore) ListUnevaluated(ctx context.Context, workspaceID, metricDefinitionID string, f SpanFilter) ([]types.Span, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []types.Span
	for _, s := range m.spans {
		if s.WorkspaceID != workspaceID || s.SpanType != types.SpanTypeGeneration {
			continue
		}
		if !matchSpanFilter(s, f) {
			continue
		}
		if _, ok := m.results[resultKey(s.TaskID, s.SpanID, metricDefinitionID)]; ok {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SpanID < out[j].SpanID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchSpanFilter(s types.Span, f SpanFilter) bool {
	if f.AgentID != "" && s.AgentID != f.AgentID {
		return false
	}
	if f.AgentVersion != "" && s.AgentVersion != f.AgentVersion {
		return false
	}
	if f.From != nil && s.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.StartedAt.After(*f.To) {
		return false
	}
	return true
}

// UpsertResult implements ResultStore.
func (m *MemoryStore) UpsertResult(ctx context.Context, result *types.EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	r := *result
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.results[resultKey(r.TaskID, r.ResponseID, r.MetricDefinitionID)] = r
	return nil
}

// ListResultsByTask implements ResultStore.
func (m *MemoryStore) ListResultsByTask(ctx context.Context, taskID string) ([]types.EvaluationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []types.EvaluationResult
	for _, r := range m.results {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out, nil
}

// SaveMetricDefinition implements MetricStore.
func (m *MemoryStore) SaveMetricDefinition(ctx context.Context, def *types.MetricDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.defs[def.ID] = *def
	return nil
}

// GetMetricDefinition implements MetricStore.
func (m *MemoryStore) GetMetricDefinition(ctx context.Context, id string) (*types.MetricDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	def, ok := m.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &def, nil
}

// ListActiveMetricDefinitions implements MetricStore.
func (m *MemoryStore) ListActiveMetricDefinitions(ctx context.Context, workspaceID string) ([]types.MetricDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []types.MetricDefinition
	for _, d := range m.defs {
		if d.WorkspaceID == workspaceID && d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func inWindow(ts time.Time, f AnalyticsFilter) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func dayOf(ts time.Time) string { return ts.UTC().Format("2006-01-02") }

// PerformanceDaily implements AnalyticsQuerier. Performance aggregates are
// computed over generation spans; workflow and activity spans envelope the
// same work and would double count duration.
func (m *MemoryStore) PerformanceDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]PerformanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	rows := make(map[string]*PerformanceRow)
	tasksByDay := make(map[string]map[string]struct{})
	for _, s := range m.spans {
		if s.WorkspaceID != workspaceID || s.SpanType != types.SpanTypeGeneration {
			continue
		}
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.AgentVersion != "" && s.AgentVersion != f.AgentVersion {
			continue
		}
		if !inWindow(s.StartedAt, f) {
			continue
		}
		day := dayOf(s.StartedAt)
		row, ok := rows[day]
		if !ok {
			row = &PerformanceRow{Day: day}
			rows[day] = row
			tasksByDay[day] = make(map[string]struct{})
		}
		tasksByDay[day][s.TaskID] = struct{}{}
		if s.DurationMs != nil {
			row.TotalDurationMs += *s.DurationMs
		}
		row.InputTokens += int64(s.InputTokens)
		row.OutputTokens += int64(s.OutputTokens)
		row.TotalTokens += int64(s.InputTokens + s.OutputTokens)
		row.TotalCostUSD += s.CostUSD
	}

	out := make([]PerformanceRow, 0, len(rows))
	for day, row := range rows {
		row.TaskCount = int64(len(tasksByDay[day]))
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// QualityByMetric implements AnalyticsQuerier. Agent filters do not apply
// here: results carry no agent id, only workspace and window.
func (m *MemoryStore) QualityByMetric(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]QualityRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	type acc struct {
		row        QualityRow
		scoreSum   float64
		scoreCount int64
	}
	byName := make(map[string]*acc)
	for _, r := range m.results {
		if r.WorkspaceID != workspaceID || r.MetricCategory == types.MetricCategoryFeedback {
			continue
		}
		if !inWindow(r.CreatedAt, f) {
			continue
		}
		a, ok := byName[r.MetricName]
		if !ok {
			a = &acc{row: QualityRow{MetricName: r.MetricName, MetricType: string(r.MetricType)}}
			byName[r.MetricName] = a
		}
		a.row.EvaluationCount++
		if r.Passed {
			a.row.PassedCount++
		}
		if r.Score != nil {
			a.scoreSum += *r.Score
			a.scoreCount++
		}
	}

	out := make([]QualityRow, 0, len(byName))
	for _, a := range byName {
		if a.scoreCount > 0 {
			avg := a.scoreSum / float64(a.scoreCount)
			a.row.AvgScore = &avg
		}
		out = append(out, a.row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out, nil
}

// CountFeedback implements AnalyticsQuerier.
func (m *MemoryStore) CountFeedback(ctx context.Context, workspaceID string, f AnalyticsFilter) (FeedbackCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return FeedbackCounts{}, ErrStoreClosed
	}

	var counts FeedbackCounts
	for _, r := range m.results {
		if r.WorkspaceID != workspaceID || r.MetricCategory != types.MetricCategoryFeedback {
			continue
		}
		if !inWindow(r.CreatedAt, f) {
			continue
		}
		if r.Passed {
			counts.Positive++
		} else {
			counts.Negative++
		}
	}
	return counts, nil
}

// TasksDaily implements AnalyticsQuerier. Task volume counts distinct
// task ids over root workflow spans.
func (m *MemoryStore) TasksDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]OverviewRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	tasksByDay := make(map[string]map[string]struct{})
	for _, s := range m.spans {
		if s.WorkspaceID != workspaceID || s.SpanType != types.SpanTypeWorkflow || s.ParentSpanID != "" {
			continue
		}
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.AgentVersion != "" && s.AgentVersion != f.AgentVersion {
			continue
		}
		if !inWindow(s.StartedAt, f) {
			continue
		}
		day := dayOf(s.StartedAt)
		if tasksByDay[day] == nil {
			tasksByDay[day] = make(map[string]struct{})
		}
		tasksByDay[day][s.TaskID] = struct{}{}
	}

	out := make([]OverviewRow, 0, len(tasksByDay))
	for day, tasks := range tasksByDay {
		out = append(out, OverviewRow{Day: day, TaskCount: int64(len(tasks))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
