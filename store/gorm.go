package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentlens/types"
)

// GormStore is the SQL-backed Store. One instance wraps one connection pool
// and is shared by the exporter, the evaluators, and the aggregation engine.
type GormStore struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

// NewGormStore wraps an open gorm handle, applies pool settings, and
// migrates the pipeline-owned tables.
func NewGormStore(db *gorm.DB, cfg Config, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	if err := db.AutoMigrate(&types.Span{}, &types.EvaluationResult{}, &types.MetricDefinition{}); err != nil {
		return nil, fmt.Errorf("migrate analytical tables: %w", err)
	}

	batchSize := cfg.InsertBatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().InsertBatchSize
	}

	return &GormStore{
		db:        db,
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "store")),
	}, nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewError(types.ErrStoreUnavailable, op).WithCause(err).WithRetryable(true)
}

// InsertSpans implements SpanStore. The batch runs in one transaction so a
// trace's spans land all-or-nothing; conflicts on (trace_id, span_id) are
// overwritten, making re-export idempotent.
func (s *GormStore) InsertSpans(ctx context.Context, spans []types.Span) error {
	if len(spans) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trace_id"}, {Name: "span_id"}},
			UpdateAll: true,
		}).CreateInBatches(spans, s.batchSize).Error
	})
	return storeErr("insert spans", err)
}

// ListUnevaluated implements SpanStore.
func (s *GormStore) ListUnevaluated(ctx context.Context, workspaceID, metricDefinitionID string, f SpanFilter) ([]types.Span, error) {
	q := s.db.WithContext(ctx).Model(&types.Span{}).
		Where("spans.workspace_id = ? AND spans.span_type = ?", workspaceID, types.SpanTypeGeneration).
		Where("NOT EXISTS (SELECT 1 FROM task_metrics tm WHERE tm.task_id = spans.task_id AND tm.response_id = spans.span_id AND tm.metric_definition_id = ?)",
			metricDefinitionID)

	if f.AgentID != "" {
		q = q.Where("spans.agent_id = ?", f.AgentID)
	}
	if f.AgentVersion != "" {
		q = q.Where("spans.agent_version = ?", f.AgentVersion)
	}
	if f.From != nil {
		q = q.Where("spans.started_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("spans.started_at <= ?", *f.To)
	}
	q = q.Order("spans.started_at, spans.span_id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var spans []types.Span
	if err := q.Find(&spans).Error; err != nil {
		return nil, storeErr("list unevaluated spans", err)
	}
	return spans, nil
}

// UpsertResult implements ResultStore.
func (s *GormStore) UpsertResult(ctx context.Context, result *types.EvaluationResult) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "task_id"}, {Name: "response_id"}, {Name: "metric_definition_id"},
		},
		UpdateAll: true,
	}).Create(result).Error
	return storeErr("upsert evaluation result", err)
}

// ListResultsByTask implements ResultStore.
func (s *GormStore) ListResultsByTask(ctx context.Context, taskID string) ([]types.EvaluationResult, error) {
	var results []types.EvaluationResult
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("metric_name").
		Find(&results).Error
	if err != nil {
		return nil, storeErr("list results by task", err)
	}
	return results, nil
}

// SaveMetricDefinition implements MetricStore.
func (s *GormStore) SaveMetricDefinition(ctx context.Context, def *types.MetricDefinition) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(def).Error
	return storeErr("save metric definition", err)
}

// GetMetricDefinition implements MetricStore.
func (s *GormStore) GetMetricDefinition(ctx context.Context, id string) (*types.MetricDefinition, error) {
	var def types.MetricDefinition
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get metric definition", err)
	}
	return &def, nil
}

// ListActiveMetricDefinitions implements MetricStore.
func (s *GormStore) ListActiveMetricDefinitions(ctx context.Context, workspaceID string) ([]types.MetricDefinition, error) {
	var defs []types.MetricDefinition
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND is_active = ?", workspaceID, true).
		Order("name").
		Find(&defs).Error
	if err != nil {
		return nil, storeErr("list active metric definitions", err)
	}
	return defs, nil
}

// dayExpr returns the dialect-specific expression that buckets a timestamp
// column into a YYYY-MM-DD day string.
func (s *GormStore) dayExpr(col string) string {
	switch s.db.Dialector.Name() {
	case "postgres":
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col)
	case "mysql":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", col)
	default: // sqlite
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", col)
	}
}

func applyWindow(q *gorm.DB, col string, f AnalyticsFilter) *gorm.DB {
	if !f.From.IsZero() {
		q = q.Where(col+" >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where(col+" <= ?", f.To)
	}
	return q
}

// PerformanceDaily implements AnalyticsQuerier. Aggregates run over
// generation spans only; envelope spans would double count the same work.
func (s *GormStore) PerformanceDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]PerformanceRow, error) {
	day := s.dayExpr("started_at")
	q := s.db.WithContext(ctx).Model(&types.Span{}).
		Select(day+" AS day, "+
			"COUNT(DISTINCT task_id) AS task_count, "+
			"COALESCE(SUM(duration_ms), 0) AS total_duration_ms, "+
			"COALESCE(SUM(input_tokens + output_tokens), 0) AS total_tokens, "+
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, "+
			"COALESCE(SUM(cost_usd), 0) AS total_cost_usd").
		Where("workspace_id = ? AND span_type = ?", workspaceID, types.SpanTypeGeneration)
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.AgentVersion != "" {
		q = q.Where("agent_version = ?", f.AgentVersion)
	}
	q = applyWindow(q, "started_at", f)

	var rows []PerformanceRow
	if err := q.Group(day).Order("day").Scan(&rows).Error; err != nil {
		return nil, storeErr("performance aggregate", err)
	}
	return rows, nil
}

// QualityByMetric implements AnalyticsQuerier. Results carry no agent id,
// so only the workspace and time window apply.
func (s *GormStore) QualityByMetric(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]QualityRow, error) {
	q := s.db.WithContext(ctx).Model(&types.EvaluationResult{}).
		Select("metric_name, metric_type, "+
			"COUNT(*) AS evaluation_count, "+
			"SUM(CASE WHEN passed THEN 1 ELSE 0 END) AS passed_count, "+
			"AVG(score) AS avg_score").
		Where("workspace_id = ? AND metric_category <> ?", workspaceID, types.MetricCategoryFeedback)
	q = applyWindow(q, "created_at", f)

	var rows []QualityRow
	if err := q.Group("metric_name, metric_type").Order("metric_name").Scan(&rows).Error; err != nil {
		return nil, storeErr("quality aggregate", err)
	}
	return rows, nil
}

// CountFeedback implements AnalyticsQuerier.
func (s *GormStore) CountFeedback(ctx context.Context, workspaceID string, f AnalyticsFilter) (FeedbackCounts, error) {
	q := s.db.WithContext(ctx).Model(&types.EvaluationResult{}).
		Select("COALESCE(SUM(CASE WHEN passed THEN 1 ELSE 0 END), 0) AS positive, "+
			"COALESCE(SUM(CASE WHEN passed THEN 0 ELSE 1 END), 0) AS negative").
		Where("workspace_id = ? AND metric_category = ?", workspaceID, types.MetricCategoryFeedback)
	q = applyWindow(q, "created_at", f)

	var counts FeedbackCounts
	if err := q.Scan(&counts).Error; err != nil {
		return FeedbackCounts{}, storeErr("feedback aggregate", err)
	}
	return counts, nil
}

// TasksDaily implements AnalyticsQuerier. Task volume counts distinct task
// ids over root workflow spans.
func (s *GormStore) TasksDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]OverviewRow, error) {
	day := s.dayExpr("started_at")
	q := s.db.WithContext(ctx).Model(&types.Span{}).
		Select(day+" AS day, COUNT(DISTINCT task_id) AS task_count").
		Where("workspace_id = ? AND span_type = ?", workspaceID, types.SpanTypeWorkflow).
		Where("parent_span_id IS NULL OR parent_span_id = ''")
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.AgentVersion != "" {
		q = q.Where("agent_version = ?", f.AgentVersion)
	}
	q = applyWindow(q, "started_at", f)

	var rows []OverviewRow
	if err := q.Group(day).Order("day").Scan(&rows).Error; err != nil {
		return nil, storeErr("overview aggregate", err)
	}
	return rows, nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
