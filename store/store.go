package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentlens/types"
)

// Common errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Driver selects a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config configures the analytical store.
type Config struct {
	Driver Driver `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string (file path for sqlite).
	DSN          string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" json:"conn_lifetime"`
	// InsertBatchSize bounds one bulk-insert statement, not the logical
	// all-or-nothing export batch (which runs in a transaction).
	InsertBatchSize int `yaml:"insert_batch_size" json:"insert_batch_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverMemory,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnLifetime:    time.Hour,
		InsertBatchSize: 200,
	}
}

// SpanFilter narrows span queries.
type SpanFilter struct {
	AgentID      string
	AgentVersion string
	From         *time.Time
	To           *time.Time
	Limit        int
}

// AnalyticsFilter narrows windowed aggregate queries. A zero From means no
// lower bound ("all" window).
type AnalyticsFilter struct {
	AgentID      string
	AgentVersion string
	From         time.Time
	To           time.Time
}

// PerformanceRow is one day of span-level performance aggregates.
type PerformanceRow struct {
	Day             string  `json:"day" gorm:"column:day"`
	TaskCount       int64   `json:"taskCount" gorm:"column:task_count"`
	TotalDurationMs int64   `json:"totalDurationMs" gorm:"column:total_duration_ms"`
	TotalTokens     int64   `json:"totalTokens" gorm:"column:total_tokens"`
	InputTokens     int64   `json:"inputTokens" gorm:"column:input_tokens"`
	OutputTokens    int64   `json:"outputTokens" gorm:"column:output_tokens"`
	TotalCostUSD    float64 `json:"totalCostUsd" gorm:"column:total_cost_usd"`
}

// QualityRow is the per-metric aggregate over evaluation results.
type QualityRow struct {
	MetricName      string   `json:"metricName" gorm:"column:metric_name"`
	MetricType      string   `json:"metricType" gorm:"column:metric_type"`
	EvaluationCount int64    `json:"evaluationCount" gorm:"column:evaluation_count"`
	PassedCount     int64    `json:"passedCount" gorm:"column:passed_count"`
	AvgScore        *float64 `json:"avgScore,omitempty" gorm:"column:avg_score"`
}

// FeedbackCounts summarizes user feedback results.
type FeedbackCounts struct {
	Positive int64 `json:"positive" gorm:"column:positive"`
	Negative int64 `json:"negative" gorm:"column:negative"`
}

// OverviewRow is one day of task volume.
type OverviewRow struct {
	Day       string `json:"day" gorm:"column:day"`
	TaskCount int64  `json:"taskCount" gorm:"column:task_count"`
}

// SpanStore persists exported spans. Inserts upsert by (trace_id, span_id)
// so re-export is idempotent; one call is atomic for its batch.
type SpanStore interface {
	InsertSpans(ctx context.Context, spans []types.Span) error

	// ListUnevaluated returns generation spans in the workspace that have no
	// evaluation result for the given metric definition. The backfill path
	// uses span_id as the response_id when matching results.
	ListUnevaluated(ctx context.Context, workspaceID, metricDefinitionID string, f SpanFilter) ([]types.Span, error)
}

// ResultStore persists evaluation results, upserting by
// (task_id, response_id, metric_definition_id): last write wins.
type ResultStore interface {
	UpsertResult(ctx context.Context, result *types.EvaluationResult) error
	ListResultsByTask(ctx context.Context, taskID string) ([]types.EvaluationResult, error)
}

// MetricStore reads and writes metric definitions. The pipeline itself only
// reads; definitions are authored through the entity CRUD surface.
type MetricStore interface {
	SaveMetricDefinition(ctx context.Context, def *types.MetricDefinition) error
	GetMetricDefinition(ctx context.Context, id string) (*types.MetricDefinition, error)
	ListActiveMetricDefinitions(ctx context.Context, workspaceID string) ([]types.MetricDefinition, error)
}

// AnalyticsQuerier issues windowed aggregate queries over both tables.
type AnalyticsQuerier interface {
	PerformanceDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]PerformanceRow, error)
	QualityByMetric(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]QualityRow, error)
	CountFeedback(ctx context.Context, workspaceID string, f AnalyticsFilter) (FeedbackCounts, error)
	TasksDaily(ctx context.Context, workspaceID string, f AnalyticsFilter) ([]OverviewRow, error)
}

// Store is the full analytical-store surface, constructed once at service
// start and shared by every component.
type Store interface {
	SpanStore
	ResultStore
	MetricStore
	AnalyticsQuerier
	Close() error
}

// JobStore persists retroactive evaluation job records so progress can be
// polled before completion and survives restarts.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error
	UpdateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error
	GetJob(ctx context.Context, id string) (*types.RetroactiveEvaluationJob, error)
	ListJobsByWorkspace(ctx context.Context, workspaceID string) ([]types.RetroactiveEvaluationJob, error)
}
