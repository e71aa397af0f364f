package analytics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/internal/telemetry"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

// DateRange is a named lookback window.
type DateRange string

const (
	Range1d  DateRange = "1d"
	Range7d  DateRange = "7d"
	Range30d DateRange = "30d"
	Range90d DateRange = "90d"
	RangeAll DateRange = "all"
)

// Window resolves the range to a lower bound relative to now. The zero
// time means unbounded.
func (r DateRange) Window(now time.Time) (time.Time, error) {
	switch r {
	case Range1d:
		return now.AddDate(0, 0, -1), nil
	case Range7d, "":
		return now.AddDate(0, 0, -7), nil
	case Range30d:
		return now.AddDate(0, 0, -30), nil
	case Range90d:
		return now.AddDate(0, 0, -90), nil
	case RangeAll:
		return time.Time{}, nil
	}
	return time.Time{}, types.NewError(types.ErrConfigInvalid,
		"unknown date range "+string(r))
}

// Filters narrows a report to one agent, version, or window.
type Filters struct {
	AgentID      string    `json:"agent_id,omitempty"`
	AgentVersion string    `json:"agent_version,omitempty"`
	DateRange    DateRange `json:"date_range,omitempty"`
	// MetricTypes restricts the quality section; empty means all types.
	MetricTypes []types.MetricType `json:"metric_types,omitempty"`
}

// Report is the full dashboard payload for one workspace.
type Report struct {
	Performance []store.PerformanceRow `json:"performance"`
	Quality     []QualityMetric        `json:"quality"`
	Feedback    store.FeedbackCounts   `json:"feedback"`
	Overview    []store.OverviewRow    `json:"overview"`
}

// Engine answers dashboard queries.
type Engine struct {
	store     store.Store
	logger    *zap.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewEngine creates an analytics engine over the analytical store.
func NewEngine(st store.Store, logger *zap.Logger, collector *metrics.Collector) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, logger: logger, collector: collector, now: time.Now}
}

// GetAnalytics assembles the report. Any store failure aborts the whole
// report with an explicit error; the dashboard never renders silently
// partial numbers.
func (e *Engine) GetAnalytics(ctx context.Context, workspaceID string, filters Filters) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "analytics.GetAnalytics",
		attribute.String("workspace.id", workspaceID),
		attribute.String("date.range", string(filters.DateRange)),
	)
	var reportErr error
	defer func() { telemetry.EndSpan(span, reportErr) }()

	now := e.now().UTC()
	from, err := filters.DateRange.Window(now)
	if err != nil {
		reportErr = err
		return nil, err
	}
	f := store.AnalyticsFilter{
		AgentID:      filters.AgentID,
		AgentVersion: filters.AgentVersion,
		From:         from,
		To:           now,
	}

	performance, err := timedSection(ctx, e, "performance", func(ctx context.Context) ([]store.PerformanceRow, error) {
		return e.store.PerformanceDaily(ctx, workspaceID, f)
	})
	if err != nil {
		reportErr = err
		return nil, err
	}
	qualityRows, err := timedSection(ctx, e, "quality", func(ctx context.Context) ([]store.QualityRow, error) {
		return e.store.QualityByMetric(ctx, workspaceID, f)
	})
	if err != nil {
		reportErr = err
		return nil, err
	}
	feedback, err := timedSection(ctx, e, "feedback", func(ctx context.Context) (store.FeedbackCounts, error) {
		return e.store.CountFeedback(ctx, workspaceID, f)
	})
	if err != nil {
		reportErr = err
		return nil, err
	}
	overview, err := timedSection(ctx, e, "overview", func(ctx context.Context) ([]store.OverviewRow, error) {
		return e.store.TasksDaily(ctx, workspaceID, f)
	})
	if err != nil {
		reportErr = err
		return nil, err
	}

	defs, err := e.store.ListActiveMetricDefinitions(ctx, workspaceID)
	if err != nil {
		reportErr = err
		return nil, err
	}
	quality := mergeQuality(qualityRows, defs, filters.MetricTypes)

	e.logger.Debug("analytics report assembled",
		zap.String("workspace_id", workspaceID),
		zap.Int("performance_days", len(performance)),
		zap.Int("quality_metrics", len(quality)),
	)
	return &Report{
		Performance: performance,
		Quality:     quality,
		Feedback:    feedback,
		Overview:    overview,
	}, nil
}

// timedSection runs one report section and records its latency.
func timedSection[T any](ctx context.Context, e *Engine, section string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	if e.collector != nil {
		e.collector.RecordAnalyticsQuery(section, time.Since(start))
	}
	if err != nil {
		e.logger.Error("analytics section failed",
			zap.String("section", section), zap.Error(err))
	}
	return out, err
}
