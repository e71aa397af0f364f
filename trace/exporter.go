package trace

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/internal/telemetry"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

// ExportResult reports the outcome of one export call.
type ExportResult struct {
	Success       bool   `json:"success"`
	SpansExported int    `json:"spans_exported"`
	Error         string `json:"error,omitempty"`
}

// ExporterConfig configures the exporter.
type ExporterConfig struct {
	// MaxPayloadBytes bounds each span's input/output payload. Larger
	// payloads are truncated with a marker, never rejected.
	MaxPayloadBytes int `yaml:"max_payload_bytes" json:"max_payload_bytes"`
}

// DefaultExporterConfig returns sensible defaults.
func DefaultExporterConfig() ExporterConfig {
	return ExporterConfig{MaxPayloadBytes: 32 * 1024}
}

const truncationMarker = "...[truncated]"

// Exporter flattens execution histories into spans and bulk-inserts them
// into the analytical store. It never updates or deletes spans; re-export
// of the same history upserts the same keys and is therefore safe.
type Exporter struct {
	spans     store.SpanStore
	costs     *CostCalculator
	config    ExporterConfig
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewExporter creates an exporter. costs and collector may be nil.
func NewExporter(spans store.SpanStore, costs *CostCalculator, config ExporterConfig, logger *zap.Logger, collector *metrics.Collector) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if costs == nil {
		costs = NewCostCalculator()
	}
	if config.MaxPayloadBytes <= 0 {
		config.MaxPayloadBytes = DefaultExporterConfig().MaxPayloadBytes
	}
	return &Exporter{
		spans:     spans,
		costs:     costs,
		config:    config,
		logger:    logger.With(zap.String("component", "exporter")),
		collector: collector,
	}
}

// Export flattens one execution history and writes all of its spans as a
// single batch. A malformed history exports zero spans and reports the
// problem; a store write failure is returned as a retryable error and the
// caller decides whether to retry the whole export.
func (e *Exporter) Export(ctx context.Context, history *ExecutionHistory) (*ExportResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "trace.Export",
		attribute.String("trace_id", traceID(history)))
	var exportErr error
	defer func() { telemetry.EndSpan(span, exportErr) }()

	spans, err := e.flatten(history)
	if err != nil {
		exportErr = err
		e.logger.Warn("export rejected malformed history",
			zap.String("trace_id", traceID(history)),
			zap.Error(err))
		e.observe(0, false, time.Since(start))
		return &ExportResult{Success: false, Error: err.Error()}, err
	}

	if err := e.spans.InsertSpans(ctx, spans); err != nil {
		exportErr = err
		e.logger.Error("span batch insert failed",
			zap.String("trace_id", history.TraceID),
			zap.Int("spans", len(spans)),
			zap.Error(err))
		e.observe(0, false, time.Since(start))
		return &ExportResult{Success: false, Error: err.Error()}, err
	}

	e.logger.Info("trace exported",
		zap.String("trace_id", history.TraceID),
		zap.Int("spans", len(spans)),
		zap.Duration("took", time.Since(start)))
	e.observe(len(spans), true, time.Since(start))
	return &ExportResult{Success: true, SpansExported: len(spans)}, nil
}

func (e *Exporter) observe(spans int, success bool, d time.Duration) {
	if e.collector != nil {
		e.collector.RecordExport(spans, success, d)
	}
}

func traceID(h *ExecutionHistory) string {
	if h == nil {
		return ""
	}
	return h.TraceID
}

// flatten walks the history tree and produces one span per node. The whole
// trace is validated before anything is returned: a malformed history
// yields zero spans.
func (e *Exporter) flatten(history *ExecutionHistory) ([]types.Span, error) {
	if history == nil || history.Root == nil {
		return nil, types.NewError(types.ErrHistoryMalformed, "execution history has no root node")
	}
	if history.TraceID == "" {
		return nil, types.NewError(types.ErrHistoryMalformed, "execution history has no trace id")
	}

	ids, err := extractBusinessIDs(history.Root)
	if err != nil {
		return nil, err
	}

	var spans []types.Span
	seen := make(map[string]struct{})
	if err := e.walk(history.TraceID, ids, history.Root, nil, seen, &spans); err != nil {
		return nil, err
	}
	return spans, nil
}

func (e *Exporter) walk(traceID string, ids BusinessIDs, node *NodeRecord, parent *NodeRecord, seen map[string]struct{}, out *[]types.Span) error {
	if node.ID == "" {
		return types.NewError(types.ErrHistoryMalformed, "history node has no id").WithTrace(traceID)
	}
	if _, dup := seen[node.ID]; dup {
		return types.NewError(types.ErrHistoryMalformed,
			fmt.Sprintf("duplicate node id %s", node.ID)).WithTrace(traceID)
	}
	seen[node.ID] = struct{}{}

	spanType := node.Kind.SpanType()
	if spanType == "" {
		return types.NewError(types.ErrHistoryMalformed,
			fmt.Sprintf("node %s has unknown kind %q", node.ID, node.Kind)).WithTrace(traceID)
	}
	if parent != nil && node.StartedAt.Before(parent.StartedAt) {
		return types.NewError(types.ErrHistoryMalformed,
			fmt.Sprintf("node %s starts before its parent %s", node.ID, parent.ID)).WithTrace(traceID)
	}

	span := types.Span{
		TraceID:      traceID,
		SpanID:       node.ID,
		TaskID:       ids.TaskID,
		AgentID:      ids.AgentID,
		AgentVersion: ids.AgentVersion,
		WorkspaceID:  ids.WorkspaceID,
		SpanType:     spanType,
		SpanName:     node.Name,
		StartedAt:    node.StartedAt,
		Status:       types.SpanStatusRunning,
		Input:        e.truncate(node.Input),
		Output:       e.truncate(node.Output),
		ErrorMessage: node.Error,
		ErrorType:    node.ErrorType,
		Metadata:     node.Metadata,
	}
	if parent != nil {
		span.ParentSpanID = parent.ID
	}

	if node.EndedAt != nil {
		status, err := nodeStatus(node)
		if err != nil {
			return err
		}
		span.Finish(*node.EndedAt, status)
	}

	// Token and cost fields belong to generation spans only.
	if spanType == types.SpanTypeGeneration && node.LLM != nil {
		span.ModelName = node.LLM.Model
		span.InputTokens = node.LLM.InputTokens
		span.OutputTokens = node.LLM.OutputTokens
		span.CostUSD = e.costs.Calculate(node.LLM.Provider, node.LLM.Model,
			node.LLM.InputTokens, node.LLM.OutputTokens)
	}

	if err := span.Validate(); err != nil {
		return err
	}
	*out = append(*out, span)

	for _, child := range node.Children {
		if err := e.walk(traceID, ids, child, node, seen, out); err != nil {
			return err
		}
	}
	return nil
}

func nodeStatus(node *NodeRecord) (types.SpanStatus, error) {
	switch node.Status {
	case "completed":
		return types.SpanStatusCompleted, nil
	case "failed":
		return types.SpanStatusFailed, nil
	case "cancelled":
		return types.SpanStatusCancelled, nil
	default:
		return "", types.NewError(types.ErrHistoryMalformed,
			fmt.Sprintf("node %s ended with unknown status %q", node.ID, node.Status))
	}
}

func (e *Exporter) truncate(payload []byte) string {
	if len(payload) <= e.config.MaxPayloadBytes {
		return string(payload)
	}
	// Back off to a rune boundary so the truncated payload stays valid UTF-8.
	cut := e.config.MaxPayloadBytes
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return string(payload[:cut]) + truncationMarker
}
