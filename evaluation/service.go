package evaluation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

// Service is the live evaluation path: after a response completes it runs
// every active metric of the workspace against it and persists the
// results. Failures here are logged and reported to the immediate caller
// but must never propagate into task execution, so the caller is expected
// to drop the returned error after logging it.
type Service struct {
	evaluator *Evaluator
	metrics   store.MetricStore
	results   store.ResultStore
	logger    *zap.Logger
}

// NewService wires the live path against the definition and result stores.
func NewService(evaluator *Evaluator, metrics store.MetricStore, results store.ResultStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		evaluator: evaluator,
		metrics:   metrics,
		results:   results,
		logger:    logger,
	}
}

// EvaluateResponse runs all active metrics of the workspace against one
// response and upserts a result per metric. A single metric failing, for
// configuration or transient reasons, does not stop the others; the
// error return is non-nil only when the definition listing itself fails.
func (s *Service) EvaluateResponse(ctx context.Context, target Target, sample *Sample) ([]types.EvaluationResult, error) {
	defs, err := s.metrics.ListActiveMetricDefinitions(ctx, target.WorkspaceID)
	if err != nil {
		s.logger.Error("listing active metric definitions failed",
			zap.String("workspace_id", target.WorkspaceID),
			zap.Error(err))
		return nil, err
	}

	results := make([]types.EvaluationResult, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		result, err := s.evaluator.Evaluate(ctx, def, target, sample)
		if err != nil {
			s.logger.Warn("metric evaluation skipped",
				zap.String("metric_name", def.Name),
				zap.String("response_id", target.ResponseID),
				zap.Error(err))
			continue
		}
		if err := s.results.UpsertResult(ctx, result); err != nil {
			s.logger.Error("persisting evaluation result failed",
				zap.String("metric_name", def.Name),
				zap.String("response_id", target.ResponseID),
				zap.Error(err))
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}
