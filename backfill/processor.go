package backfill

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentlens/evaluation"
	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/internal/telemetry"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

// Config tunes how aggressively a job chews through historical spans.
type Config struct {
	// Workers bounds concurrent evaluations within one batch.
	Workers int `yaml:"workers" json:"workers"`
	// RatePerSecond throttles evaluations globally across all jobs, so a
	// large backfill cannot starve the live evaluation path of provider
	// quota. Zero disables throttling.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	// Burst is the limiter burst size.
	Burst int `yaml:"burst" json:"burst"`
	// DefaultBatchSize is used when a job request does not set one.
	DefaultBatchSize int `yaml:"default_batch_size" json:"default_batch_size"`
	// DefaultMaxTraces caps a job that does not set its own bound.
	DefaultMaxTraces int `yaml:"default_max_traces" json:"default_max_traces"`
}

// DefaultConfig returns the backfill defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		RatePerSecond:    10,
		Burst:            20,
		DefaultBatchSize: 50,
		DefaultMaxTraces: 1000,
	}
}

// JobRequest is what a caller submits to start a retroactive evaluation.
type JobRequest struct {
	WorkspaceID        string           `json:"workspace_id"`
	MetricDefinitionID string           `json:"metric_definition_id"`
	Filters            types.JobFilters `json:"filters"`
	BatchSize          int              `json:"batch_size,omitempty"`
	MaxTraces          int              `json:"max_traces,omitempty"`
	SamplePercentage   int              `json:"sample_percentage,omitempty"`
}

// Processor runs retroactive evaluation jobs. Submission and execution
// are decoupled: Submit persists the job and schedules it on a background
// goroutine, so a slow backfill never blocks the caller.
type Processor struct {
	spans     store.SpanStore
	results   store.ResultStore
	defs      store.MetricStore
	jobs      store.JobStore
	evaluator *evaluation.Evaluator
	limiter   *rate.Limiter
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProcessor wires a processor against the stores and evaluator.
func NewProcessor(spans store.SpanStore, results store.ResultStore, defs store.MetricStore, jobs store.JobStore, evaluator *evaluation.Evaluator, cfg Config, logger *zap.Logger, collector *metrics.Collector) *Processor {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = def.DefaultBatchSize
	}
	if cfg.DefaultMaxTraces <= 0 {
		cfg.DefaultMaxTraces = def.DefaultMaxTraces
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		spans:     spans,
		results:   results,
		defs:      defs,
		jobs:      jobs,
		evaluator: evaluator,
		limiter:   limiter,
		config:    cfg,
		logger:    logger,
		collector: collector,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Submit persists a queued job and schedules it for execution. The
// returned job reflects the queued state; callers poll GetJob for
// progress.
func (p *Processor) Submit(ctx context.Context, req JobRequest) (*types.RetroactiveEvaluationJob, error) {
	if req.WorkspaceID == "" || req.MetricDefinitionID == "" {
		return nil, types.NewError(types.ErrConfigInvalid,
			"job requires workspace_id and metric_definition_id")
	}
	// Fail fast on a definition that cannot be evaluated at all.
	def, err := p.defs.GetMetricDefinition(ctx, req.MetricDefinitionID)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	job := &types.RetroactiveEvaluationJob{
		ID:                 uuid.NewString(),
		WorkspaceID:        req.WorkspaceID,
		MetricDefinitionID: req.MetricDefinitionID,
		Filters:            req.Filters,
		BatchSize:          req.BatchSize,
		MaxTraces:          req.MaxTraces,
		SamplePercentage:   req.SamplePercentage,
		Status:             types.JobStatusQueued,
		CreatedAt:          time.Now().UTC(),
	}
	if job.BatchSize <= 0 {
		job.BatchSize = p.config.DefaultBatchSize
	}
	if job.MaxTraces <= 0 {
		job.MaxTraces = p.config.DefaultMaxTraces
	}
	if job.SamplePercentage <= 0 || job.SamplePercentage > 100 {
		job.SamplePercentage = 100
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runJob(p.baseCtx, job.ID)
	}()

	p.logger.Info("backfill job submitted",
		zap.String("job_id", job.ID),
		zap.String("workspace_id", job.WorkspaceID),
		zap.String("metric_definition_id", job.MetricDefinitionID),
		zap.Int("sample_percentage", job.SamplePercentage),
		zap.Int("max_traces", job.MaxTraces),
	)
	return job, nil
}

// GetJob returns the current job record.
func (p *Processor) GetJob(ctx context.Context, id string) (*types.RetroactiveEvaluationJob, error) {
	return p.jobs.GetJob(ctx, id)
}

// ListJobs returns all jobs of a workspace, newest first.
func (p *Processor) ListJobs(ctx context.Context, workspaceID string) ([]types.RetroactiveEvaluationJob, error) {
	return p.jobs.ListJobsByWorkspace(ctx, workspaceID)
}

// Shutdown stops scheduling and waits for in-flight jobs to reach a
// terminal state or the context to expire.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob drives one job from queued to a terminal status. Every state
// transition is persisted so pollers see progress as it happens.
func (p *Processor) runJob(ctx context.Context, jobID string) {
	ctx, span := telemetry.StartSpan(ctx, "backfill.runJob",
		attribute.String("job.id", jobID))
	var runErr error
	defer func() { telemetry.EndSpan(span, runErr) }()

	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		runErr = err
		p.logger.Error("backfill job vanished before start", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	def, err := p.defs.GetMetricDefinition(ctx, job.MetricDefinitionID)
	if err != nil {
		runErr = err
		p.finish(ctx, job, types.JobStatusFailed, err)
		return
	}

	now := time.Now().UTC()
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		runErr = err
		p.logger.Error("marking job running failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	selected, err := p.selectSpans(ctx, job)
	if err != nil {
		runErr = err
		p.finish(ctx, job, types.JobStatusFailed, err)
		return
	}
	job.TracesFound = len(selected)
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Warn("persisting job progress failed", zap.String("job_id", jobID), zap.Error(err))
	}

	for start := 0; start < len(selected); start += job.BatchSize {
		end := start + job.BatchSize
		if end > len(selected) {
			end = len(selected)
		}
		p.runBatch(ctx, job, def, selected[start:end])
		if err := p.jobs.UpdateJob(ctx, job); err != nil {
			p.logger.Warn("persisting job progress failed", zap.String("job_id", jobID), zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	interrupted := ctx.Err() != nil && job.TracesEvaluated < job.TracesFound
	var status types.JobStatus
	switch {
	case len(job.Errors) == 0 && !interrupted:
		status = types.JobStatusCompleted
	case job.TracesEvaluated == 0 && job.TracesFound > 0:
		status = types.JobStatusFailed
	default:
		status = types.JobStatusPartiallyFailed
	}
	p.finish(ctx, job, status, nil)
}

// selectSpans lists unevaluated generation spans, applies deterministic
// sampling, and caps the result at the job's trace bound.
func (p *Processor) selectSpans(ctx context.Context, job *types.RetroactiveEvaluationJob) ([]types.Span, error) {
	candidates, err := p.spans.ListUnevaluated(ctx, job.WorkspaceID, job.MetricDefinitionID, store.SpanFilter{
		AgentID:      job.Filters.AgentID,
		AgentVersion: job.Filters.AgentVersion,
		From:         job.Filters.DateFrom,
		To:           job.Filters.DateTo,
	})
	if err != nil {
		return nil, err
	}
	selected := make([]types.Span, 0, len(candidates))
	for _, s := range candidates {
		if !sampled(s.SpanID, job.SamplePercentage) {
			continue
		}
		selected = append(selected, s)
		if len(selected) >= job.MaxTraces {
			break
		}
	}
	return selected, nil
}

// runBatch evaluates one batch with bounded concurrency, mutating the
// job's progress counters. Failures append to job.Errors instead of
// stopping the batch.
func (p *Processor) runBatch(ctx context.Context, job *types.RetroactiveEvaluationJob, def *types.MetricDefinition, batch []types.Span) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i := range batch {
		sp := batch[i]
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return nil
			}
			err := p.evaluateSpan(gctx, job, def, &sp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				job.Errors = append(job.Errors, types.JobError{
					TraceID: sp.TraceID,
					SpanID:  sp.SpanID,
					Message: err.Error(),
					At:      time.Now().UTC(),
				})
				p.logger.Warn("backfill span evaluation failed",
					zap.String("job_id", job.ID),
					zap.String("span_id", sp.SpanID),
					zap.Error(err))
			} else {
				job.TracesEvaluated++
				if p.collector != nil {
					p.collector.RecordBackfillSpan()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// evaluateSpan scores one historical span. The span id doubles as the
// response id so a later live evaluation of the same response lands on
// the same row.
func (p *Processor) evaluateSpan(ctx context.Context, job *types.RetroactiveEvaluationJob, def *types.MetricDefinition, sp *types.Span) error {
	var durationMs float64
	if sp.DurationMs != nil {
		durationMs = float64(*sp.DurationMs)
	}
	sample := &evaluation.Sample{
		TaskInput:   json.RawMessage(sp.Input),
		TaskOutput:  json.RawMessage(sp.Output),
		Performance: types.PerformanceData{
			DurationMs:   durationMs,
			InputTokens:  float64(sp.InputTokens),
			OutputTokens: float64(sp.OutputTokens),
			TotalTokens:  float64(sp.InputTokens + sp.OutputTokens),
			CostUSD:      sp.CostUSD,
		},
	}
	target := evaluation.Target{
		WorkspaceID: job.WorkspaceID,
		TaskID:      sp.TaskID,
		ResponseID:  sp.SpanID,
	}
	result, err := p.evaluator.Evaluate(ctx, def, target, sample)
	if err != nil {
		return err
	}
	return p.results.UpsertResult(ctx, result)
}

// finish applies the terminal status and persists it. The write uses a
// detached context so a shutdown that cancelled the run cannot also lose
// the terminal state.
func (p *Processor) finish(ctx context.Context, job *types.RetroactiveEvaluationJob, status types.JobStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	if cause != nil {
		job.Errors = append(job.Errors, types.JobError{Message: cause.Error(), At: now})
	}
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Error("persisting terminal job state failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	if p.collector != nil {
		p.collector.RecordBackfillJob(string(status))
	}
	p.logger.Info("backfill job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("traces_found", job.TracesFound),
		zap.Int("traces_evaluated", job.TracesEvaluated),
		zap.Int("errors", len(job.Errors)),
	)
}
