// Package types defines the core domain model shared by every component of
// the trace and quality-metrics pipeline: spans, metric definitions,
// evaluation results, retroactive jobs, and the structured error type.
//
// Types in this package carry both json tags (wire/API shape) and gorm tags
// (analytical-store schema) so a single definition serves the exporter, the
// evaluators, and the aggregation engine.
package types
