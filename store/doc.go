// Package store owns the pipeline's two analytical tables: spans, keyed by
// (trace_id, span_id), and task_metrics, keyed by (task_id, response_id,
// metric_definition_id) with a metric_category discriminator. Writers only
// append or upsert-by-key, never read-modify-write, so concurrent exporters
// and evaluators need no locking beyond the store's per-batch atomicity.
//
// Backends:
//   - Memory: for development and testing (default)
//   - GORM: sqlite, postgres, or mysql, selected by the factory
//
// Retroactive job records have their own JobStore with memory and Redis
// backends; the Redis backend keeps job progress across process restarts.
package store
