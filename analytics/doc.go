// Package analytics builds the workspace dashboard report: daily
// performance aggregates from spans, per-metric quality aggregates from
// evaluation results, feedback tallies, and task-volume overview. The
// engine delegates the heavy grouping to the store and enriches the
// result with the workspace's active metric definitions so a metric with
// zero evaluations still appears.
package analytics
