// Package backfill applies a metric to historical generation spans that
// were exported before the metric existed. Work runs as durable jobs:
// submission persists a queued job record and returns immediately, a
// worker drives the job through running to a terminal status, and callers
// poll the record for progress. A single bad span never aborts a job; its
// failure is appended to the job's error list and the scan continues.
package backfill
