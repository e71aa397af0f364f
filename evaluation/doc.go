// Package evaluation scores task outputs against user-defined quality
// metrics. Three evaluator variants form a closed set selected by the
// metric definition's type: llm_judge asks an LLM to grade the output,
// python_code runs user scoring code in a sandbox, and formula evaluates a
// restricted expression over performance data.
//
// The package distinguishes three failure classes. A metric that ran and
// judged the output negatively (or produced unparsable output) is a normal
// EvaluationResult with Passed=false and a Reasoning; it is never an error.
// A misconfigured metric other than an unknown type is also recorded as a
// failed result, with the configuration problem as the reasoning, so the
// metric's author sees it. An unknown metric type and transient I/O
// failures are returned as errors: the former is a hard configuration
// error, the latter retryable by the caller.
package evaluation
