package types

import "time"

// PerformanceData is the runtime measurement set a metric formula can
// reference, collected from the span the response came from.
type PerformanceData struct {
	DurationMs   float64 `json:"duration_ms"`
	InputTokens  float64 `json:"input_tokens"`
	OutputTokens float64 `json:"output_tokens"`
	TotalTokens  float64 `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Fields returns the data as a flat map keyed by field name, the shape
// both the formula environment and the sandbox input expect.
func (p PerformanceData) Fields() map[string]float64 {
	return map[string]float64{
		"duration_ms":   p.DurationMs,
		"input_tokens":  p.InputTokens,
		"output_tokens": p.OutputTokens,
		"total_tokens":  p.TotalTokens,
		"cost_usd":      p.CostUSD,
	}
}

// EvaluationResult is the outcome of scoring one response against one
// metric. At most one row exists per (task_id, response_id,
// metric_definition_id); re-evaluation overwrites rather than duplicates.
type EvaluationResult struct {
	TaskID             string         `json:"task_id" gorm:"column:task_id;primaryKey;size:64"`
	ResponseID         string         `json:"response_id" gorm:"column:response_id;primaryKey;size:64"`
	MetricDefinitionID string         `json:"metric_definition_id" gorm:"column:metric_definition_id;primaryKey;size:64"`
	WorkspaceID        string         `json:"workspace_id" gorm:"column:workspace_id;size:64;index"`
	ResponseIndex      int            `json:"response_index" gorm:"column:response_index"`
	MetricName         string         `json:"metric_name" gorm:"column:metric_name;size:128;index"`
	MetricType         MetricType     `json:"metric_type" gorm:"column:metric_type;size:32"`
	MetricCategory     MetricCategory `json:"metric_category" gorm:"column:metric_category;size:32;index"`
	Passed             bool           `json:"passed" gorm:"column:passed"`
	Score              *float64       `json:"score,omitempty" gorm:"column:score"`
	Reasoning          string         `json:"reasoning,omitempty" gorm:"column:reasoning"`
	EvalDurationMs     int64          `json:"eval_duration_ms" gorm:"column:eval_duration_ms"`
	EvalCostUSD        float64        `json:"eval_cost_usd" gorm:"column:eval_cost_usd"`
	CreatedAt          time.Time      `json:"created_at" gorm:"column:created_at"`
}

// TableName implements gorm's Tabler interface. Results share one physical
// table partitioned by metric_category.
func (EvaluationResult) TableName() string { return "task_metrics" }
