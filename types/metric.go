package types

import (
	"time"
)

// MetricType selects the evaluator variant for a metric definition. The set
// is closed: an unknown value is a configuration error, never a fallthrough.
type MetricType string

const (
	MetricTypeLLMJudge   MetricType = "llm_judge"
	MetricTypePythonCode MetricType = "python_code"
	MetricTypeFormula    MetricType = "formula"
)

// Valid reports whether the metric type is a member of the closed set.
func (t MetricType) Valid() bool {
	switch t {
	case MetricTypeLLMJudge, MetricTypePythonCode, MetricTypeFormula:
		return true
	}
	return false
}

// MetricCategory groups metrics for analytics partitioning.
type MetricCategory string

const (
	MetricCategoryQuality     MetricCategory = "quality"
	MetricCategoryPerformance MetricCategory = "performance"
	MetricCategorySecurity    MetricCategory = "security"
	MetricCategoryFeedback    MetricCategory = "feedback"
)

// MetricConfig holds the type-specific configuration of a metric. Only the
// fields for the definition's MetricType are meaningful.
type MetricConfig struct {
	// llm_judge
	Criteria    string  `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Rubric      string  `json:"rubric,omitempty" yaml:"rubric,omitempty"`
	JudgeModel  string  `json:"judge_model,omitempty" yaml:"judge_model,omitempty"`
	PassScore   float64 `json:"pass_score,omitempty" yaml:"pass_score,omitempty"`
	// python_code
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
	// formula
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// MetricDefinition is a named, versionless scoring rule a workspace applies
// to its tasks. Deleting a definition does not delete past evaluation
// results; they remain attributed to the id.
type MetricDefinition struct {
	ID          string         `json:"id" gorm:"column:id;primaryKey;size:64"`
	WorkspaceID string         `json:"workspace_id" gorm:"column:workspace_id;size:64;index:idx_metric_defs_ws_name,unique"`
	Name        string         `json:"name" gorm:"column:name;size:128;index:idx_metric_defs_ws_name,unique"`
	Category    MetricCategory `json:"category" gorm:"column:category;size:32"`
	MetricType  MetricType     `json:"metric_type" gorm:"column:metric_type;size:32"`
	Config      MetricConfig   `json:"config" gorm:"column:config;serializer:json"`
	IsActive    bool           `json:"is_active" gorm:"column:is_active"`
	IsDefault   bool           `json:"is_default" gorm:"column:is_default"`
	CreatedBy   string         `json:"created_by,omitempty" gorm:"column:created_by;size:64"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

// TableName implements gorm's Tabler interface.
func (MetricDefinition) TableName() string { return "metric_definitions" }

// Validate checks that the definition carries the configuration its type
// requires. A failure here is a ConfigurationError.
func (d *MetricDefinition) Validate() error {
	if !d.MetricType.Valid() {
		return NewError(ErrUnknownMetricType,
			"unknown metric type "+string(d.MetricType)).WithMetric(d.ID)
	}
	switch d.MetricType {
	case MetricTypeLLMJudge:
		if d.Config.Criteria == "" {
			return NewError(ErrConfigInvalid, "llm_judge metric requires criteria").WithMetric(d.ID)
		}
	case MetricTypePythonCode:
		if d.Config.Code == "" {
			return NewError(ErrConfigInvalid, "python_code metric requires code").WithMetric(d.ID)
		}
	case MetricTypeFormula:
		if d.Config.Expression == "" {
			return NewError(ErrConfigInvalid, "formula metric requires an expression").WithMetric(d.ID)
		}
	}
	return nil
}
