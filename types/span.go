package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SpanType classifies a unit of work inside a task execution.
type SpanType string

const (
	SpanTypeWorkflow   SpanType = "workflow"
	SpanTypeActivity   SpanType = "activity"
	SpanTypeGeneration SpanType = "generation"
	SpanTypeFunction   SpanType = "function"
	SpanTypeSignal     SpanType = "signal"
)

// SpanStatus is the lifecycle status of a span.
type SpanStatus string

const (
	SpanStatusRunning   SpanStatus = "running"
	SpanStatusCompleted SpanStatus = "completed"
	SpanStatusFailed    SpanStatus = "failed"
	SpanStatusCancelled SpanStatus = "cancelled"
)

// Terminal reports whether the status is final. A span is never mutated
// after reaching a terminal status.
func (s SpanStatus) Terminal() bool {
	switch s {
	case SpanStatusCompleted, SpanStatusFailed, SpanStatusCancelled:
		return true
	}
	return false
}

// JSONMap is an open key/value map stored as a JSON column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// Span is one timed unit of work inside a task execution. Spans are created
// once at export time and never mutated after their status is terminal;
// re-export upserts by (trace_id, span_id).
type Span struct {
	TraceID      string     `json:"trace_id" gorm:"column:trace_id;primaryKey;size:64"`
	SpanID       string     `json:"span_id" gorm:"column:span_id;primaryKey;size:64"`
	ParentSpanID string     `json:"parent_span_id,omitempty" gorm:"column:parent_span_id;size:64;index"`
	TaskID       string     `json:"task_id" gorm:"column:task_id;size:64;index"`
	AgentID      string     `json:"agent_id" gorm:"column:agent_id;size:64;index"`
	AgentVersion string     `json:"agent_version,omitempty" gorm:"column:agent_version;size:32"`
	WorkspaceID  string     `json:"workspace_id" gorm:"column:workspace_id;size:64;index:idx_spans_ws_started"`
	SpanType     SpanType   `json:"span_type" gorm:"column:span_type;size:16;index"`
	SpanName     string     `json:"span_name" gorm:"column:span_name;size:255"`
	StartedAt    time.Time  `json:"started_at" gorm:"column:started_at;index:idx_spans_ws_started"`
	EndedAt      *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationMs   *int64     `json:"duration_ms,omitempty" gorm:"column:duration_ms"`
	Status       SpanStatus `json:"status" gorm:"column:status;size:16"`
	Input        string     `json:"input,omitempty" gorm:"column:input"`
	Output       string     `json:"output,omitempty" gorm:"column:output"`
	ModelName    string     `json:"model_name,omitempty" gorm:"column:model_name;size:128"`
	InputTokens  int        `json:"input_tokens,omitempty" gorm:"column:input_tokens"`
	OutputTokens int        `json:"output_tokens,omitempty" gorm:"column:output_tokens"`
	CostUSD      float64    `json:"cost_usd,omitempty" gorm:"column:cost_usd"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"column:error_message"`
	ErrorType    string     `json:"error_type,omitempty" gorm:"column:error_type;size:64"`
	Metadata     JSONMap    `json:"metadata,omitempty" gorm:"column:metadata;type:text"`
}

// TableName implements gorm's Tabler interface.
func (Span) TableName() string { return "spans" }

// Finish sets the end timestamp, derives the duration, and applies the
// terminal status. No-op if the span already has an end timestamp.
func (s *Span) Finish(endedAt time.Time, status SpanStatus) {
	if s.EndedAt != nil {
		return
	}
	s.EndedAt = &endedAt
	d := endedAt.Sub(s.StartedAt).Milliseconds()
	s.DurationMs = &d
	s.Status = status
}

// Validate checks structural invariants of a single span.
func (s *Span) Validate() error {
	if s.TraceID == "" {
		return NewError(ErrHistoryMalformed, "span is missing trace_id")
	}
	if s.SpanID == "" {
		return NewError(ErrHistoryMalformed, "span is missing span_id").WithTrace(s.TraceID)
	}
	if s.ParentSpanID == s.SpanID {
		return NewError(ErrHistoryMalformed, "span cannot be its own parent").WithTrace(s.TraceID)
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return NewError(ErrHistoryMalformed,
			fmt.Sprintf("span %s ends before it starts", s.SpanID)).WithTrace(s.TraceID)
	}
	return nil
}
