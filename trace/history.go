package trace

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentlens/types"
)

// NodeKind classifies one node of an execution history. The values map
// one-to-one onto span types.
type NodeKind string

const (
	NodeKindWorkflow   NodeKind = "workflow"
	NodeKindActivity   NodeKind = "activity"
	NodeKindGeneration NodeKind = "generation"
	NodeKindFunction   NodeKind = "function"
	NodeKindSignal     NodeKind = "signal"
)

// SpanType maps the node kind onto the span model's type enum. Unknown
// kinds return an empty type; the exporter treats that as malformed.
func (k NodeKind) SpanType() types.SpanType {
	switch k {
	case NodeKindWorkflow:
		return types.SpanTypeWorkflow
	case NodeKindActivity:
		return types.SpanTypeActivity
	case NodeKindGeneration:
		return types.SpanTypeGeneration
	case NodeKindFunction:
		return types.SpanTypeFunction
	case NodeKindSignal:
		return types.SpanTypeSignal
	}
	return ""
}

// LLMCall carries the model usage attached to a generation node's
// completion event.
type LLMCall struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// NodeRecord is one start/end event pair inside an execution history,
// nested under the node that scheduled it. An unset EndedAt means the node
// was still running when the history was captured.
type NodeRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      NodeKind        `json:"kind"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Status    string          `json:"status,omitempty"` // completed|failed|cancelled; empty while running
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	LLM       *LLMCall        `json:"llm,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Children  []*NodeRecord   `json:"children,omitempty"`
}

// ExecutionHistory is the engine's record of one task run: the root
// workflow node and its nested children. The exact event schema is owned by
// the engine; this is the shape the exporter consumes.
type ExecutionHistory struct {
	TraceID string      `json:"trace_id"` // execution/workflow run id
	Root    *NodeRecord `json:"root"`
}

// BusinessIDs are the tenant-scoped identifiers carried in the root
// execution's input payload and stamped onto every span of the trace.
type BusinessIDs struct {
	TaskID       string `json:"task_id"`
	AgentID      string `json:"agent_id"`
	AgentVersion string `json:"agent_version"`
	WorkspaceID  string `json:"workspace_id"`
}

// extractBusinessIDs decodes the identifiers from the root input payload.
func extractBusinessIDs(root *NodeRecord) (BusinessIDs, error) {
	var ids BusinessIDs
	if len(root.Input) == 0 {
		return ids, types.NewError(types.ErrHistoryMalformed, "root node has no input payload")
	}
	if err := json.Unmarshal(root.Input, &ids); err != nil {
		return ids, types.NewError(types.ErrHistoryMalformed, "root input payload is not valid JSON").WithCause(err)
	}
	if ids.TaskID == "" || ids.WorkspaceID == "" {
		return ids, types.NewError(types.ErrHistoryMalformed, "root input payload is missing task_id or workspace_id")
	}
	return ids, nil
}
