package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/agentlens/llm"
	"github.com/BaSui01/agentlens/trace"
	"github.com/BaSui01/agentlens/types"
)

const judgePromptTemplate = `You are an expert evaluator assessing the quality of an AI agent's output.

## Criteria
%s
%s
## Task Input
%s

## Task Output
%s

## Instructions
Judge whether the output satisfies the criteria. Score the output from 0.0 (worst) to 1.0 (best) and explain your judgement.

## Output Format
Respond with a JSON object in the following format:
{
  "passed": <boolean>,
  "score": <number between 0.0 and 1.0>,
  "reasoning": "<string>"
}`

// judgeVariant grades a task output by asking an LLM. Provider failures
// are transient errors; a response the judge produced but we cannot parse
// is a negative verdict with the parse problem as reasoning, because
// retrying an unparsable judge is the author's call, not ours.
type judgeVariant struct {
	provider llm.Provider
	costs    *trace.CostCalculator
	config   Config
}

func newJudgeVariant(provider llm.Provider, costs *trace.CostCalculator, cfg Config) *judgeVariant {
	def := DefaultConfig()
	if cfg.JudgeModel == "" {
		cfg.JudgeModel = def.JudgeModel
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = def.JudgeTimeout
	}
	if cfg.PassScore <= 0 {
		cfg.PassScore = def.PassScore
	}
	return &judgeVariant{provider: provider, costs: costs, config: cfg}
}

func (j *judgeVariant) Evaluate(ctx context.Context, def *types.MetricDefinition, sample *Sample) (*Outcome, error) {
	model := def.Config.JudgeModel
	if model == "" {
		model = j.config.JudgeModel
	}
	prompt := j.buildPrompt(def, sample)

	ctx, cancel := context.WithTimeout(ctx, j.config.JudgeTimeout)
	defer cancel()

	req := &llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		// Low temperature for consistent judgements.
		Temperature: 0.1,
	}
	resp, err := j.provider.Completion(ctx, req)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			"judge completion failed").WithMetric(def.ID).WithCause(err).WithRetryable(true)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable,
			"judge returned no choices").WithMetric(def.ID).WithRetryable(true)
	}
	content := resp.Choices[0].Message.Content
	cost := j.completionCost(model, prompt, content, resp.Usage)

	verdict, err := parseJudgeVerdict(content)
	if err != nil {
		return &Outcome{
			Passed:    false,
			Reasoning: "failed to parse judge response: " + err.Error(),
			CostUSD:   cost,
		}, nil
	}

	passed := verdict.Passed
	if verdict.Passed == nil {
		// Fall back to the threshold when the judge only scored.
		threshold := def.Config.PassScore
		if threshold <= 0 {
			threshold = j.config.PassScore
		}
		p := verdict.Score != nil && *verdict.Score >= threshold
		passed = &p
	}
	return &Outcome{
		Passed:    *passed,
		Score:     verdict.Score,
		Reasoning: verdict.Reasoning,
		CostUSD:   cost,
	}, nil
}

func (j *judgeVariant) buildPrompt(def *types.MetricDefinition, sample *Sample) string {
	rubric := ""
	if def.Config.Rubric != "" {
		rubric = "\n## Rubric\n" + def.Config.Rubric + "\n"
	}
	return fmt.Sprintf(judgePromptTemplate,
		def.Config.Criteria,
		rubric,
		rawOrEmpty(sample.TaskInput),
		rawOrEmpty(sample.TaskOutput),
	)
}

// completionCost prices the judge call. When the provider omits usage
// numbers the tokens are estimated locally so the evaluation cost never
// silently reads as zero.
func (j *judgeVariant) completionCost(model, prompt, completion string, usage llm.ChatUsage) float64 {
	if j.costs == nil {
		return 0
	}
	in, out := usage.PromptTokens, usage.CompletionTokens
	if in == 0 && out == 0 {
		in = estimateTokens(model, prompt)
		out = estimateTokens(model, completion)
	}
	return j.costs.Calculate(j.provider.Name(), model, in, out)
}

func estimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Rough heuristic when no encoding is available.
			return len(text) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}

type judgeVerdict struct {
	Passed    *bool    `json:"passed"`
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// parseJudgeVerdict extracts the JSON object from the judge's reply,
// tolerating prose or code fences around it.
func parseJudgeVerdict(content string) (*judgeVerdict, error) {
	jsonStr := extractJSON(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var v judgeVerdict
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return nil, err
	}
	if v.Passed == nil && v.Score == nil {
		return nil, fmt.Errorf("response has neither passed nor score")
	}
	return &v, nil
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "(empty)"
	}
	return string(raw)
}
