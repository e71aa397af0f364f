package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/types"
)

// OpenAICompatConfig configures an OpenAI-compatible chat completions
// endpoint. Most hosted providers expose this shape.
type OpenAICompatConfig struct {
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	APIKey       string        `yaml:"api_key" json:"api_key"`
	DefaultModel string        `yaml:"default_model" json:"default_model"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	ProviderName string        `yaml:"provider_name" json:"provider_name"`
}

// OpenAICompatProvider implements Provider against any OpenAI-compatible
// /chat/completions endpoint.
type OpenAICompatProvider struct {
	config OpenAICompatConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompatProvider creates a provider. The underlying HTTP client is
// reused across calls.
func NewOpenAICompatProvider(config OpenAICompatConfig, logger *zap.Logger) *OpenAICompatProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ProviderName == "" {
		config.ProviderName = "openai"
	}
	return &OpenAICompatProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With(zap.String("component", "llm_provider")),
	}
}

// Name implements Provider.
func (p *OpenAICompatProvider) Name() string { return p.config.ProviderName }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Completion implements Provider.
func (p *OpenAICompatProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "provider request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "read provider response").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		p.logger.Warn("provider returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("model", model))
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("provider status %d: %s", resp.StatusCode, truncateBody(data))).
			WithRetryable(retryable)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "decode provider response").
			WithCause(err)
	}
	if parsed.Error != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, parsed.Error.Message)
	}

	out := &ChatResponse{
		ID:       parsed.ID,
		Provider: p.config.ProviderName,
		Model:    parsed.Model,
		Usage: ChatUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}
	for _, c := range parsed.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      c.Message,
		})
	}
	return out, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
