package remote

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pathforge/roadgen/pkg/roadgen/faults"
)

// Default model configuration, overridable per client or per request.
const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completion endpoint.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

// WithBaseURL points the client at a non-default endpoint, e.g. a
// proxy or a compatible local server.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithModel sets the default model for requests that don't name one.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithMaxTokens sets the default completion token cap.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *openAIConfig) { c.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *openAIConfig) { c.temperature = t }
}

// NewOpenAIClient creates a client authenticated with apiKey.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openAIConfig{
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		apiCfg.BaseURL = cfg.baseURL
	}

	return &OpenAIClient{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return nil, classifyTransportError(err, "chat/completions")
	}

	if len(resp.Choices) == 0 {
		return nil, &faults.RemoteError{
			StatusCode: 502,
			Message:    "response contained no choices",
			Endpoint:   "chat/completions",
		}
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// classifyTransportError converts provider and network errors into the
// typed errors the retry layer understands. Context errors pass
// through unchanged so cancellation is distinguishable from failure.
func classifyTransportError(err error, endpoint string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		remote := &faults.RemoteError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Endpoint:   endpoint,
		}
		if apiErr.HTTPStatusCode == 429 {
			remote.RetryAfter = retryAfterFromCode(apiErr.Code)
		}
		return remote
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &faults.RemoteError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Endpoint:   endpoint,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &faults.TimeoutError{Operation: endpoint}
	}

	// Unknown transport failure: treat as a retryable upstream error.
	return &faults.RemoteError{
		StatusCode: 503,
		Message:    err.Error(),
		Endpoint:   endpoint,
	}
}

// retryAfterFromCode parses the numeric retry-after hint some
// providers put in the error code field. Zero when absent.
func retryAfterFromCode(code any) time.Duration {
	s, ok := code.(string)
	if !ok {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
