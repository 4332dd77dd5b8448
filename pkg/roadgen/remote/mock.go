package remote

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient is a test double for Client.
// It records every request and serves canned responses.
type MockClient struct {
	mu sync.Mutex

	// Calls records every request received, in order.
	Calls []CompletionRequest

	responses    []string
	responseIdx  int
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// NewMockClient creates a mock that always returns response.
func NewMockClient(response string) *MockClient {
	return &MockClient{responses: []string{response}}
}

// WithResponses sets a sequence of responses served in order,
// cycling back to the first when exhausted.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.responseIdx = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc installs a custom handler, overriding canned
// responses and errors.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.completeFunc
	err := m.err
	var content string
	if len(m.responses) > 0 {
		content = m.responses[m.responseIdx%len(m.responses)]
		m.responseIdx++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	input := 0
	for _, msg := range req.Messages {
		input += approxTokens(msg.Content)
	}
	if input == 0 {
		input = 1
	}
	output := approxTokens(content)
	if output == 0 {
		output = 1
	}

	return &CompletionResponse{
		Content:      content,
		Model:        "mock",
		FinishReason: "stop",
		Duration:     time.Millisecond,
		Usage: TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil before any call.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	call := m.Calls[len(m.Calls)-1]
	return &call
}

// Reset clears recorded calls and restarts the response sequence.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.responseIdx = 0
}

// approxTokens estimates token count as words, floor one per
// non-empty string.
func approxTokens(s string) int {
	return len(strings.Fields(s))
}
