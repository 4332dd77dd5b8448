package remote_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/roadgen/pkg/roadgen/remote"
)

func TestMockClient_FixedResponse(t *testing.T) {
	mock := remote.NewMockClient("Hello, world!")

	resp, err := mock.Complete(context.Background(), remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "Hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockClient_SequentialResponses(t *testing.T) {
	mock := remote.NewMockClient("").WithResponses("first", "second", "third")

	resp, err := mock.Complete(context.Background(), remote.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(context.Background(), remote.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	resp, err = mock.Complete(context.Background(), remote.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Content)

	// Cycles back
	resp, err = mock.Complete(context.Background(), remote.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
}

func TestMockClient_WithError(t *testing.T) {
	expectedErr := errors.New("test error")
	mock := remote.NewMockClient("").WithError(expectedErr)

	_, err := mock.Complete(context.Background(), remote.CompletionRequest{})
	assert.Equal(t, expectedErr, err)
}

func TestMockClient_CallTracking(t *testing.T) {
	mock := remote.NewMockClient("response")

	req1 := remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "First question"}},
	}
	req2 := remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "Second question"}},
	}

	_, _ = mock.Complete(context.Background(), req1)
	_, _ = mock.Complete(context.Background(), req2)

	assert.Equal(t, 2, mock.CallCount())
	assert.Len(t, mock.Calls, 2)
	assert.Equal(t, "First question", mock.Calls[0].Messages[0].Content)
	assert.Equal(t, "Second question", mock.Calls[1].Messages[0].Content)
}

func TestMockClient_LastCall(t *testing.T) {
	mock := remote.NewMockClient("response")

	assert.Nil(t, mock.LastCall())

	req := remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "Hello"}},
	}
	_, _ = mock.Complete(context.Background(), req)

	lastCall := mock.LastCall()
	require.NotNil(t, lastCall)
	assert.Equal(t, "Hello", lastCall.Messages[0].Content)
}

func TestMockClient_Reset(t *testing.T) {
	mock := remote.NewMockClient("").WithResponses("a", "b", "c")

	_, _ = mock.Complete(context.Background(), remote.CompletionRequest{})
	_, _ = mock.Complete(context.Background(), remote.CompletionRequest{})

	mock.Reset()

	assert.Equal(t, 0, mock.CallCount())
	assert.Empty(t, mock.Calls)

	// Starts from the first response again
	resp, _ := mock.Complete(context.Background(), remote.CompletionRequest{})
	assert.Equal(t, "a", resp.Content)
}

func TestMockClient_CustomCompleteFunc(t *testing.T) {
	mock := remote.NewMockClient("").WithCompleteFunc(func(ctx context.Context, req remote.CompletionRequest) (*remote.CompletionResponse, error) {
		content := req.Messages[0].Content
		return &remote.CompletionResponse{
			Content: "Echo: " + content,
		}, nil
	})

	resp, err := mock.Complete(context.Background(), remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "test"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Echo: test", resp.Content)
}

func TestMockClient_ContextCancellation(t *testing.T) {
	mock := remote.NewMockClient("response")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Complete(ctx, remote.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockClient_TokenUsage(t *testing.T) {
	mock := remote.NewMockClient("some response text")

	resp, err := mock.Complete(context.Background(), remote.CompletionRequest{
		Messages: []remote.Message{{Role: remote.RoleUser, Content: "count these words"}},
	})
	require.NoError(t, err)

	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.Greater(t, resp.Usage.OutputTokens, 0)
	assert.Equal(t, resp.Usage.InputTokens+resp.Usage.OutputTokens, resp.Usage.TotalTokens)
}
