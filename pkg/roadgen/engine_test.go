package roadgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
	"github.com/pathforge/roadgen/pkg/roadgen/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedClient blocks the Nth remote call until released, giving tests
// a window to observe or cancel an in-flight run.
type gatedClient struct {
	inner   remote.Client
	blockAt int

	mu      sync.Mutex
	calls   int
	once    sync.Once
	blocked chan struct{}
	release chan struct{}
}

func newGatedClient(inner remote.Client, blockAt int) *gatedClient {
	return &gatedClient{
		inner:   inner,
		blockAt: blockAt,
		blocked: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedClient) Complete(ctx context.Context, req remote.CompletionRequest) (*remote.CompletionResponse, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if n == c.blockAt {
		c.once.Do(func() { close(c.blocked) })
		<-c.release
	}
	return c.inner.Complete(ctx, req)
}

func newTestEngine(t *testing.T, client remote.Client, opts ...EngineOption) *Engine {
	t.Helper()
	p, _, _ := newTestPipeline(client)
	e, err := NewEngine(p, opts...)
	require.NoError(t, err)
	return e
}

func TestEngineSubmit_InvalidRequest(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(1)))

	req := testRequest()
	req.ProjectID = ""
	runID, err := e.Submit(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, runID)
}

func TestEngineSubmit_RunToCompletion(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(3)))

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	res, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"unit-01", "unit-02", "unit-03"}, res.UnitsCompleted)
	assert.Empty(t, res.UnitsFailed)
	assert.Greater(t, res.TotalSteps, 0)

	prog, err := e.GetProgress(runID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, prog.Percentage)
}

func TestEngineSubmit_PartialFailureStillSucceeds(t *testing.T) {
	client := newScriptedClient(planJSON(3))
	client.failNext("content:Topic 2", err400())
	e := newTestEngine(t, client)

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	res, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, []string{"unit-01", "unit-03"}, res.UnitsCompleted)
	require.Len(t, res.UnitsFailed, 1)
	assert.Equal(t, "unit-02", res.UnitsFailed[0].UnitID)
}

func TestEngineGetResult_WhileRunning(t *testing.T) {
	client := newGatedClient(newScriptedClient(planJSON(2)), 2)
	e := newTestEngine(t, client)

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	<-client.blocked
	_, err = e.GetResult(runID)
	assert.ErrorIs(t, err, ErrRunActive)

	close(client.release)
	_, err = e.Wait(context.Background(), runID)
	require.NoError(t, err)
}

func TestEngineCancel(t *testing.T) {
	client := newGatedClient(newScriptedClient(planJSON(3)), 2)
	e := newTestEngine(t, client)

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	<-client.blocked
	require.NoError(t, e.Cancel(runID))
	close(client.release)

	res, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.False(t, res.Success)
}

func TestEngineResume_AfterCancellation(t *testing.T) {
	cpStore := checkpoint.NewMemoryStore()
	client := newGatedClient(newScriptedClient(planJSON(3)), 2)
	e := newTestEngine(t, client, WithCheckpoints(cpStore))

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	<-client.blocked
	require.NoError(t, e.Cancel(runID))
	close(client.release)

	res, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Status)

	require.NoError(t, e.Resume(context.Background(), runID))
	res, err = e.Wait(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, []string{"unit-01", "unit-02", "unit-03"}, res.UnitsCompleted)
	assert.Empty(t, res.UnitsFailed)
}

func TestEngineResume_NoStore(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(1)))
	err := e.Resume(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

func TestEngineResume_UnknownRun(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(1)),
		WithCheckpoints(checkpoint.NewMemoryStore()))
	err := e.Resume(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

func TestEngine_UnknownRunID(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(1)))

	_, err := e.GetProgress("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = e.GetResult("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, e.Cancel("missing"), ErrRunNotFound)
}

func TestEngineWait_HonorsContext(t *testing.T) {
	client := newGatedClient(newScriptedClient(planJSON(1)), 1)
	e := newTestEngine(t, client)

	runID, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	<-client.blocked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Wait(ctx, runID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(client.release)
	_, err = e.Wait(context.Background(), runID)
	require.NoError(t, err)
}

func TestEngineSubmit_DetachedFromCallerContext(t *testing.T) {
	e := newTestEngine(t, newScriptedClient(planJSON(2)))

	ctx, cancel := context.WithCancel(context.Background())
	runID, err := e.Submit(ctx, testRequest())
	require.NoError(t, err)
	cancel()

	res, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
}
