package roadgen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/remote"
	"github.com/pathforge/roadgen/pkg/roadgen/retry"
)

// Helper node and router functions for graph/executor tests.

// makeTrackingNode creates a node that records its execution order.
func makeTrackingNode(name string, tracker *[]string) NodeFunc {
	return func(ctx Context, s GenerationState) (GenerationState, error) {
		*tracker = append(*tracker, name)
		return s, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc {
	return func(ctx Context, s GenerationState) (GenerationState, error) {
		return s, err
	}
}

// passthrough returns the state unchanged.
func passthrough(ctx Context, s GenerationState) (GenerationState, error) {
	return s, nil
}

// countSteps is a node that bumps a counter stashed in Warnings length.
func appendWarning(ctx Context, s GenerationState) (GenerationState, error) {
	s.Warnings = append(s.Warnings, "tick")
	return s, nil
}

// testRequest returns a valid three-day request.
func testRequest() GenerationRequest {
	return GenerationRequest{
		ProjectID:  "proj-1",
		SourceRef:  "github.com/example/repo",
		SkillLevel: SkillIntermediate,
		TargetDays: 3,
	}
}

// staticAnalyzer returns a fixed analysis for every source ref.
func staticAnalyzer() SourceAnalyzer {
	return AnalyzerFunc(func(ctx context.Context, sourceRef string) (SourceAnalysis, error) {
		return SourceAnalysis{
			Summary:   "A web service written in Go.",
			Languages: []string{"go"},
			Topics:    []string{"http", "sql"},
		}, nil
	})
}

// planJSON builds a planner response with n well-formed units.
func planJSON(n int) string {
	entries := make([]string, n)
	for i := 0; i < n; i++ {
		entries[i] = fmt.Sprintf(`{"day":%d,"title":"Topic %d","objective":"Learn topic %d"}`, i+1, i+1, i+1)
	}
	return "[" + strings.Join(entries, ",") + "]"
}

const (
	contentJSON = `{"content":"# Lesson\nSome material."}`
	tasksJSON   = `["Read the lesson","Do the exercise"]`
)

// scriptedClient routes mock completions by prompt kind, with
// injectable per-call error schedules. The schedule for a key is
// consumed one error per matching call; a nil entry means success.
type scriptedClient struct {
	mu sync.Mutex

	planResponse string
	errSchedule  map[string][]error  // key: "plan", "content:<title>", "tasks:<title>"
	respOverride map[string][]string // raw responses served before the canned one
	calls        []string            // keys in call order
	prompts      []string            // user prompts in call order
}

func newScriptedClient(planResponse string) *scriptedClient {
	return &scriptedClient{
		planResponse: planResponse,
		errSchedule:  make(map[string][]error),
		respOverride: make(map[string][]string),
	}
}

// failNext queues errs for calls matching key, served in order before
// any success.
func (c *scriptedClient) failNext(key string, errs ...error) *scriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errSchedule[key] = append(c.errSchedule[key], errs...)
	return c
}

// respondNext queues raw response bodies for calls matching key.
func (c *scriptedClient) respondNext(key string, bodies ...string) *scriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respOverride[key] = append(c.respOverride[key], bodies...)
	return c
}

func (c *scriptedClient) callKey(req remote.CompletionRequest) string {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[0].Content
	}
	switch {
	case req.SystemPrompt == plannerSystemPrompt:
		return "plan"
	case strings.Contains(prompt, "practice tasks"):
		return "tasks:" + titleOf(prompt)
	default:
		return "content:" + titleOf(prompt)
	}
}

// titleOf extracts the unit title from a generation prompt.
func titleOf(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Title: "); ok {
			return rest
		}
	}
	return ""
}

func (c *scriptedClient) Complete(ctx context.Context, req remote.CompletionRequest) (*remote.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	key := c.callKey(req)
	c.calls = append(c.calls, key)
	if len(req.Messages) > 0 {
		c.prompts = append(c.prompts, req.Messages[0].Content)
	}
	var err error
	if queue := c.errSchedule[key]; len(queue) > 0 {
		err = queue[0]
		c.errSchedule[key] = queue[1:]
	}
	var override string
	hasOverride := false
	if err == nil {
		if queue := c.respOverride[key]; len(queue) > 0 {
			override = queue[0]
			c.respOverride[key] = queue[1:]
			hasOverride = true
		}
	}
	plan := c.planResponse
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var content string
	switch {
	case hasOverride:
		content = override
	case key == "plan":
		content = plan
	case strings.HasPrefix(key, "tasks:"):
		content = tasksJSON
	default:
		content = contentJSON
	}
	return &remote.CompletionResponse{Content: content, Model: "scripted", FinishReason: "stop"}, nil
}

// callCount returns the number of calls matching key.
func (c *scriptedClient) callCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.calls {
		if k == key {
			n++
		}
	}
	return n
}

// sleepRecorder captures sleep durations instead of sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.sleeps {
		sum += d
	}
	return sum
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}

// newTestPipeline wires a pipeline around the scripted client with
// instant backoffs. The returned recorders capture retry and recovery
// waits separately.
func newTestPipeline(client remote.Client, opts ...PipelineOption) (*Pipeline, *sleepRecorder, *sleepRecorder) {
	retryWaits := &sleepRecorder{}
	recoveryWaits := &sleepRecorder{}

	exec := retry.NewExecutor(nil, retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	},
		retry.WithSleep(retryWaits.sleep),
		retry.WithRand(func() float64 { return 0 }),
	)

	base := []PipelineOption{
		WithRetryExecutor(exec),
		WithRecoverySleep(recoveryWaits.sleep),
		WithRecoveryBase(time.Second),
	}
	p := NewPipeline(client, staticAnalyzer(), append(base, opts...)...)
	return p, retryWaits, recoveryWaits
}

// runPipeline compiles and runs the pipeline on a fresh test request.
func runPipeline(p *Pipeline, opts ...RunOption) (GenerationState, error) {
	graph, err := p.BuildGraph()
	if err != nil {
		return GenerationState{}, err
	}
	state := NewGenerationState("run-test", testRequest())
	return graph.Run(NewContext(context.Background()), state, opts...)
}
