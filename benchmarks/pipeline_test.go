package benchmarks

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen"
	"github.com/pathforge/roadgen/pkg/roadgen/remote"
	"github.com/pathforge/roadgen/pkg/roadgen/retry"
)

func benchRequest(days int) roadgen.GenerationRequest {
	return roadgen.GenerationRequest{
		ProjectID:  "bench-project",
		SourceRef:  "github.com/example/service",
		SkillLevel: roadgen.SkillIntermediate,
		TargetDays: days,
	}
}

func benchAnalyzer() roadgen.SourceAnalyzer {
	return roadgen.AnalyzerFunc(func(ctx context.Context, sourceRef string) (roadgen.SourceAnalysis, error) {
		return roadgen.SourceAnalysis{
			Summary:   "A web service written in Go.",
			Languages: []string{"go"},
			Topics:    []string{"http", "sql"},
		}, nil
	})
}

// benchClient answers planner and generator prompts with canned JSON
// so benchmarks exercise the pipeline, not a model.
func benchClient(units int) *remote.MockClient {
	var plan strings.Builder
	plan.WriteString("[")
	for i := 1; i <= units; i++ {
		if i > 1 {
			plan.WriteString(",")
		}
		fmt.Fprintf(&plan, `{"day":%d,"title":"Topic %d","objective":"Learn topic %d"}`, i, i, i)
	}
	plan.WriteString("]")

	planJSON := plan.String()
	contentJSON := `{"content":"# Lesson\nSome material."}`
	tasksJSON := `["Read the lesson","Do the exercise"]`

	return remote.NewMockClient("").WithCompleteFunc(
		func(ctx context.Context, req remote.CompletionRequest) (*remote.CompletionResponse, error) {
			var body string
			switch {
			case strings.Contains(req.SystemPrompt, "curriculum planner"):
				body = planJSON
			case len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "practice tasks"):
				body = tasksJSON
			default:
				body = contentJSON
			}
			return &remote.CompletionResponse{Content: body}, nil
		})
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func benchPipeline(units int) *roadgen.Pipeline {
	exec := retry.NewExecutor(nil, retry.DefaultPolicy(), retry.WithSleep(noSleep))
	return roadgen.NewPipeline(benchClient(units), benchAnalyzer(),
		roadgen.WithRetryExecutor(exec),
		roadgen.WithRecoverySleep(noSleep),
	)
}

func mustBuild(b *testing.B, p *roadgen.Pipeline) *roadgen.CompiledGraph {
	b.Helper()
	graph, err := p.BuildGraph()
	if err != nil {
		b.Fatal(err)
	}
	return graph
}

// BenchmarkPipelineRun_3Units runs the full generation state machine
// for a three-unit roadmap against a canned model.
func BenchmarkPipelineRun_3Units(b *testing.B) {
	graph := mustBuild(b, benchPipeline(3))
	ctx := roadgen.NewContext(context.Background())
	req := benchRequest(3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state := roadgen.NewGenerationState("bench-run", req)
		if _, err := graph.Run(ctx, state); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPipelineRun_10Units runs a ten-unit roadmap.
func BenchmarkPipelineRun_10Units(b *testing.B) {
	graph := mustBuild(b, benchPipeline(10))
	ctx := roadgen.NewContext(context.Background())
	req := benchRequest(10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state := roadgen.NewGenerationState("bench-run", req)
		if _, err := graph.Run(ctx, state); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBuildGraph measures pipeline graph construction plus
// compilation.
func BenchmarkBuildGraph(b *testing.B) {
	p := benchPipeline(3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.BuildGraph(); err != nil {
			b.Fatal(err)
		}
	}
}

func noopNode(ctx roadgen.Context, s roadgen.GenerationState) (roadgen.GenerationState, error) {
	return s, nil
}

func nodeID(i int) string {
	return fmt.Sprintf("node-%d", i)
}

func buildLinearGraph(n int) *roadgen.Graph {
	graph := roadgen.NewGraph()
	for i := 0; i < n; i++ {
		graph.AddNode(nodeID(i), noopNode)
	}
	for i := 0; i < n-1; i++ {
		graph.AddEdge(nodeID(i), nodeID(i+1))
	}
	graph.AddEdge(nodeID(n-1), roadgen.END)
	graph.SetEntry(nodeID(0))
	return graph
}

// BenchmarkCompile_Linear_50 compiles a 50-node linear graph.
func BenchmarkCompile_Linear_50(b *testing.B) {
	graph := buildLinearGraph(50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := graph.Compile(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRun_Linear_50 measures per-transition framework overhead
// with nodes that do no work.
func BenchmarkRun_Linear_50(b *testing.B) {
	graph, err := buildLinearGraph(50).Compile()
	if err != nil {
		b.Fatal(err)
	}
	ctx := roadgen.NewContext(context.Background())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := graph.Run(ctx, roadgen.GenerationState{}); err != nil {
			b.Fatal(err)
		}
	}
}
