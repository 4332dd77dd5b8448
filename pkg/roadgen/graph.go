package roadgen

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for the workflow graph.
// Chain AddNode, AddEdge, AddConditionalEdge, and SetEntry calls to
// define the pipeline, then call Compile to get an immutable
// CompiledGraph that can be shared across runs.
//
// Graph is not safe for concurrent building; construct it from a
// single goroutine.
type Graph struct {
	mu      sync.RWMutex
	nodes   map[string]NodeFunc
	edges   map[string][]string
	routers map[string]RouterFunc
	entry   string
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]NodeFunc),
		edges:   make(map[string][]string),
		routers: make(map[string]RouterFunc),
	}
}

// AddNode adds a named node. Returns the graph for chaining.
//
// Panics if the ID is empty, reserved, contains whitespace, duplicates
// an existing node, or fn is nil. Graph construction errors are
// programming errors, not runtime conditions.
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	if id == "" {
		panic("roadgen: node ID cannot be empty")
	}
	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == "__end__" {
		panic("roadgen: node ID cannot be reserved word 'END'")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("roadgen: node ID cannot contain whitespace")
	}
	if fn == nil {
		panic("roadgen: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("roadgen: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge. The target can be a node ID or
// END. Edge references are validated at Compile, so edges can be added
// in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge installs a router that picks the next node at
// runtime based on state. A node with a router ignores its simple
// edges.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	if router == nil {
		panic("roadgen: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.routers[from] = router
	return g
}

// SetEntry designates the entry point node. Must be called before
// Compile.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entry = id
	return g
}
