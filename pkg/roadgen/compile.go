package roadgen

import (
	"errors"
	"fmt"
	"log/slog"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Multiple validation errors are joined together.
//
// Validation checks (in order):
//  1. Entry point must be set
//  2. Entry point must reference an existing node
//  3. All edge sources must reference existing nodes
//  4. All edge targets must reference existing nodes or END
//  5. A path from the entry point to END must exist
//
// Unreachable nodes are logged as warnings but do not fail compilation.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entry]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entry))
	}

	for from, targets := range g.edges {
		if from != END {
			if _, exists := g.nodes[from]; !exists {
				if _, hasRouter := g.routers[from]; !hasRouter {
					errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
				}
			}
		}
		for _, to := range targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target %q does not exist", ErrNodeNotFound, to))
				}
			}
		}
	}

	for from := range g.routers {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q does not exist", ErrNodeNotFound, from))
		}
	}

	if g.entry != "" {
		if _, exists := g.nodes[g.entry]; exists {
			if !g.hasPathToEnd() {
				errs = append(errs, ErrNoPathToEnd)
			}
		}
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

// hasPathToEnd checks reachability of END from the entry point.
// A node with a router is assumed able to reach END, since the router
// may return END at runtime.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false

		for from, targets := range g.edges {
			if canReachEnd[from] {
				continue
			}
			for _, to := range targets {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}

		for from := range g.routers {
			if !canReachEnd[from] {
				canReachEnd[from] = true
				changed = true
			}
		}
	}

	return canReachEnd[g.entry]
}

// warnUnreachableNodes logs nodes not reachable from the entry point.
func (g *Graph) warnUnreachableNodes() {
	if g.entry == "" {
		return
	}

	reachable := g.findReachableNodes()
	for nodeID := range g.nodes {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from entry.
// Router targets are runtime-determined, so a node with a router is
// treated as able to reach every node.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entry == "" {
		return reachable
	}

	queue := []string{g.entry}
	reachable[g.entry] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.edges[current] {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}

		if _, hasRouter := g.routers[current]; hasRouter {
			for nodeID := range g.nodes {
				if !reachable[nodeID] {
					reachable[nodeID] = true
					queue = append(queue, nodeID)
				}
			}
		}
	}

	return reachable
}

// buildCompiledGraph copies the builder state into an immutable graph.
func (g *Graph) buildCompiledGraph() *CompiledGraph {
	nodes := make(map[string]NodeFunc, len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}

	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = make([]string, len(targets))
		copy(edges[from], targets)
	}

	routers := make(map[string]RouterFunc, len(g.routers))
	for from, router := range g.routers {
		routers[from] = router
	}

	return &CompiledGraph{
		nodes:   nodes,
		edges:   edges,
		routers: routers,
		entry:   g.entry,
	}
}
