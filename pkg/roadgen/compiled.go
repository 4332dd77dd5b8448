package roadgen

// CompiledGraph is an immutable, executable workflow graph produced by
// Graph.Compile. It is safe for concurrent Run calls: multiple
// independent runs may execute against the same compiled graph.
type CompiledGraph struct {
	nodes   map[string]NodeFunc
	edges   map[string][]string
	routers map[string]RouterFunc
	entry   string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entry
}

// NodeIDs returns all node identifiers. Order is not guaranteed.
func (cg *CompiledGraph) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode reports whether a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the simple-edge targets of a node. Targets of
// conditional edges are runtime-determined and not included.
func (cg *CompiledGraph) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// IsConditional reports whether the node routes via a router function.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, exists := cg.routers[id]
	return exists
}

func (cg *CompiledGraph) getNode(id string) (NodeFunc, bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

func (cg *CompiledGraph) getRouter(id string) (RouterFunc, bool) {
	router, exists := cg.routers[id]
	return router, exists
}

func (cg *CompiledGraph) getEdges(id string) []string {
	return cg.edges[id]
}
