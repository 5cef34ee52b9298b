package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// ImportGraph is the inverted import graph of a project: an edge runs from a
// module to every module that imports it. Node IDs are the module positions in
// project order, which keeps every traversal deterministic.
type ImportGraph struct {
	graph *simple.DirectedGraph
	names []string         // graph ID -> module name
	ids   map[string]int64 // module name -> graph ID
}

// NewImportGraph creates an empty import graph
func NewImportGraph() *ImportGraph {
	return &ImportGraph{
		graph: simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
	}
}

// AddModule adds a module node. Adding a known module is a no-op.
func (ig *ImportGraph) AddModule(name string) {
	if _, exists := ig.ids[name]; exists {
		return
	}
	id := int64(len(ig.names))
	ig.ids[name] = id
	ig.names = append(ig.names, name)
	ig.graph.AddNode(simple.Node(id))
}

// AddImport records that importer imports imported. Both modules must already
// be known; unknown modules and self-imports are ignored and reported as false.
func (ig *ImportGraph) AddImport(importer, imported string) bool {
	from, ok := ig.ids[imported]
	if !ok {
		return false
	}
	to, ok := ig.ids[importer]
	if !ok || from == to {
		return false
	}
	if !ig.graph.HasEdgeFromTo(from, to) {
		ig.graph.SetEdge(ig.graph.NewEdge(ig.graph.Node(from), ig.graph.Node(to)))
	}
	return true
}

// Has reports whether the module is a node of the graph
func (ig *ImportGraph) Has(name string) bool {
	_, ok := ig.ids[name]
	return ok
}

// Len returns the number of modules
func (ig *ImportGraph) Len() int {
	return len(ig.names)
}

// Modules returns all module names in project order
func (ig *ImportGraph) Modules() []string {
	out := make([]string, len(ig.names))
	copy(out, ig.names)
	return out
}

// Importers returns the modules importing name, in project order
func (ig *ImportGraph) Importers(name string) []string {
	id, ok := ig.ids[name]
	if !ok {
		return nil
	}
	return ig.namesOf(ig.graph.From(id))
}

// Imports returns the known modules that name imports, in project order
func (ig *ImportGraph) Imports(name string) []string {
	id, ok := ig.ids[name]
	if !ok {
		return nil
	}
	return ig.namesOf(ig.graph.To(id))
}

func (ig *ImportGraph) namesOf(nodes graph.Nodes) []string {
	var ids []int64
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	return ig.sortedNames(ids)
}

func (ig *ImportGraph) sortedNames(ids []int64) []string {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, ig.names[id])
	}
	return names
}

// Reachable returns the start modules and every module that transitively
// imports one of them, in project order. Unknown start modules are skipped.
func (ig *ImportGraph) Reachable(start []string) []string {
	var visited []int64
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) {
			visited = append(visited, n.ID())
		},
	}
	for _, name := range start {
		id, ok := ig.ids[name]
		if !ok {
			continue
		}
		bf.Walk(ig.graph, ig.graph.Node(id), nil)
	}
	return ig.sortedNames(visited)
}

// Edges returns all edges as [imported, importer] pairs in project order
func (ig *ImportGraph) Edges() [][2]string {
	var edges [][2]string
	for id, name := range ig.names {
		for _, importer := range ig.Importers(name) {
			edges = append(edges, [2]string{ig.names[id], importer})
		}
	}
	return edges
}

// NameOf returns the module name of a graph node ID
func (ig *ImportGraph) NameOf(id int64) (string, bool) {
	if id < 0 || id >= int64(len(ig.names)) {
		return "", false
	}
	return ig.names[id], true
}

// Graph returns the underlying directed graph
func (ig *ImportGraph) Graph() graph.Directed {
	return ig.graph
}

// Build creates the inverted import graph of modules and the list of start
// modules: those never checked (nil timestamp) or missing from checked.
// Start modules are returned once each, in project order.
func Build(modules []*model.Module, checked map[string]bool) (*ImportGraph, []string) {
	ig := NewImportGraph()
	for _, m := range modules {
		ig.AddModule(m.Name)
	}

	for _, m := range modules {
		for _, imported := range m.Imports {
			if !ig.AddImport(m.Name, imported) && imported != m.Name {
				logging.Debug("ignoring import of unknown module", "module", m.Name, "import", imported)
			}
		}
	}

	seen := make(map[string]bool)
	var start []string
	for _, m := range modules {
		if seen[m.Name] {
			continue
		}
		if m.LastChecked == nil || !checked[m.Name] {
			seen[m.Name] = true
			start = append(start, m.Name)
		}
	}

	logging.Debug("built inverted import graph", "modules", ig.Len(), "startModules", len(start))
	return ig, start
}
