package model

import "sort"

// Node types used in exported infection graphs
const (
	NodeModule     = "module"
	NodeDefinition = "definition"
)

// Edge types used in exported infection graphs
const (
	EdgeOwns    = "owns"    // module -> infected definition
	EdgeInfects = "infects" // referenced definition -> infected referencer
	EdgeImports = "imports" // importer -> imported module
)

// Graph is a presentation graph of a selection run. The report and web packages
// render it as Graphviz text or JSON; the engine never reads it back.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
	Edges []*Edge          `json:"edges"`
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// Node is a module or a definition.
type Node struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	Parent   string            `json:"parent,omitempty"` // owning module ID for definitions
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
}

// AddNode adds a node to the graph, keeping metadata of an existing node with the same ID.
func (g *Graph) AddNode(node *Node) {
	if node.Metadata == nil {
		node.Metadata = make(map[string]string)
	}
	if existing, ok := g.Nodes[node.ID]; ok {
		for k, v := range existing.Metadata {
			if _, set := node.Metadata[k]; !set {
				node.Metadata[k] = v
			}
		}
	}
	g.Nodes[node.ID] = node
}

// AddEdge adds an edge unless an identical one is already present.
func (g *Graph) AddEdge(edge *Edge) {
	for _, e := range g.Edges {
		if e.Source == edge.Source && e.Target == edge.Target && e.Type == edge.Type {
			return
		}
	}
	g.Edges = append(g.Edges, edge)
}

// SortedNodeIDs returns node IDs in lexical order for stable output.
func (g *Graph) SortedNodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefinitionNodeID builds the node ID of a definition inside a module.
func DefinitionNodeID(module, definition string) string {
	return module + "." + definition
}
