package report

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/model"
	"github.com/ritzau/ttcn-selector/pkg/selection"
)

// BuildGraph turns a selection result into a presentation graph: every module,
// the infected definitions they own, the import edges and, for each infected
// reference, an edge from the definition that spread infection to the one that
// caught it.
func BuildGraph(res *selection.Result) *model.Graph {
	g := model.NewGraph()

	selected := make(map[string]bool, len(res.ModulesToCheck))
	for _, m := range res.ModulesToCheck {
		selected[m.Name] = true
	}
	start := make(map[string]bool, len(res.StartModules))
	for _, name := range res.StartModules {
		start[name] = true
	}

	var modules []string
	if res.Graph != nil {
		modules = res.Graph.Modules()
	}
	for _, name := range modules {
		g.AddNode(&model.Node{
			ID:    name,
			Label: name,
			Type:  model.NodeModule,
			Metadata: map[string]string{
				"selected": fmt.Sprint(selected[name]),
				"dirty":    fmt.Sprint(start[name]),
			},
		})
	}

	if res.Graph != nil {
		for _, e := range res.Graph.Edges() {
			g.AddEdge(&model.Edge{Source: e[1], Target: e[0], Type: model.EdgeImports})
		}
	}

	for _, name := range res.InfectedModules() {
		for _, s := range res.Definitions[name] {
			id := model.DefinitionNodeID(name, s.Name())
			g.AddNode(&model.Node{
				ID:     id,
				Label:  s.Name(),
				Type:   model.NodeDefinition,
				Parent: name,
				Metadata: map[string]string{
					"kind":       s.Kind().String(),
					"contagious": fmt.Sprint(s.Contagious()),
				},
			})
			g.AddEdge(&model.Edge{Source: name, Target: id, Type: model.EdgeOwns})
		}
	}

	for _, name := range res.InfectedModules() {
		for _, s := range res.Definitions[name] {
			target := model.DefinitionNodeID(name, s.Name())
			for _, ref := range s.InfectedRefs() {
				from, ok := sourceModule(res, name, ref)
				if !ok {
					continue
				}
				g.AddEdge(&model.Edge{
					Source: model.DefinitionNodeID(from, ref),
					Target: target,
					Type:   model.EdgeInfects,
				})
			}
		}
	}

	return g
}

// sourceModule finds the module whose infected definition ref infected a
// definition of module: the module itself first, then its imports
func sourceModule(res *selection.Result, module, ref string) (string, bool) {
	if hasState(res.Definitions[module], ref) {
		return module, true
	}
	if res.Graph == nil {
		return "", false
	}
	for _, imported := range res.Graph.Imports(module) {
		if hasState(res.Definitions[imported], ref) {
			return imported, true
		}
	}
	return "", false
}

func hasState(states []*infection.State, name string) bool {
	for _, s := range states {
		if s.Name() == name {
			return true
		}
	}
	return false
}

// WriteDot renders g in Graphviz dot syntax. Definitions are clustered inside
// their module; dirty modules are filled and contagious definitions are red.
func WriteDot(w io.Writer, g *model.Graph) error {
	data, err := dot.Marshal(newDotGraph(g), "infection", "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dot graph: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing dot graph: %w", err)
	}
	return nil
}

type attributes []encoding.Attribute

func (a attributes) Attributes() []encoding.Attribute { return a }

type dotNode struct {
	id    int64
	name  string
	attrs attributes
}

func (n dotNode) ID() int64 { return n.id }
func (n dotNode) DOTID() string { return n.name }
func (n dotNode) Attributes() []encoding.Attribute { return n.attrs }

type dotEdge struct {
	simple.Edge
	attrs attributes
}

func (e dotEdge) Attributes() []encoding.Attribute { return e.attrs }

// dotGraph is the gonum view of a presentation graph
type dotGraph struct {
	*simple.DirectedGraph
	clusters []*dotCluster
}

func (g *dotGraph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return attributes{{Key: "rankdir", Value: "LR"}},
		attributes{{Key: "shape", Value: "box"}, {Key: "fontname", Value: "Helvetica"}},
		nil
}

func (g *dotGraph) Structure() []dot.Graph {
	out := make([]dot.Graph, len(g.clusters))
	for i, c := range g.clusters {
		out[i] = c
	}
	return out
}

// dotCluster groups a module with its infected definitions
type dotCluster struct {
	*simple.DirectedGraph
	id    string
	label string
}

func (c *dotCluster) DOTID() string { return c.id }

func (c *dotCluster) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return attributes{{Key: "label", Value: c.label}}, nil, nil
}

func newDotGraph(g *model.Graph) *dotGraph {
	dg := &dotGraph{DirectedGraph: simple.NewDirectedGraph()}

	nodes := make(map[string]dotNode, len(g.Nodes))
	children := make(map[string][]dotNode)
	for i, id := range g.SortedNodeIDs() {
		n := g.Nodes[id]
		dn := dotNode{id: int64(i), name: id, attrs: nodeAttributes(n)}
		nodes[id] = dn
		dg.AddNode(dn)
		if n.Type == model.NodeDefinition {
			children[n.Parent] = append(children[n.Parent], dn)
		}
	}

	for _, id := range g.SortedNodeIDs() {
		defs := children[id]
		module, ok := nodes[id]
		if len(defs) == 0 || !ok {
			continue
		}
		c := &dotCluster{
			DirectedGraph: simple.NewDirectedGraph(),
			id:            fmt.Sprintf("cluster_%d", len(dg.clusters)),
			label:         g.Nodes[id].Label,
		}
		c.AddNode(module)
		for _, d := range defs {
			c.AddNode(d)
		}
		dg.clusters = append(dg.clusters, c)
	}

	for _, e := range g.Edges {
		from, okFrom := nodes[e.Source]
		to, okTo := nodes[e.Target]
		if !okFrom || !okTo || from.id == to.id || dg.HasEdgeFromTo(from.id, to.id) {
			continue
		}
		dg.SetEdge(dotEdge{Edge: simple.Edge{F: from, T: to}, attrs: edgeAttributes(e)})
	}

	return dg
}

func nodeAttributes(n *model.Node) attributes {
	if n.Type == model.NodeDefinition {
		a := attributes{{Key: "label", Value: n.Label}, {Key: "shape", Value: "ellipse"}}
		if n.Metadata["contagious"] == "true" {
			a = append(a, encoding.Attribute{Key: "color", Value: "red"})
		}
		return a
	}

	var a attributes
	if n.Label != "" && n.Label != n.ID {
		a = append(a, encoding.Attribute{Key: "label", Value: n.Label})
	}
	switch {
	case n.Metadata["dirty"] == "true":
		a = append(a, encoding.Attribute{Key: "style", Value: "filled"}, encoding.Attribute{Key: "fillcolor", Value: "orange"})
	case n.Metadata["selected"] == "true":
		a = append(a, encoding.Attribute{Key: "style", Value: "filled"}, encoding.Attribute{Key: "fillcolor", Value: "lightyellow"})
	}
	return a
}

func edgeAttributes(e *model.Edge) attributes {
	switch e.Type {
	case model.EdgeImports:
		return attributes{{Key: "style", Value: "dashed"}, {Key: "color", Value: "gray"}}
	case model.EdgeOwns:
		return attributes{{Key: "arrowhead", Value: "none"}, {Key: "color", Value: "lightgray"}}
	case model.EdgeInfects:
		return attributes{{Key: "color", Value: "red"}}
	default:
		return nil
	}
}
