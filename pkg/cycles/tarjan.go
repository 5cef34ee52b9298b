package cycles

import (
	"sort"

	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds strongly connected components of more than one node
type TarjanSCC struct {
	graph   graph.Directed
	index   int
	stack   []int64
	onStack map[int64]bool
	indices map[int64]int
	lowLink map[int64]int
	sccs    [][]int64
}

// NewTarjanSCC creates a new Tarjan SCC finder
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		graph:   g,
		onStack: make(map[int64]bool),
		indices: make(map[int64]int),
		lowLink: make(map[int64]int),
	}
}

// FindSCCs returns the cyclic components, each sorted by node ID, ordered by
// their smallest node ID
func (t *TarjanSCC) FindSCCs() [][]int64 {
	var ids []int64
	nodes := t.graph.Nodes()
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, visited := t.indices[id]; !visited {
			t.strongConnect(id)
		}
	}

	for _, scc := range t.sccs {
		sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
	}
	sort.Slice(t.sccs, func(i, j int) bool { return t.sccs[i][0] < t.sccs[j][0] })
	return t.sccs
}

func (t *TarjanSCC) strongConnect(nodeID int64) {
	t.indices[nodeID] = t.index
	t.lowLink[nodeID] = t.index
	t.index++

	t.stack = append(t.stack, nodeID)
	t.onStack[nodeID] = true

	successors := t.graph.From(nodeID)
	for successors.Next() {
		successorID := successors.Node().ID()

		if _, visited := t.indices[successorID]; !visited {
			t.strongConnect(successorID)
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.lowLink[successorID])
		} else if t.onStack[successorID] {
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.indices[successorID])
		}
	}

	// Root node: pop the component off the stack
	if t.lowLink[nodeID] == t.indices[nodeID] {
		var scc []int64
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == nodeID {
				break
			}
		}
		if len(scc) > 1 {
			t.sccs = append(t.sccs, scc)
		}
	}
}
