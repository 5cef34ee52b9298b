package report

import (
	"github.com/ritzau/ttcn-selector/pkg/model"
)

type distanceQueueNode struct {
	nodeID   string
	distance int
}

// Distances computes the shortest distance, ignoring edge direction, from each
// node to the nearest root. Unreachable nodes inherit the distance of their
// parent module and are absent when that has none either.
func Distances(g *model.Graph, roots []string) map[string]int {
	distances := make(map[string]int)
	if len(roots) == 0 {
		return distances
	}

	adjacency := make(map[string][]string)
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		adjacency[e.Target] = append(adjacency[e.Target], e.Source)
	}

	var queue []distanceQueueNode
	for _, id := range roots {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		if _, seen := distances[id]; seen {
			continue
		}
		distances[id] = 0
		queue = append(queue, distanceQueueNode{nodeID: id})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range adjacency[current.nodeID] {
			if _, exists := distances[neighbor]; !exists {
				distances[neighbor] = current.distance + 1
				queue = append(queue, distanceQueueNode{nodeID: neighbor, distance: current.distance + 1})
			}
		}
	}

	for id, n := range g.Nodes {
		if _, ok := distances[id]; ok || n.Parent == "" {
			continue
		}
		if d, ok := distances[n.Parent]; ok {
			distances[id] = d
		}
	}
	return distances
}

// Focus returns the subgraph of nodes within depth of a root, with the edges
// between them. A negative depth keeps everything reachable.
func Focus(g *model.Graph, roots []string, depth int) *model.Graph {
	distances := Distances(g, roots)

	out := model.NewGraph()
	for _, id := range g.SortedNodeIDs() {
		d, ok := distances[id]
		if !ok || (depth >= 0 && d > depth) {
			continue
		}
		out.AddNode(g.Nodes[id])
	}
	for _, e := range g.Edges {
		_, from := out.Nodes[e.Source]
		_, to := out.Nodes[e.Target]
		if from && to {
			out.AddEdge(e)
		}
	}
	return out
}
