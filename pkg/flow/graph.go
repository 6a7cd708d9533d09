// Package flow provides static analysis and publishing for flow documents.
package flow

import "github.com/callwise/callflow/pkg/models"

// graph is an index-based adjacency view of a flow document. Nodes are
// addressed by position so cyclic documents can be traversed iteratively
// without reference cycles or recursion.
type graph struct {
	doc     *models.FlowDocument
	index   map[string]int // nodeID -> position in doc.Nodes
	forward [][]int        // outgoing neighbor positions
	reverse [][]int        // incoming neighbor positions
}

func buildGraph(doc *models.FlowDocument) *graph {
	g := &graph{
		doc:     doc,
		index:   make(map[string]int, len(doc.Nodes)),
		forward: make([][]int, len(doc.Nodes)),
		reverse: make([][]int, len(doc.Nodes)),
	}

	for i, node := range doc.Nodes {
		g.index[node.ID] = i
	}

	for _, edge := range doc.Edges {
		src, okSrc := g.index[edge.Source]
		dst, okDst := g.index[edge.Target]

		// Dangling edges are reported separately; skip them here.
		if !okSrc || !okDst {
			continue
		}

		g.forward[src] = append(g.forward[src], dst)
		g.reverse[dst] = append(g.reverse[dst], src)
	}

	return g
}

// reachable runs an iterative BFS from start over the chosen direction and
// returns the visited set keyed by node position.
func (g *graph) reachable(start int, backward bool) []bool {
	adjacency := g.forward
	if backward {
		adjacency = g.reverse
	}

	visited := make([]bool, len(g.doc.Nodes))
	visited[start] = true
	queue := []int{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return visited
}

// reachableFromAll runs backward BFS seeded with every node in starts.
func (g *graph) reachableFromAll(starts []int, backward bool) []bool {
	visited := make([]bool, len(g.doc.Nodes))

	adjacency := g.forward
	if backward {
		adjacency = g.reverse
	}

	queue := make([]int, 0, len(starts))

	for _, s := range starts {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return visited
}
