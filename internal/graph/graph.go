package graph

import (
	"sort"

	"github.com/rybkr/topoorder/internal/gitcore"
)

// Graph maps commit identifiers to nodes. Every identifier referenced as a
// parent or child of a node is itself a node of the same Graph, and edges are
// symmetric: P is a parent of C exactly when C is a child of P.
type Graph struct {
	nodes map[gitcore.Hash]*CommitNode
}

// New allocates an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[gitcore.Hash]*CommitNode)}
}

// Node returns the node for id, or nil.
func (g *Graph) Node(id gitcore.Hash) *CommitNode {
	return g.nodes[id]
}

// Len returns the number of commits in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns every identifier in ascending order.
func (g *Graph) IDs() []gitcore.Hash {
	ids := make([]gitcore.Hash, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Roots returns the identifiers of parentless nodes in ascending order.
func (g *Graph) Roots() []gitcore.Hash {
	var roots []gitcore.Hash
	for _, id := range g.IDs() {
		if g.nodes[id].IsRoot() {
			roots = append(roots, id)
		}
	}
	return roots
}

// AddNode returns the node for id, creating it with labels if absent. Labels
// of an existing node are left as they are.
func (g *Graph) AddNode(id gitcore.Hash, labels []string) *CommitNode {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := newCommitNode(id, labels)
	g.nodes[id] = n
	return n
}

// AddEdge records parent as a parent of child and child as a child of parent.
// Both nodes must already exist.
func (g *Graph) AddEdge(child, parent gitcore.Hash) {
	g.nodes[child].parents.Add(parent)
	g.nodes[parent].children.Add(child)
}

// Clone returns a deep copy that shares no sets with g.
func (g *Graph) Clone() *Graph {
	c := &Graph{nodes: make(map[gitcore.Hash]*CommitNode, len(g.nodes))}
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}
