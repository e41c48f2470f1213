package graph

import (
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"

	"github.com/rybkr/topoorder/internal/gitcore"
)

// CommitNode is one commit in the ancestry graph. Parent, child and label sets
// iterate in ascending order, which is what makes sorting and rendering
// reproducible.
type CommitNode struct {
	ID gitcore.Hash

	parents  *treeset.Set
	children *treeset.Set
	labels   *treeset.Set
}

func hashComparator(a, b interface{}) int {
	return strings.Compare(string(a.(gitcore.Hash)), string(b.(gitcore.Hash)))
}

// newCommitNode allocates fresh sets for every node so no two nodes ever
// share a label collection.
func newCommitNode(id gitcore.Hash, labels []string) *CommitNode {
	n := &CommitNode{
		ID:       id,
		parents:  treeset.NewWith(hashComparator),
		children: treeset.NewWith(hashComparator),
		labels:   treeset.NewWith(utils.StringComparator),
	}
	for _, l := range labels {
		n.labels.Add(l)
	}
	return n
}

// Parents returns the parent identifiers in ascending order.
func (n *CommitNode) Parents() []gitcore.Hash {
	return hashes(n.parents)
}

// Children returns the child identifiers in ascending order.
func (n *CommitNode) Children() []gitcore.Hash {
	return hashes(n.children)
}

// Labels returns the branch names pointing at this commit, sorted.
func (n *CommitNode) Labels() []string {
	out := make([]string, 0, n.labels.Size())
	for _, v := range n.labels.Values() {
		out = append(out, v.(string))
	}
	return out
}

// HasParent reports whether id is a direct parent of n.
func (n *CommitNode) HasParent(id gitcore.Hash) bool {
	return n.parents.Contains(id)
}

// NumParents is the current size of the parent set.
func (n *CommitNode) NumParents() int {
	return n.parents.Size()
}

// IsRoot reports whether n has no parents.
func (n *CommitNode) IsRoot() bool {
	return n.parents.Empty()
}

// RemoveParent drops id from the parent set, leaving the child set of id
// untouched. Only the sorter calls this, on its working copy.
func (n *CommitNode) RemoveParent(id gitcore.Hash) {
	n.parents.Remove(id)
}

func (n *CommitNode) clone() *CommitNode {
	return &CommitNode{
		ID:       n.ID,
		parents:  treeset.NewWith(hashComparator, n.parents.Values()...),
		children: treeset.NewWith(hashComparator, n.children.Values()...),
		labels:   treeset.NewWith(utils.StringComparator, n.labels.Values()...),
	}
}

func hashes(s *treeset.Set) []gitcore.Hash {
	out := make([]gitcore.Hash, 0, s.Size())
	for _, v := range s.Values() {
		out = append(out, v.(gitcore.Hash))
	}
	return out
}
