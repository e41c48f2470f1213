// Package topo orders commit graphs so that every commit precedes its
// ancestors.
package topo

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/graph"
)

// ErrGraphIntegrity is returned when the graph cannot be fully reduced,
// meaning it has a cycle or an edge to a node that was never released.
var ErrGraphIntegrity = errors.New("graph integrity")

// IntegrityError reports how far the reduction got before stalling.
type IntegrityError struct {
	Emitted int
	Total   int
	// Stuck lists nodes that were never released, in ascending order.
	Stuck []gitcore.Hash
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: ordered %d of %d commits, %d never became eligible",
		ErrGraphIntegrity, e.Emitted, e.Total, len(e.Stuck))
}

func (e *IntegrityError) Unwrap() error {
	return ErrGraphIntegrity
}

// Sort consumes working, removing parent links as it goes, and returns its
// identifiers ordered descendants first. Roots seed a FIFO queue in the order
// given; children are released in ascending identifier order. working must not
// be used for rendering afterwards; keep a Clone for that.
func Sort(working *graph.Graph, roots []gitcore.Hash) ([]gitcore.Hash, error) {
	order := make([]gitcore.Hash, 0, working.Len())
	emitted := make(map[gitcore.Hash]struct{}, working.Len())

	queue := linkedlistqueue.New()
	for _, id := range roots {
		if n := working.Node(id); n == nil || !n.IsRoot() {
			return nil, fmt.Errorf("%w: %s is not a root of the graph", ErrGraphIntegrity, id)
		}
		queue.Enqueue(id)
	}

	for !queue.Empty() {
		v, _ := queue.Dequeue()
		id := v.(gitcore.Hash)
		if _, dup := emitted[id]; dup {
			return nil, fmt.Errorf("%w: %s released twice", ErrGraphIntegrity, id)
		}
		emitted[id] = struct{}{}
		order = append(order, id)

		for _, childID := range working.Node(id).Children() {
			child := working.Node(childID)
			child.RemoveParent(id)
			if child.IsRoot() {
				queue.Enqueue(childID)
			}
		}
	}

	if len(order) != working.Len() {
		stuck := make([]gitcore.Hash, 0, working.Len()-len(order))
		for _, id := range working.IDs() {
			if _, ok := emitted[id]; !ok {
				stuck = append(stuck, id)
			}
		}
		return nil, &IntegrityError{Emitted: len(order), Total: working.Len(), Stuck: stuck}
	}

	reverse(order)
	return order, nil
}

func reverse(ids []gitcore.Hash) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}
