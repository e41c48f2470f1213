package graph

import (
	"sort"

	"github.com/charmbracelet/log"
	"github.com/emirpasic/gods/stacks/arraystack"

	"github.com/rybkr/topoorder/internal/gitcore"
)

// ParentReader yields the parent identifiers recorded in a commit.
type ParentReader interface {
	ReadParents(id gitcore.Hash) ([]gitcore.Hash, error)
}

// Builder closes a set of branch tips over their parent links.
type Builder struct {
	reader ParentReader
	logger *log.Logger
}

// NewBuilder returns a Builder reading commits through reader. A nil logger
// falls back to log.Default().
func NewBuilder(reader ParentReader, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{reader: reader, logger: logger}
}

// Build walks every commit reachable from tips, where tips maps a commit to
// the branch names pointing at it. It returns the graph and its root
// identifiers in ascending order. The first read error aborts the walk.
func (b *Builder) Build(tips map[gitcore.Hash][]string) (*Graph, []gitcore.Hash, error) {
	g := New()
	seen := make(map[gitcore.Hash]struct{}, len(tips))
	work := arraystack.New()

	// Pushed in descending order so the smallest tip is expanded first.
	seeds := make([]gitcore.Hash, 0, len(tips))
	for id := range tips {
		seeds = append(seeds, id)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] > seeds[j] })
	for _, id := range seeds {
		seen[id] = struct{}{}
		work.Push(id)
	}

	reads := 0
	for !work.Empty() {
		v, _ := work.Pop()
		id := v.(gitcore.Hash)

		parents, err := b.reader.ReadParents(id)
		if err != nil {
			return nil, nil, err
		}
		reads++

		g.AddNode(id, tips[id])
		for _, parent := range parents {
			if _, ok := seen[parent]; !ok {
				seen[parent] = struct{}{}
				work.Push(parent)
			}
			g.AddNode(parent, tips[parent])
			g.AddEdge(id, parent)
		}
	}

	roots := g.Roots()
	b.logger.Debug("built commit graph", "tips", len(tips), "commits", g.Len(), "roots", len(roots), "reads", reads)
	return g, roots, nil
}
