// Package pipeline runs the whole scan: branch tips, graph closure,
// topological sort and annotation.
package pipeline

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/graph"
	"github.com/rybkr/topoorder/internal/render"
	"github.com/rybkr/topoorder/internal/topo"
)

// Source is what a scan reads: branch tips and commit parents.
type Source interface {
	graph.ParentReader
	Tips() (map[gitcore.Hash][]string, error)
}

// Result is a fully ordered and annotated history.
type Result struct {
	Entries []render.Entry `json:"entries"`
	Roots   []gitcore.Hash `json:"roots"`
	Tips    int            `json:"tips"`
	Elapsed time.Duration  `json:"-"`
}

// Run scans src. Nothing is returned unless every step succeeds.
func Run(src Source, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.Default()
	}
	start := time.Now()

	tips, err := src.Tips()
	if err != nil {
		return nil, err
	}

	g, roots, err := graph.NewBuilder(src, logger).Build(tips)
	if err != nil {
		return nil, err
	}

	// The sort empties parent sets; gap markers need them intact.
	order, err := topo.Sort(g.Clone(), roots)
	if err != nil {
		return nil, err
	}

	entries, err := render.Entries(order, g)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Entries: entries,
		Roots:   roots,
		Tips:    len(tips),
		Elapsed: time.Since(start),
	}
	logger.Debug("ordered history", "commits", len(entries), "roots", len(roots), "tips", len(tips),
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}
