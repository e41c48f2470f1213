// Package render turns a topological order into text, one commit per line.
//
// A line holds the commit identifier followed by the sorted names of the
// branches pointing at it. When the next line is not a direct parent of the
// current one, a gap marker is written between them:
//
//	<parents of current>=
//
//	=<children of next>
//
// so that readers can see where the linear order jumps between lineages.
package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/graph"
)

// Entry is one rendered line plus the gap marker that follows it, if any.
type Entry struct {
	ID     gitcore.Hash `json:"id"`
	Labels []string     `json:"labels,omitempty"`
	Gap    *Gap         `json:"gap,omitempty"`
}

// Gap describes a jump between two consecutive entries that are not linked by
// a parent edge.
type Gap struct {
	// Parents of the entry before the gap.
	Parents []gitcore.Hash `json:"parents"`
	// Children of the entry after the gap.
	Children []gitcore.Hash `json:"children"`
}

// Entries annotates order using g, which must still hold every parent
// edge. All sets come out in ascending order.
func Entries(order []gitcore.Hash, g *graph.Graph) ([]Entry, error) {
	entries := make([]Entry, 0, len(order))
	for i, id := range order {
		node := g.Node(id)
		if node == nil {
			return nil, fmt.Errorf("commit %s is not in the graph", id)
		}

		entry := Entry{ID: id, Labels: node.Labels()}
		if i+1 < len(order) {
			nextID := order[i+1]
			if !node.HasParent(nextID) {
				next := g.Node(nextID)
				if next == nil {
					return nil, fmt.Errorf("commit %s is not in the graph", nextID)
				}
				entry.Gap = &Gap{Parents: node.Parents(), Children: next.Children()}
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Styles decorate labels and gap markers on terminals.
type Styles struct {
	Label  lipgloss.Style
	Marker lipgloss.Style
}

// NewStyles builds the terminal palette on renderer r.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Label:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("35")),
		Marker: r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Write prints entries to w. A nil styles writes plain text.
func Write(w io.Writer, entries []Entry, styles *Styles) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		bw.WriteString(string(e.ID))
		if len(e.Labels) > 0 {
			bw.WriteByte(' ')
			bw.WriteString(styled(styles, labelStyle, strings.Join(e.Labels, " ")))
		}
		bw.WriteByte('\n')

		if e.Gap != nil {
			bw.WriteString(styled(styles, markerStyle, join(e.Gap.Parents)+"="))
			bw.WriteString("\n\n")
			bw.WriteString(styled(styles, markerStyle, "="+join(e.Gap.Children)))
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// Render is Entries followed by Write without styling.
func Render(order []gitcore.Hash, g *graph.Graph) (string, error) {
	entries, err := Entries(order, g)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := Write(&b, entries, nil); err != nil {
		return "", err
	}
	return b.String(), nil
}

type styleKind int

const (
	labelStyle styleKind = iota
	markerStyle
)

func styled(s *Styles, kind styleKind, text string) string {
	if s == nil {
		return text
	}
	if kind == labelStyle {
		return s.Label.Render(text)
	}
	return s.Marker.Render(text)
}

func join(ids []gitcore.Hash) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, " ")
}
