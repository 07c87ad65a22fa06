// Package plan selects subtrees of a resource graph by name and orders them
// for deletion, deepest first.
package plan

import (
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/rflorenc/treeops/internal/graph"
	"github.com/rflorenc/treeops/internal/models"
)

// Matcher reports whether a node name is selected by a filter.
type Matcher func(name string) bool

// Substring matches names containing s.
func Substring(s string) Matcher {
	return func(name string) bool { return strings.Contains(name, s) }
}

// Exact matches the name s only.
func Exact(s string) Matcher {
	return func(name string) bool { return name == s }
}

// Any matches every name.
func Any() Matcher {
	return func(string) bool { return true }
}

// Except wraps m so that the given names never match.
func Except(m Matcher, names map[string]bool) Matcher {
	return func(name string) bool { return !names[name] && m(name) }
}

// Roots returns the matching nodes whose parent does not also match, sorted.
func Roots(g *graph.Graph, match Matcher) []string {
	var roots []string
	for _, name := range g.Names() {
		if !match(name) {
			continue
		}
		if parent, ok := g.ParentOf(name); ok && match(parent) {
			continue
		}
		roots = append(roots, name)
	}
	return roots
}

// SelectTree returns every root match together with all of its descendants.
// No match yields an empty set and no error.
func SelectTree(g *graph.Graph, match Matcher) (sets.Set[string], error) {
	sel := sets.New[string]()
	for _, root := range Roots(g, match) {
		if sel.Has(root) {
			continue
		}
		desc, err := g.Descendants(root)
		if err != nil {
			return nil, err
		}
		sel.Insert(root)
		sel = sel.Union(desc)
	}
	return sel, nil
}

// Order sorts a selection by depth descending, then name ascending, so no node
// precedes any of its selected descendants.
func Order(g *graph.Graph, sel sets.Set[string]) ([]models.PlanEntry, error) {
	entries := make([]models.PlanEntry, 0, sel.Len())
	for name := range sel {
		depth, err := g.Depth(name)
		if err != nil {
			return nil, err
		}
		e := models.PlanEntry{Depth: depth, Name: name}
		if n, ok := g.Node(name); ok {
			e.ID = n.ID
			e.ParentName = n.ParentName
			e.ParentID = n.ParentID
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Depth != entries[j].Depth {
			return entries[i].Depth > entries[j].Depth
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Build selects and orders in one step.
func Build(g *graph.Graph, match Matcher) ([]models.PlanEntry, error) {
	sel, err := SelectTree(g, match)
	if err != nil {
		return nil, err
	}
	return Order(g, sel)
}
