// Package graph reconstructs the parent/child hierarchy of one resource kind
// from a flat listing. A Graph is built once and never modified.
package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/rflorenc/treeops/internal/models"
)

// CycleDetectedError reports a parent chain that never reaches a root.
type CycleDetectedError struct {
	Name string
	Hops int
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected in parent chain of %q after %d hops", e.Name, e.Hops)
}

// DuplicateNameError reports two resources of the same kind sharing a name.
type DuplicateNameError struct {
	Kind string
	Name string
	IDs  []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s name %q (ids %s)", e.Kind, e.Name, strings.Join(e.IDs, ", "))
}

// Node is one resource in the hierarchy.
type Node struct {
	ID         string
	Name       string
	ParentID   string
	ParentName string
	Resource   models.Resource
}

// Options controls how Build treats inconsistent input.
type Options struct {
	// StrictNames makes a duplicate name fatal instead of last-write-wins.
	StrictNames bool
	Logger      *slog.Logger
}

// Graph maps names to ids and parents to children for one resource kind.
type Graph struct {
	kind     models.ResourceKind
	nodes    map[string]*Node
	idToName map[string]string
	nameToID map[string]string
	children map[string]sets.Set[string]
}

// Build creates a Graph from a complete listing of kind. Records without an id
// or name are skipped. A parent reference that points outside the listing
// makes the node a root.
func Build(kind models.ResourceKind, resources []models.Resource, opts Options) (*Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := &Graph{
		kind:     kind,
		nodes:    make(map[string]*Node, len(resources)),
		idToName: make(map[string]string, len(resources)),
		nameToID: make(map[string]string, len(resources)),
		children: make(map[string]sets.Set[string]),
	}

	for _, r := range resources {
		id, name := r.ID(), r.Name()
		if id == "" || name == "" {
			logger.Warn("skipping resource without id or name", "kind", kind.Name, "id", id, "name", name)
			continue
		}
		if prev, dup := g.nameToID[name]; dup && prev != id {
			if opts.StrictNames {
				return nil, &DuplicateNameError{Kind: kind.Name, Name: name, IDs: []string{prev, id}}
			}
			logger.Warn("duplicate name, keeping the last record", "kind", kind.Name, "name", name, "dropped_id", prev, "kept_id", id)
			delete(g.idToName, prev)
		}
		g.nameToID[name] = id
		g.idToName[id] = name
		g.nodes[name] = &Node{ID: id, Name: name, ParentID: models.RefID(r.String(kind.ParentField)), Resource: r}
	}

	for name, n := range g.nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := g.idToName[n.ParentID]
		if !ok {
			logger.Warn("parent not in listing, treating as root", "kind", kind.Name, "name", name, "parent_id", n.ParentID)
			n.ParentID = ""
			continue
		}
		n.ParentName = parent
		if g.children[parent] == nil {
			g.children[parent] = sets.New[string]()
		}
		g.children[parent].Insert(name)
	}
	return g, nil
}

// Kind returns the resource kind the graph was built from.
func (g *Graph) Kind() models.ResourceKind { return g.kind }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// ID returns the id of name.
func (g *Graph) ID(name string) (string, bool) {
	id, ok := g.nameToID[name]
	return id, ok
}

// Name returns the name of id.
func (g *Graph) Name(id string) (string, bool) {
	name, ok := g.idToName[id]
	return name, ok
}

// Names returns every node name in ascending order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParentOf returns the parent name of name, or false for a root.
func (g *Graph) ParentOf(name string) (string, bool) {
	n, ok := g.nodes[name]
	if !ok || n.ParentName == "" {
		return "", false
	}
	return n.ParentName, true
}

// ChildrenOf returns the direct children of name in ascending order.
func (g *Graph) ChildrenOf(name string) []string {
	return sets.List(g.children[name])
}

// Depth counts parent hops from name to its root. The walk gives up after
// Len()+1 hops.
func (g *Graph) Depth(name string) (int, error) {
	limit := len(g.nodes) + 1
	hops := 0
	cur := name
	for {
		parent, ok := g.ParentOf(cur)
		if !ok {
			return hops, nil
		}
		hops++
		if hops > limit {
			return 0, &CycleDetectedError{Name: name, Hops: hops}
		}
		cur = parent
	}
}

// Descendants returns every transitive child of name, excluding name itself.
func (g *Graph) Descendants(name string) (sets.Set[string], error) {
	out := sets.New[string]()
	queue := g.ChildrenOf(name)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == name {
			return nil, &CycleDetectedError{Name: name, Hops: out.Len() + 1}
		}
		if out.Has(cur) {
			continue
		}
		out.Insert(cur)
		queue = append(queue, g.ChildrenOf(cur)...)
	}
	return out, nil
}
