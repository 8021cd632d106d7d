package genome

import (
	"time"

	"github.com/google/uuid"
)

// RootParent addresses the top level of a genome in InsertNode.
const RootParent = ""

// Position selects where InsertNode places a node relative to its anchor.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
	Inside Position = "inside"
)

// Flatten lists every node in pre-order: a parent precedes its children and
// sibling order is preserved. A nil genome yields an empty slice.
func Flatten(g Genome) []Node {
	out := make([]Node, 0, countNodes(g))
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(g)
	return out
}

func countNodes(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		total += 1 + countNodes(n.Children)
	}
	return total
}

// CountBlocks returns the number of nodes in the whole forest.
func CountBlocks(g Genome) int { return countNodes(g) }

// FindByID returns the node with the given id.
func FindByID(g Genome, id string) (Node, bool) {
	for _, n := range g {
		if n.ID == id {
			return n, true
		}
		if found, ok := FindByID(n.Children, id); ok {
			return found, true
		}
	}
	return Node{}, false
}

// RemoveByID returns a genome without the node (and its subtree). Only the
// path to the removed node is copied; a missing id returns g unchanged.
func RemoveByID(g Genome, id string) Genome {
	out, changed := removeFrom(g, id)
	if !changed {
		return g
	}
	return out
}

func removeFrom(nodes []Node, id string) ([]Node, bool) {
	for i, n := range nodes {
		if n.ID == id {
			out := make([]Node, 0, len(nodes)-1)
			out = append(out, nodes[:i]...)
			return append(out, nodes[i+1:]...), true
		}
		if children, ok := removeFrom(n.Children, id); ok {
			out := make([]Node, len(nodes))
			copy(out, nodes)
			n.Children = children
			out[i] = n
			return out, true
		}
	}
	return nodes, false
}

// InsertNode places node relative to the tree.
//
// With Inside the node is appended to the children of the container, which is
// anchorID when given and parentID otherwise; RootParent with no anchor means
// the top level. With Before/After the node is placed next to anchorID among
// the children of parentID. A container, parent or anchor that cannot be found
// falls back to appending at the end of the top level (or of the parent's
// children when only the anchor is missing). Inserting an id already present
// is a no-op so ids stay unique.
func InsertNode(g Genome, parentID string, node Node, pos Position, anchorID string) Genome {
	if _, exists := FindByID(g, node.ID); exists {
		return g
	}
	if pos == "" {
		pos = Inside
	}

	if pos == Inside {
		container := anchorID
		if container == "" {
			container = parentID
		}
		if container == RootParent {
			return appendTop(g, node)
		}
		if out, ok := updateNode(g, container, func(n Node) Node {
			children := make([]Node, 0, len(n.Children)+1)
			children = append(children, n.Children...)
			n.Children = append(children, node)
			return n
		}); ok {
			return out
		}
		return appendTop(g, node)
	}

	if parentID == RootParent {
		return Genome(insertSibling(g, node, pos, anchorID))
	}
	if out, ok := updateNode(g, parentID, func(n Node) Node {
		n.Children = insertSibling(n.Children, node, pos, anchorID)
		return n
	}); ok {
		return out
	}
	return appendTop(g, node)
}

func appendTop(g Genome, node Node) Genome {
	out := make(Genome, 0, len(g)+1)
	out = append(out, g...)
	return append(out, node)
}

func insertSibling(siblings []Node, node Node, pos Position, anchorID string) []Node {
	idx := -1
	if anchorID != "" {
		for i, s := range siblings {
			if s.ID == anchorID {
				idx = i
				break
			}
		}
	}
	out := make([]Node, 0, len(siblings)+1)
	if idx == -1 {
		out = append(out, siblings...)
		return append(out, node)
	}
	at := idx + 1
	if pos == Before {
		at = idx
	}
	out = append(out, siblings[:at]...)
	out = append(out, node)
	return append(out, siblings[at:]...)
}

// updateNode path-copies the tree down to id and replaces that node with fn(node).
func updateNode(nodes []Node, id string, fn func(Node) Node) ([]Node, bool) {
	for i, n := range nodes {
		var replaced Node
		switch {
		case n.ID == id:
			replaced = fn(n)
		default:
			children, ok := updateNode(n.Children, id, fn)
			if !ok {
				continue
			}
			n.Children = children
			replaced = n
		}
		out := make([]Node, len(nodes))
		copy(out, nodes)
		out[i] = replaced
		return out, true
	}
	return nodes, false
}

// Clone deep-copies the tree structure. Prop values are immutable and shared.
func Clone(g Genome) Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	for i, n := range g {
		out[i] = cloneNode(n)
	}
	return out
}

func cloneNode(n Node) Node {
	cp := n
	cp.Props = n.Props.Clone()
	cp.Children = make([]Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = cloneNode(c)
	}
	return cp
}

// Factory creates blank nodes with injectable clock and id source.
type Factory struct {
	Now   func() time.Time
	NewID func() string
}

// NewFactory returns a Factory stamping UTC times and random UUIDs.
func NewFactory() Factory {
	return Factory{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.NewString() },
	}
}

// CreateBlankNode returns a node with empty props and children, a fresh id,
// both timestamps set to now and confidence 0. An empty type becomes custom.
func (f Factory) CreateBlankNode(typ string) Node {
	if typ == "" {
		typ = TypeCustom
	}
	now := f.Now().Format(time.RFC3339Nano)
	return Node{
		ID:       f.NewID(),
		Type:     typ,
		Props:    Props{},
		Children: []Node{},
		Metadata: Metadata{CreatedAt: now, MutatedAt: now, Confidence: 0},
	}
}

// CreateBlankNode is NewFactory().CreateBlankNode.
func CreateBlankNode(typ string) Node { return NewFactory().CreateBlankNode(typ) }

// TypeCounts tallies node types across the whole forest.
func TypeCounts(g Genome) map[string]int {
	counts := make(map[string]int)
	for _, n := range Flatten(g) {
		counts[n.Type]++
	}
	return counts
}
