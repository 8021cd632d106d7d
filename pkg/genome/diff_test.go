package genome_test

import (
	"testing"

	"genomeforge/pkg/genome"
)

func TestDiffIdentical(t *testing.T) {
	tree := sampleTree()
	if d := genome.Diff(tree, tree); len(d) != 0 {
		t.Fatalf("expected no diff, got %v", d)
	}
	if d := genome.Diff(nil, genome.Genome{}); len(d) != 0 {
		t.Fatalf("expected no diff for empty trees, got %v", d)
	}
}

func TestDiffAddedAndRemoved(t *testing.T) {
	oldTree := genome.Genome{node("x", "a")}
	newTree := genome.Genome{node("y", "b")}
	d := genome.Diff(oldTree, newTree)
	if len(d) != 2 {
		t.Fatalf("expected 2 entries, got %v", d)
	}
	if d[0] != (genome.DiffEntry{NodeID: "y", Kind: genome.DiffAdded}) {
		t.Fatalf("expected added y first, got %+v", d[0])
	}
	if d[1] != (genome.DiffEntry{NodeID: "x", Kind: genome.DiffRemoved}) {
		t.Fatalf("expected removed x, got %+v", d[1])
	}
}

func TestDiffUpdatedCriteria(t *testing.T) {
	base := genome.Genome{node("n", genome.TypeText)}
	base[0].Props = genome.Props{"text": genome.String("hi")}
	base[0].Metadata.MutatedAt = "t0"

	cases := map[string]func(n *genome.Node){
		"type":      func(n *genome.Node) { n.Type = genome.TypeButton },
		"mutatedAt": func(n *genome.Node) { n.Metadata.MutatedAt = "t1" },
		"prop value": func(n *genome.Node) {
			n.Props = genome.Props{"text": genome.String("bye")}
		},
		"prop keys": func(n *genome.Node) {
			n.Props = genome.Props{"text": genome.String("hi"), "extra": genome.Null()}
		},
		"child count": func(n *genome.Node) { n.Children = []genome.Node{node("c", genome.TypeText)} },
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			updated := genome.Clone(base)
			change(&updated[0])
			d := genome.Diff(base, updated)
			found := false
			for _, e := range d {
				if e.NodeID == "n" {
					if e.Kind != genome.DiffUpdated {
						t.Fatalf("expected updated, got %s", e.Kind)
					}
					found = true
				}
			}
			if !found {
				t.Fatalf("expected n to be reported as updated, got %v", d)
			}
		})
	}
}

func TestDiffIgnoresConfidenceAndDeepPropEquality(t *testing.T) {
	a := genome.Genome{node("n", genome.TypeCard)}
	a[0].Props = genome.Props{"items": genome.List(genome.String("a"), genome.Number(2))}
	b := genome.Clone(a)
	b[0].Props = genome.Props{"items": genome.List(genome.String("a"), genome.Number(2))}
	b[0].Metadata.Confidence = 0.9
	if d := genome.Diff(a, b); len(d) != 0 {
		t.Fatalf("expected structurally equal props to produce no diff, got %v", d)
	}
}

func TestDiffOrdersRemovedLast(t *testing.T) {
	oldTree := sampleTree()
	newTree := genome.RemoveByID(oldTree, "title")
	newTree = genome.InsertNode(newTree, genome.RootParent, node("nav", genome.TypeNav), genome.Inside, "")
	d := genome.Diff(oldTree, newTree)
	seenRemoved := false
	for _, e := range d {
		if e.Kind == genome.DiffRemoved {
			seenRemoved = true
			continue
		}
		if seenRemoved {
			t.Fatalf("expected removed entries last, got %v", d)
		}
	}
	changed := genome.ChangedIDs(d)
	if len(changed) != 3 {
		t.Fatalf("expected hero updated, nav added, title removed; got %v", d)
	}
}
