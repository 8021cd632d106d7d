package genome

// Diff classifies node-level changes between two genomes by id. Added and
// updated entries come first (in the new tree's pre-order), followed by
// removed entries (in the old tree's pre-order). Callers must not depend on
// any finer ordering.
//
// A node present in both trees is updated when its type, mutatedAt stamp,
// props or number of children differ.
func Diff(oldTree, newTree Genome) []DiffEntry {
	oldNodes := Flatten(oldTree)
	newNodes := Flatten(newTree)
	oldIndex := indexByID(oldNodes)
	newIndex := indexByID(newNodes)

	var diffs []DiffEntry
	for _, n := range newNodes {
		prev, ok := oldIndex[n.ID]
		switch {
		case !ok:
			diffs = append(diffs, DiffEntry{NodeID: n.ID, Kind: DiffAdded})
		case !nodeUnchanged(prev, n):
			diffs = append(diffs, DiffEntry{NodeID: n.ID, Kind: DiffUpdated})
		}
	}
	for _, n := range oldNodes {
		if _, ok := newIndex[n.ID]; !ok {
			diffs = append(diffs, DiffEntry{NodeID: n.ID, Kind: DiffRemoved})
		}
	}
	return diffs
}

// ChangedIDs lists the node ids touched by a diff, in diff order.
func ChangedIDs(diffs []DiffEntry) []string {
	ids := make([]string, 0, len(diffs))
	for _, d := range diffs {
		ids = append(ids, d.NodeID)
	}
	return ids
}

func indexByID(nodes []Node) map[string]Node {
	idx := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := idx[n.ID]; !dup {
			idx[n.ID] = n
		}
	}
	return idx
}

func nodeUnchanged(a, b Node) bool {
	return a.Type == b.Type &&
		a.Metadata.MutatedAt == b.Metadata.MutatedAt &&
		a.Props.Equal(b.Props) &&
		len(a.Children) == len(b.Children)
}
