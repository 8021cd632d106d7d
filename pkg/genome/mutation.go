package genome

// ApplyMutation merges m.NewProps into the target node's props and stamps
// metadata.mutatedAt with m.AppliedAt (left untouched when AppliedAt is
// empty). Only the path from the root to the target is copied; every other
// subtree is shared with the input. An unknown node id returns g unchanged.
// PreviousProps is audit data and is not checked here.
func ApplyMutation(g Genome, m Mutation) Genome {
	out, ok := updateNode(g, m.NodeID, func(n Node) Node {
		n.Props = n.Props.Merge(m.NewProps)
		if m.AppliedAt != "" {
			n.Metadata.MutatedAt = m.AppliedAt
		}
		return n
	})
	if !ok {
		return g
	}
	return out
}

// ApplyMutations folds ApplyMutation over mutations in order, so later
// mutations of the same node win.
func ApplyMutations(g Genome, mutations []Mutation) Genome {
	for _, m := range mutations {
		g = ApplyMutation(g, m)
	}
	return g
}
