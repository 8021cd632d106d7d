// Package similarity scores how much of a parent genome's structure a
// regenerated candidate keeps, and quarantines projects whose rebirths drift too far.
package similarity

import (
	"math"

	"genomeforge/pkg/genome"
)

// Threshold is the minimum passing score.
const Threshold = 70

// DefaultMaxRetries bounds the re-checks Enforce performs after the first.
const DefaultMaxRetries = 2

// Result is one similarity measurement.
type Result struct {
	Score  int  `json:"score"`
	Passed bool `json:"passed"`
	// ParentTypes and RebirthTypes are the pre-order type lists of each side.
	ParentTypes  []string `json:"parent_types"`
	RebirthTypes []string `json:"rebirth_types"`
	// Shared and Union are the distinct-type counts the score was derived from.
	Shared int `json:"shared"`
	Union  int `json:"union"`
}

// ExtractTypes lists node types in pre-order, duplicates included.
func ExtractTypes(g genome.Genome) []string {
	nodes := genome.Flatten(g)
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Type
	}
	return out
}

// Score compares the distinct type sets of parent and candidate as a Jaccard
// index scaled to 0..100. Two empty genomes score 100.
func Score(parent, candidate genome.Genome) Result {
	parentTypes := ExtractTypes(parent)
	rebirthTypes := ExtractTypes(candidate)
	a := typeSet(parentTypes)
	b := typeSet(rebirthTypes)
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	score := 100
	if union > 0 {
		score = int(math.Round(100 * float64(shared) / float64(union)))
	}
	return Result{
		Score:        score,
		Passed:       score >= Threshold,
		ParentTypes:  parentTypes,
		RebirthTypes: rebirthTypes,
		Shared:       shared,
		Union:        union,
	}
}

func typeSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
