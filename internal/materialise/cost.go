package materialise

import (
	"math"

	"genomeforge/pkg/genome"
)

const (
	// BaseChipCost is charged for every materialisation.
	BaseChipCost = 10
	// ChipsPerBlock is charged per genome node, rounded up over the whole tree.
	ChipsPerBlock = 0.5
	// ChipsPerCustomLogic is charged per custom logic function.
	ChipsPerCustomLogic = 2
)

// EstimateChipCost prices a materialisation of g.
func EstimateChipCost(g genome.Genome, customLogicFunctions int) int64 {
	if customLogicFunctions < 0 {
		customLogicFunctions = 0
	}
	blocks := math.Ceil(ChipsPerBlock * float64(genome.CountBlocks(g)))
	return BaseChipCost + int64(blocks) + int64(ChipsPerCustomLogic*customLogicFunctions)
}
