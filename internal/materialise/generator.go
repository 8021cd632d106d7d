// Package materialise drives materialisation jobs: it walks a genome, asks a
// code generator for one artifact per node, mirrors progress for pollers and
// settles the job's chip reservation.
package materialise

import (
	"context"

	"genomeforge/pkg/genome"
)

// Generator turns one genome node into source code.
type Generator interface {
	Generate(ctx context.Context, blockType string, props genome.Props, zone string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, blockType string, props genome.Props, zone string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, blockType string, props genome.Props, zone string) (string, error) {
	return f(ctx, blockType, props, zone)
}

// Artifact is one generated block awaiting persistence.
type Artifact struct {
	Seq    int
	NodeID string
	Type   string
	Zone   Zone
	Code   string
}
