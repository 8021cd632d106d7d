package genome_test

import (
	"testing"
	"time"

	"genomeforge/pkg/genome"
)

func TestSwapSDFAssetsForExport(t *testing.T) {
	sdf := node("orb", "sdf")
	sdf.Props = genome.Props{
		"sdf_constants":     genome.Map(genome.Props{"r": genome.Number(1)}),
		"wgsl_shader":       genome.String("fn main() {}"),
		"gltf_fallback_url": genome.String("https://cdn/orb.glb"),
		"label":             genome.String("Orb"),
	}
	tree := genome.Genome{node("hero", genome.TypeHero, sdf)}

	out := genome.SwapSDFAssetsForExport(tree)
	orb, _ := genome.FindByID(out, "orb")
	if _, ok := orb.Props["wgsl_shader"]; ok {
		t.Fatalf("expected shader prop to be stripped")
	}
	if s, _ := orb.Props["gltf_url"].AsString(); s != "https://cdn/orb.glb" {
		t.Fatalf("expected gltf url, got %q", s)
	}
	if s, _ := orb.Props["label"].AsString(); s != "Orb" {
		t.Fatalf("expected unrelated props to survive")
	}
	orig, _ := genome.FindByID(tree, "orb")
	if _, ok := orig.Props["wgsl_shader"]; !ok {
		t.Fatalf("expected input tree to be untouched")
	}
}

func TestInjectBuiltWithBadge(t *testing.T) {
	f := genome.Factory{Now: time.Now, NewID: func() string { return "generated" }}
	tree := genome.Genome{node("hero", genome.TypeHero)}

	withBadge := genome.InjectBuiltWithBadge(tree, genome.TierPresence, f)
	if len(withBadge) != 2 || withBadge[1].ID != genome.BadgeNodeID {
		t.Fatalf("expected badge appended, got %v", ids(withBadge))
	}
	again := genome.InjectBuiltWithBadge(withBadge, genome.TierPresence, f)
	if len(again) != 2 {
		t.Fatalf("expected badge to be injected once, got %v", ids(again))
	}
	stripped := genome.InjectBuiltWithBadge(withBadge, genome.TierBusiness, f)
	if len(stripped) != 1 || stripped[0].ID != "hero" {
		t.Fatalf("expected badge stripped for paid tier, got %v", ids(stripped))
	}
}

func TestApplyDirection(t *testing.T) {
	tree := sampleTree()
	if out := genome.ApplyDirection(tree, "ltr"); &out[0] != &tree[0] {
		t.Fatalf("expected ltr to return the input")
	}
	out := genome.ApplyDirection(tree, "rtl")
	for _, n := range genome.Flatten(out) {
		if s, _ := n.Props["dir"].AsString(); s != "rtl" {
			t.Fatalf("expected dir=rtl on %s", n.ID)
		}
	}
}
