package materialise

import (
	"testing"

	"genomeforge/pkg/genome"
)

func TestClassifyZone(t *testing.T) {
	cases := map[string]Zone{
		"forge":     ZoneForge,
		"Foundry":   ZoneFoundry,
		" ENGINE ":  ZoneEngine,
		"bazaar":    ZoneBazaar,
		"logic":     ZoneLogic,
		"universal": ZoneUniversal,
		"default":   ZoneForge,
		"":          ZoneForge,
		"moon":      ZoneForge,
	}
	for raw, want := range cases {
		if got := ClassifyZone(raw); got != want {
			t.Fatalf("ClassifyZone(%q): expected %s, got %s", raw, want, got)
		}
	}
}

func TestEstimateChipCost(t *testing.T) {
	g := genome.Genome{{ID: "a", Type: "hero", Children: []genome.Node{{ID: "b", Type: "text"}}}, {ID: "c", Type: "footer"}}
	if got := EstimateChipCost(g, 0); got != 12 {
		t.Fatalf("expected 10 + ceil(1.5) = 12, got %d", got)
	}
	if got := EstimateChipCost(g, 3); got != 18 {
		t.Fatalf("expected 12 + 6 = 18, got %d", got)
	}
	if got := EstimateChipCost(nil, -1); got != 10 {
		t.Fatalf("expected base cost 10, got %d", got)
	}
}

func TestArtifactKeySanitisesType(t *testing.T) {
	got := ArtifactKey("p1", "j1", 2, 7, "Hero Banner/v2")
	want := "artifacts/p1/j1/a2/0007-hero_banner_v2.tsx"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
