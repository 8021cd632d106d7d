package core

import (
	"context"
	"errors"
	"testing"

	"genomeforge/internal/similarity"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

func rebirthCandidate() genome.Genome {
	return genome.Genome{
		{ID: "h2", Type: "hero", Children: []genome.Node{{ID: "b2", Type: "button"}}},
		{ID: "p2", Type: "pricing"},
		{ID: "f2", Type: "faq"},
		{ID: "ft2", Type: "footer"},
	}
}

func TestRebirthAcceptsSimilarCandidate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p := env.createProject(t, "u1")
	if _, _, err := env.svc.TopUp(ctx, "u1", 100, ""); err != nil {
		t.Fatalf("top up: %v", err)
	}

	res, err := env.svc.Rebirth(ctx, RebirthRequest{ProjectID: p.ID, UserID: "u1", Candidate: rebirthCandidate()})
	if err != nil {
		t.Fatalf("rebirth: %v", err)
	}
	if !res.Passed || res.Score != 80 || res.Attempts != 1 {
		t.Fatalf("expected pass at 80 on first attempt, got %+v", res)
	}
	if len(res.Similarity.ParentTypes) == 0 || len(res.Similarity.RebirthTypes) != len(similarity.ExtractTypes(rebirthCandidate())) {
		t.Fatalf("expected type lists of both genomes, got %+v", res.Similarity)
	}
	if res.DisputeSnapshot.Version != 2 || res.Version.Version != 3 || res.Version.Kind != domain.VersionRebirth {
		t.Fatalf("expected dispute v2 and rebirth v3, got %d / %d %s", res.DisputeSnapshot.Version, res.Version.Version, res.Version.Kind)
	}
	if res.LedgerEntry.Status != domain.LedgerCommitted || res.LedgerEntry.TransactionType != domain.TxVaultPurchase {
		t.Fatalf("expected committed vault purchase, got %+v", res.LedgerEntry)
	}
	if balance, _ := env.svc.Balance(ctx, "u1"); balance != 87 {
		t.Fatalf("expected balance 87, got %d", balance)
	}
	g, _ := env.svc.GetGenome(ctx, p.ID)
	if _, ok := genome.FindByID(g, "f2"); !ok {
		t.Fatalf("expected candidate genome to be current")
	}
	versions, _ := env.svc.ListVersions(ctx, p.ID)
	if len(versions) != 3 || len(versions[1].Snapshot) != 3 {
		t.Fatalf("expected dispute snapshot of the original genome, got %+v", versions)
	}
}

func TestRebirthQuarantinesDissimilarCandidate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p := env.createProject(t, "u1")
	if _, _, err := env.svc.TopUp(ctx, "u1", 100, ""); err != nil {
		t.Fatalf("top up: %v", err)
	}

	res, err := env.svc.Rebirth(ctx, RebirthRequest{
		ProjectID:  p.ID,
		UserID:     "u1",
		Candidate:  genome.Genome{{ID: "x", Type: "blog"}},
		MaxRetries: -1,
	})
	if !errors.Is(err, similarity.ErrQuarantined) {
		t.Fatalf("expected quarantine, got %v", err)
	}
	if res.Passed || res.Score != 0 || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, _ := env.svc.GetProject(ctx, p.ID)
	if stored.Status != domain.ProjectQuarantined || stored.QuarantineReason == "" {
		t.Fatalf("expected project quarantined with reason, got %+v", stored)
	}
	if len(stored.Genome) != 3 {
		t.Fatalf("expected genome untouched, got %d nodes", len(stored.Genome))
	}
	if entry, _ := env.store.GetLedgerEntry(res.LedgerEntry.ID); entry.Status != domain.LedgerFailed {
		t.Fatalf("expected reservation rolled back, got %s", entry.Status)
	}
	if balance, _ := env.svc.Balance(ctx, "u1"); balance != 100 {
		t.Fatalf("expected balance untouched, got %d", balance)
	}

	_, err = env.svc.MutateGenome(ctx, MutateRequest{ProjectID: p.ID, UserID: "u1", Mutations: []genome.Mutation{{NodeID: "hero"}}})
	if !errors.Is(err, ErrProjectQuarantined) {
		t.Fatalf("expected frozen genome, got %v", err)
	}
	if _, err := env.svc.Materialise(ctx, p.ID, "u1"); !errors.Is(err, ErrProjectQuarantined) {
		t.Fatalf("expected materialise refused, got %v", err)
	}
	if _, err := env.svc.Rebirth(ctx, RebirthRequest{ProjectID: p.ID, UserID: "u1", Candidate: rebirthCandidate()}); !errors.Is(err, ErrProjectQuarantined) {
		t.Fatalf("expected a second rebirth refused, got %v", err)
	}
	if balance, _ := env.svc.Balance(ctx, "u1"); balance != 100 {
		t.Fatalf("expected balance still 100, got %d", balance)
	}
}

func TestRebirthRegeneratesUntilPassing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p := env.createProject(t, "u1")
	if _, _, err := env.svc.TopUp(ctx, "u1", 100, ""); err != nil {
		t.Fatalf("top up: %v", err)
	}
	var seen []int
	regen := similarity.RegeneratorFunc(func(_ context.Context, _, _ genome.Genome, attempt int, last similarity.Result) (genome.Genome, error) {
		seen = append(seen, last.Score)
		return rebirthCandidate(), nil
	})

	res, err := env.svc.Rebirth(ctx, RebirthRequest{
		ProjectID:   p.ID,
		UserID:      "u1",
		Candidate:   genome.Genome{{ID: "x", Type: "blog"}},
		Regenerator: regen,
	})
	if err != nil {
		t.Fatalf("rebirth: %v", err)
	}
	if !res.Passed || res.Attempts != 2 || len(seen) != 1 || seen[0] != 0 {
		t.Fatalf("expected pass on second attempt after a 0 score, got %+v seen=%v", res, seen)
	}
}

func TestRebirthRejectsInvalidCandidate(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createProject(t, "u1")
	_, err := env.svc.Rebirth(context.Background(), RebirthRequest{
		ProjectID: p.ID,
		UserID:    "u1",
		Candidate: genome.Genome{{ID: "", Type: "hero"}},
	})
	if !errors.Is(err, genome.ErrInvalidGenome) {
		t.Fatalf("expected invalid genome, got %v", err)
	}
	if versions, _ := env.svc.ListVersions(context.Background(), p.ID); len(versions) != 1 {
		t.Fatalf("expected no dispute snapshot for a rejected request, got %d versions", len(versions))
	}
}
