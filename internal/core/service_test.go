package core

import (
	"context"
	"errors"
	"testing"

	"genomeforge/internal/ephemeral"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

func TestCreateProjectStartsTimeline(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createProject(t, "u1")
	if p.Version != 1 || p.Status != domain.ProjectInProgress || p.Tier != genome.TierPresence {
		t.Fatalf("unexpected project %+v", p)
	}
	versions, err := env.svc.ListVersions(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Kind != domain.VersionCreate || len(versions[0].ChangedBlockIDs) != 4 {
		t.Fatalf("expected CREATE v1 touching 4 blocks, got %+v", versions)
	}
	if _, err := env.svc.ListVersions(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateProjectValidates(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.CreateProject(context.Background(), CreateProjectRequest{OwnerID: "u1"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for missing name, got %v", err)
	}
	dup := genome.Genome{{ID: "a", Type: "hero"}, {ID: "a", Type: "text"}}
	_, err = env.svc.CreateProject(context.Background(), CreateProjectRequest{OwnerID: "u1", Name: "x", Genome: dup})
	if !errors.Is(err, genome.ErrInvalidGenome) {
		t.Fatalf("expected invalid genome, got %v", err)
	}
}

func TestMutateGenomeAppendsVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p := env.createProject(t, "u1")

	if g, err := env.svc.GetGenome(ctx, p.ID); err != nil || len(g) != 3 {
		t.Fatalf("expected cached genome read, got %d nodes err=%v", len(g), err)
	}
	entry, err := env.svc.MutateGenome(ctx, MutateRequest{
		ProjectID: p.ID,
		UserID:    "u1",
		Mutations: []genome.Mutation{{NodeID: "cta", NewProps: genome.MustProps(map[string]any{"label": "Buy"})}},
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if entry.Version != 2 || entry.Kind != domain.VersionMutation || entry.Author != domain.AuthorUser {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(entry.ChangedBlockIDs) != 1 || entry.ChangedBlockIDs[0] != "cta" {
		t.Fatalf("expected cta changed, got %v", entry.ChangedBlockIDs)
	}
	if prev, _ := entry.Mutations[0].PreviousProps["label"].AsString(); prev != "Go" {
		t.Fatalf("expected previous props captured, got %q", prev)
	}
	g, err := env.svc.GetGenome(ctx, p.ID)
	if err != nil {
		t.Fatalf("get genome: %v", err)
	}
	node, _ := genome.FindByID(g, "cta")
	if label, _ := node.Props["label"].AsString(); label != "Buy" {
		t.Fatalf("expected cache invalidated after mutation, got %q", label)
	}

	_, err = env.svc.MutateGenome(ctx, MutateRequest{ProjectID: p.ID, UserID: "u1", Mutations: []genome.Mutation{{NodeID: "ghost"}}})
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected no changes for unknown node, got %v", err)
	}
	_, err = env.svc.MutateGenome(ctx, MutateRequest{ProjectID: p.ID, UserID: "intruder", Mutations: []genome.Mutation{{NodeID: "cta"}}})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
}

func TestProposeMutationIsRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.svc = NewService(env.store, WithLimiter(ephemeral.NewFixedWindowLimiter(kvFor(t)), Limits{OracleRate: 2}))
	p := env.createProject(t, "u1")
	ctx := context.Background()
	for i, label := range []string{"a", "b", "c"} {
		entry, err := env.svc.ProposeMutation(ctx, "s1", MutateRequest{
			ProjectID: p.ID,
			UserID:    "u1",
			Mutations: []genome.Mutation{{NodeID: "hero", NewProps: genome.MustProps(map[string]any{"title": label})}},
		})
		if i < 2 {
			if err != nil || entry.Author != domain.AuthorOracle {
				t.Fatalf("call %d: expected ORACLE version, got %+v err=%v", i, entry, err)
			}
			continue
		}
		if !errors.Is(err, ephemeral.ErrRateLimited) {
			t.Fatalf("expected third call rate limited, got %v", err)
		}
	}
}

func TestRollbackRestoreAndBranch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p := env.createProject(t, "u1")
	if _, err := env.svc.MutateGenome(ctx, MutateRequest{
		ProjectID: p.ID, UserID: "u1",
		Mutations: []genome.Mutation{{NodeID: "hero", NewProps: genome.MustProps(map[string]any{"title": "Changed"})}},
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	restored, entry, err := env.svc.Rollback(ctx, RollbackRequest{ProjectID: p.ID, UserID: "u1", TargetVersion: 1, Mode: RollbackRestore})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID != p.ID || restored.Version != 3 || entry.Kind != domain.VersionRollback {
		t.Fatalf("expected v3 rollback on same project, got %+v / %+v", restored, entry)
	}
	hero, _ := genome.FindByID(restored.Genome, "hero")
	if title, _ := hero.Props["title"].AsString(); title != "Hello" {
		t.Fatalf("expected original title restored, got %q", title)
	}

	branch, entry, err := env.svc.Rollback(ctx, RollbackRequest{ProjectID: p.ID, UserID: "u1", TargetVersion: 2, Mode: RollbackBranch})
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if branch.ID == p.ID || branch.ParentProjectID != p.ID || branch.Version != 1 || entry.ProjectID != branch.ID {
		t.Fatalf("expected new branched project, got %+v", branch)
	}
	if _, _, err := env.svc.Rollback(ctx, RollbackRequest{ProjectID: p.ID, UserID: "u1", TargetVersion: 9, Mode: RollbackRestore}); !domain.IsNotFound(err) {
		t.Fatalf("expected missing version, got %v", err)
	}
	if _, _, err := env.svc.Rollback(ctx, RollbackRequest{ProjectID: p.ID, UserID: "u1", TargetVersion: 1, Mode: "SIDEWAYS"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestExportGenomeAppliesBadgeAndDirection(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.createProject(t, "u1")
	out, err := env.svc.ExportGenome(context.Background(), p.ID, "rtl")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	last := out[len(out)-1]
	if last.ID != genome.BadgeNodeID {
		t.Fatalf("expected badge appended for PRESENCE tier, got %s", last.ID)
	}
	if dir, _ := out[0].Props["dir"].AsString(); dir != "rtl" {
		t.Fatalf("expected rtl dir prop, got %q", dir)
	}
}
