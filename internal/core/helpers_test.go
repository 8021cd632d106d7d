package core

import (
	"context"
	"testing"
	"time"

	"genomeforge/internal/ephemeral"
	blobmem "genomeforge/internal/infra/blob/memory"
	kvmem "genomeforge/internal/infra/kv/memory"
	"genomeforge/internal/infra/persistence/memory"
	"genomeforge/internal/ledger"
	"genomeforge/internal/materialise"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

type testEnv struct {
	svc        *Service
	store      *memory.Store
	dispatcher *materialise.Dispatcher
}

func newTestEnv(t *testing.T, gen materialise.Generator, opts ...ServiceOption) *testEnv {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	kv := kvmem.New()
	l := ledger.New(store, ledger.WithBalanceCache(ephemeral.NewBalanceCache(kv)))
	if gen == nil {
		gen = materialise.GeneratorFunc(func(_ context.Context, blockType string, _ genome.Props, _ string) (string, error) {
			return "export default () => '" + blockType + "';", nil
		})
	}
	board := ephemeral.NewStatusBoard(kv)
	pipeline := materialise.NewPipeline(l, board, materialise.NewArtifactStore(blobmem.New(), nil), gen)
	d := materialise.NewDispatcher(pipeline, 2, nil)
	t.Cleanup(d.Close)
	base := []ServiceOption{
		WithLedger(l),
		WithDispatcher(d),
		WithGenomeCache(ephemeral.NewGenomeCache(kv)),
		WithLimiter(ephemeral.NewFixedWindowLimiter(kv), DefaultLimits()),
	}
	svc := NewService(store, append(base, opts...)...)
	return &testEnv{svc: svc, store: store, dispatcher: d}
}

func sampleGenome() genome.Genome {
	return genome.Genome{
		{ID: "hero", Type: "hero", Props: genome.MustProps(map[string]any{"title": "Hello"}), Children: []genome.Node{
			{ID: "cta", Type: "button", Props: genome.MustProps(map[string]any{"label": "Go"})},
		}},
		{ID: "pricing", Type: "pricing"},
		{ID: "footer", Type: "footer"},
	}
}

func (e *testEnv) createProject(t *testing.T, owner string) domain.Project {
	t.Helper()
	p, err := e.svc.CreateProject(context.Background(), CreateProjectRequest{OwnerID: owner, Name: "site", Genome: sampleGenome()})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (e *testEnv) waitJob(t *testing.T, jobID string) {
	t.Helper()
	select {
	case <-e.dispatcher.Done(jobID):
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", jobID)
	}
}

func kvFor(t *testing.T) *kvmem.Store {
	t.Helper()
	s := kvmem.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}
