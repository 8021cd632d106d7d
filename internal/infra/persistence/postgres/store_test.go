package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"genomeforge/internal/infra/persistence/memory"
	"genomeforge/internal/infra/persistence/postgres/testutil"
	"genomeforge/pkg/domain"
)

func TestNewStoreCreatesTableAndPersistsBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if len(conn.DDL) != 1 || !strings.Contains(strings.ToUpper(conn.DDL[0]), "CREATE TABLE IF NOT EXISTS STATE") {
		t.Fatalf("expected state table DDL, got %v", conn.DDL)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{Base: domain.Base{ID: "p1"}, OwnerID: "u1"})
		if err != nil {
			return err
		}
		_, err = tx.CreateLedgerEntry(domain.LedgerEntry{UserID: "u1", ProjectID: p.ID, TransactionType: domain.TxMaterialisation, Amount: 10, Status: domain.LedgerPending})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if names := conn.BucketNames(); len(names) != len(memory.BucketNames) {
		t.Fatalf("expected one row per bucket, got %v", names)
	}
	var projects map[string]domain.Project
	if err := conn.DecodeBucket("projects", &projects); err != nil {
		t.Fatalf("decode projects: %v", err)
	}
	if projects["p1"].OwnerID != "u1" {
		t.Fatalf("expected project p1 keyed by id in payload, got %+v", projects)
	}

	reloaded, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.GetProject("p1"); !ok {
		t.Fatalf("expected project hydrated from snapshot")
	}
	if got := reloaded.ListLedgerEntries(domain.LedgerFilter{Status: domain.LedgerPending}); len(got) != 1 {
		t.Fatalf("expected pending entry hydrated, got %d", len(got))
	}
}

func TestPersistFailureAbortsTransaction(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("postgres://stub", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.IncrementBalance("u1", 1)
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if store.Balance("u1") != 0 {
		t.Fatalf("expected in-memory balance untouched, got %d", store.Balance("u1"))
	}

	conn.FailCommit = false
	conn.FailBuckets = map[string]bool{"balances": true}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.IncrementBalance("u1", 1)
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "upsert balances") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	if store.Balance("u1") != 0 || len(conn.BucketNames()) != 0 {
		t.Fatalf("expected nothing committed, got balance %d buckets %v", store.Balance("u1"), conn.BucketNames())
	}
}

func TestPersistIgnoresCancelledContext(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.IncrementBalance("u1", 3)
		return err
	}); err != nil {
		t.Fatalf("expected commit despite cancelled context, got %v", err)
	}
	var balances map[string]int64
	if err := conn.DecodeBucket("balances", &balances); err != nil || balances["u1"] != 3 {
		t.Fatalf("expected persisted balance 3, got %v (%v)", balances, err)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected ping failure")
	}
	restoreErr := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	defer restoreErr()
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open failure, got %v", err)
	}
}
