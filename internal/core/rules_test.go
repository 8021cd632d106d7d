package core

import (
	"context"
	"errors"
	"testing"

	"genomeforge/internal/infra/persistence/memory"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

func seedJob(t *testing.T, s *memory.Store) domain.Job {
	t.Helper()
	var job domain.Job
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{OwnerID: "u1", Name: "site"})
		if err != nil {
			return err
		}
		job, err = tx.CreateJob(domain.Job{ProjectID: p.ID, UserID: "u1", Status: domain.JobPending})
		return err
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func setJob(s *memory.Store, id string, fn func(*domain.Job)) error {
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateJob(id, func(j *domain.Job) error { fn(j); return nil })
		return err
	})
	return err
}

func TestJobStatusRule(t *testing.T) {
	s := memory.NewStore(NewDefaultRulesEngine())
	job := seedJob(t, s)

	var violation domain.RuleViolationError
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobPassed }); !errors.As(err, &violation) {
		t.Fatalf("expected PENDING->PASSED blocked, got %v", err)
	}
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobRunning; j.Progress = 40 }); err != nil {
		t.Fatalf("PENDING->RUNNING: %v", err)
	}
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Progress = 10 }); !errors.As(err, &violation) {
		t.Fatalf("expected progress regression blocked, got %v", err)
	}
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobPassed; j.Progress = 100 }); err != nil {
		t.Fatalf("RUNNING->PASSED: %v", err)
	}
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobPending }); !errors.As(err, &violation) {
		t.Fatalf("expected PASSED to be terminal, got %v", err)
	}

	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateJob(domain.Job{ProjectID: job.ProjectID, UserID: "u1", Status: domain.JobRunning})
		return err
	})
	if !errors.As(err, &violation) || violation.Result.Violations[0].Rule != RuleJobStatus {
		t.Fatalf("expected job creation outside PENDING blocked, got %v", err)
	}
}

func TestLedgerTransitionRule(t *testing.T) {
	s := memory.NewStore(NewDefaultRulesEngine())
	var entry domain.LedgerEntry
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		entry, err = tx.CreateLedgerEntry(domain.LedgerEntry{UserID: "u1", ProjectID: "p1", TransactionType: domain.TxMaterialisation, Amount: 10, Status: domain.LedgerPending})
		return err
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	update := func(fn func(*domain.LedgerEntry)) error {
		_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.UpdateLedgerEntry(entry.ID, func(e *domain.LedgerEntry) error { fn(e); return nil })
			return err
		})
		return err
	}
	var violation domain.RuleViolationError
	if err := update(func(e *domain.LedgerEntry) { e.Amount = 20 }); !errors.As(err, &violation) {
		t.Fatalf("expected amount change blocked, got %v", err)
	}
	if err := update(func(e *domain.LedgerEntry) { e.Status = domain.LedgerCommitted }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := update(func(e *domain.LedgerEntry) { e.Status = domain.LedgerFailed }); !errors.As(err, &violation) {
		t.Fatalf("expected committed entry immutable, got %v", err)
	}
}

func TestQuarantineFreezeRule(t *testing.T) {
	s := memory.NewStore(NewDefaultRulesEngine())
	var project domain.Project
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		project, err = tx.CreateProject(domain.Project{OwnerID: "u1", Name: "site", Status: domain.ProjectQuarantined, Genome: genome.Genome{{ID: "a", Type: "hero"}}})
		return err
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	var violation domain.RuleViolationError
	_, err = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateProject(project.ID, func(p *domain.Project) error {
			p.Genome = genome.Genome{{ID: "a", Type: "text"}}
			return nil
		})
		return err
	})
	if !errors.As(err, &violation) {
		t.Fatalf("expected frozen genome, got %v", err)
	}
	_, err = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateProject(project.ID, func(p *domain.Project) error {
			p.QuarantineReason = "appeal filed"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("expected metadata edits allowed, got %v", err)
	}
	_, err = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateJob(domain.Job{ProjectID: project.ID, UserID: "u1", Status: domain.JobPending})
		return err
	})
	if !errors.As(err, &violation) {
		t.Fatalf("expected job creation blocked, got %v", err)
	}
}

func TestBalanceOverdraftRuleOnlyWarns(t *testing.T) {
	s := memory.NewStore(NewDefaultRulesEngine())
	res, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.IncrementBalance("u1", -5)
		return err
	})
	if err != nil {
		t.Fatalf("expected debit to succeed, got %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn || res.Violations[0].Rule != RuleBalanceOverdraft {
		t.Fatalf("expected one overdraft warning, got %+v", res.Violations)
	}
	if s.Balance("u1") != -5 {
		t.Fatalf("expected balance -5, got %d", s.Balance("u1"))
	}
}

func TestQuarantineFreezeRuleBlocksRequeue(t *testing.T) {
	s := memory.NewStore(NewDefaultRulesEngine())
	job := seedJob(t, s)
	if err := setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobFailed }); err != nil {
		t.Fatalf("PENDING->FAILED: %v", err)
	}
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateProject(job.ProjectID, func(p *domain.Project) error {
			p.Status = domain.ProjectQuarantined
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	err = setJob(s, job.ID, func(j *domain.Job) { j.Status = domain.JobPending })
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || violation.Result.Violations[0].Rule != RuleQuarantineFreeze {
		t.Fatalf("expected quarantine to block requeue, got %v", err)
	}
	if got, _ := s.GetJob(job.ID); got.Status != domain.JobFailed {
		t.Fatalf("expected job to stay FAILED, got %s", got.Status)
	}
}
