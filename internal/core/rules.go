package core

import (
	"context"
	"fmt"

	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// Built-in rule names.
const (
	RuleJobStatus        = "job_status_monotonic"
	RuleLedgerTransition = "ledger_transition"
	RuleQuarantineFreeze = "quarantine_freeze"
	RuleBalanceOverdraft = "balance_overdraft"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(JobStatusRule())
	engine.Register(LedgerTransitionRule())
	engine.Register(QuarantineFreezeRule())
	engine.Register(BalanceOverdraftRule())
	return engine
}

// allowedJobTransitions lists status changes a job row may make. FAILED back
// to PENDING is a retry.
var allowedJobTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobPending: {domain.JobRunning, domain.JobFailed},
	domain.JobRunning: {domain.JobPassed, domain.JobFailed},
	domain.JobFailed:  {domain.JobPending},
}

// JobStatusRule blocks job transitions that skip RUNNING or leave PASSED, and
// progress regressions while a job runs.
func JobStatusRule() domain.Rule { return jobStatusRule{} }

type jobStatusRule struct{}

func (jobStatusRule) Name() string { return RuleJobStatus }

func (r jobStatusRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity != domain.EntityJob {
			continue
		}
		after, ok := ch.After.(domain.Job)
		if !ok {
			continue
		}
		if ch.Action == domain.ActionCreate {
			if after.Status != domain.JobPending {
				res.Violations = append(res.Violations, r.violation(after.ID, fmt.Sprintf("job must start PENDING, got %s", after.Status)))
			}
			continue
		}
		before, ok := ch.Before.(domain.Job)
		if !ok {
			continue
		}
		if before.Status == after.Status {
			if after.Status == domain.JobRunning && after.Progress < before.Progress {
				res.Violations = append(res.Violations, r.violation(after.ID, fmt.Sprintf("progress regressed from %d to %d", before.Progress, after.Progress)))
			}
			continue
		}
		if !containsStatus(allowedJobTransitions[before.Status], after.Status) {
			res.Violations = append(res.Violations, r.violation(after.ID, fmt.Sprintf("cannot transition from %s to %s", before.Status, after.Status)))
		}
	}
	return res, nil
}

func (jobStatusRule) violation(id, msg string) domain.Violation {
	return domain.Violation{Rule: RuleJobStatus, Severity: domain.SeverityBlock, Message: msg, Entity: domain.EntityJob, EntityID: id}
}

func containsStatus(list []domain.JobStatus, s domain.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LedgerTransitionRule keeps resolved entries immutable and reservations
// at a fixed amount.
func LedgerTransitionRule() domain.Rule { return ledgerTransitionRule{} }

type ledgerTransitionRule struct{}

func (ledgerTransitionRule) Name() string { return RuleLedgerTransition }

func (ledgerTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity != domain.EntityLedgerEntry || ch.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := ch.Before.(domain.LedgerEntry)
		after, okAfter := ch.After.(domain.LedgerEntry)
		if !okBefore || !okAfter {
			continue
		}
		var msg string
		switch {
		case before.Amount != after.Amount:
			msg = fmt.Sprintf("amount changed from %d to %d", before.Amount, after.Amount)
		case before.Status.Terminal() && before.Status != after.Status:
			msg = fmt.Sprintf("resolved entry cannot move from %s to %s", before.Status, after.Status)
		case after.Status == domain.LedgerPending && before.Status != domain.LedgerPending:
			msg = "entry cannot return to PENDING"
		}
		if msg != "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule: RuleLedgerTransition, Severity: domain.SeverityBlock, Message: msg,
				Entity: domain.EntityLedgerEntry, EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// QuarantineFreezeRule blocks genome edits, new materialisations and job
// retries on quarantined projects.
func QuarantineFreezeRule() domain.Rule { return quarantineFreezeRule{} }

type quarantineFreezeRule struct{}

func (quarantineFreezeRule) Name() string { return RuleQuarantineFreeze }

func (quarantineFreezeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	block := func(entity domain.EntityType, id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule: RuleQuarantineFreeze, Severity: domain.SeverityBlock, Message: msg, Entity: entity, EntityID: id,
		})
	}
	for _, ch := range changes {
		switch ch.Entity {
		case domain.EntityProject:
			before, okBefore := ch.Before.(domain.Project)
			after, okAfter := ch.After.(domain.Project)
			if !okBefore || !okAfter || before.Status != domain.ProjectQuarantined {
				continue
			}
			if after.Status == domain.ProjectQuarantined && !genomesEqual(before, after) {
				block(domain.EntityProject, after.ID, "quarantined project genome is frozen")
			}
		case domain.EntityJob:
			job, ok := ch.After.(domain.Job)
			if !ok || !queuesJob(ch, job) {
				continue
			}
			if p, found := view.FindProject(job.ProjectID); found && p.Status == domain.ProjectQuarantined {
				block(domain.EntityJob, job.ID, "quarantined project cannot be materialised")
			}
		}
	}
	return res, nil
}

// queuesJob reports whether ch creates a job or sends one back to PENDING.
func queuesJob(ch domain.Change, after domain.Job) bool {
	if ch.Action == domain.ActionCreate {
		return true
	}
	before, ok := ch.Before.(domain.Job)
	return ok && before.Status != domain.JobPending && after.Status == domain.JobPending
}

func genomesEqual(a, b domain.Project) bool {
	return len(genome.Diff(a.Genome, b.Genome)) == 0
}

// BalanceOverdraftRule warns when a debit leaves a balance negative. Chips
// are reserved before work starts, so the debit itself is never blocked.
func BalanceOverdraftRule() domain.Rule { return balanceOverdraftRule{} }

type balanceOverdraftRule struct{}

func (balanceOverdraftRule) Name() string { return RuleBalanceOverdraft }

func (balanceOverdraftRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity != domain.EntityBalance {
			continue
		}
		after, ok := ch.After.(domain.BalanceChange)
		if !ok || after.Delta >= 0 || after.Balance >= 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleBalanceOverdraft,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("balance of %s is %d after debit of %d", after.UserID, after.Balance, -after.Delta),
			Entity:   domain.EntityBalance,
			EntityID: after.UserID,
		})
	}
	return res, nil
}
