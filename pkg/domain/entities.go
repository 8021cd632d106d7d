// Package domain defines the persistent entities, value types, and rule
// evaluation primitives shared by genomeforge components.
package domain

import (
	"time"

	"genomeforge/pkg/genome"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityJob identifies a materialisation job record.
	EntityJob EntityType = "materialisation_job"
	// EntityLedgerEntry identifies a chip ledger entry.
	EntityLedgerEntry EntityType = "ledger_entry"
	// EntityBlock identifies a persisted materialised block.
	EntityBlock EntityType = "block"
	// EntityVersion identifies a genome timeline entry.
	EntityVersion EntityType = "genome_version"
	// EntityBalance identifies a user's chip balance counter.
	EntityBalance EntityType = "chip_balance"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock prevents the transaction from committing.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectInProgress  ProjectStatus = "IN_PROGRESS"
	ProjectDeployed    ProjectStatus = "DEPLOYED"
	ProjectArchived    ProjectStatus = "ARCHIVED"
	ProjectQuarantined ProjectStatus = "QUARANTINED"
	ProjectDeleted     ProjectStatus = "DELETED"
)

// Project owns one genome and its version counter.
type Project struct {
	Base
	OwnerID string        `json:"owner_id"`
	Name    string        `json:"name"`
	Status  ProjectStatus `json:"status"`
	Tier    genome.Tier   `json:"tier"`
	Genome  genome.Genome `json:"genome"`
	// Version is the timeline version the current genome corresponds to.
	Version              int    `json:"version"`
	CustomLogicFunctions int    `json:"custom_logic_functions"`
	ParentProjectID      string `json:"parent_project_id,omitempty"`
	QuarantineReason     string `json:"quarantine_reason,omitempty"`
}

// JobStatus enumerates MaterialisationJob states.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobPassed  JobStatus = "PASSED"
	JobFailed  JobStatus = "FAILED"
)

// Terminal reports whether no further transition happens without a retry.
func (s JobStatus) Terminal() bool { return s == JobPassed || s == JobFailed }

// Job is the durable record of one materialisation request. A retry reuses
// the id and walks the same state machine again.
type Job struct {
	Base
	ProjectID     string     `json:"project_id"`
	UserID        string     `json:"user_id"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	LedgerEntryID string     `json:"ledger_entry_id,omitempty"`
	Attempts      int        `json:"attempts"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// TransactionType names the billable action a ledger entry pays for.
type TransactionType string

const (
	TxMaterialisation TransactionType = "MATERIALISATION"
	TxVaultPurchase   TransactionType = "VAULT_PURCHASE"
	TxRegeneration    TransactionType = "REGENERATION"
	TxTopUp           TransactionType = "TOP_UP"
)

// LedgerStatus enumerates ledger entry states.
type LedgerStatus string

const (
	LedgerPending    LedgerStatus = "PENDING"
	LedgerCommitted  LedgerStatus = "COMMITTED"
	LedgerFailed     LedgerStatus = "FAILED"
	LedgerRolledBack LedgerStatus = "ROLLEDBACK"
)

// Terminal reports whether the entry has been finalised.
func (s LedgerStatus) Terminal() bool { return s != LedgerPending }

// LedgerPhase records which half of the two-phase protocol last touched an entry.
type LedgerPhase string

const (
	PhaseReserve  LedgerPhase = "PHASE_1"
	PhaseCommit   LedgerPhase = "PHASE_2"
	PhaseRollback LedgerPhase = "ROLLBACK"
)

// LedgerEntry is a chip reservation and its resolution.
type LedgerEntry struct {
	Base
	UserID          string          `json:"user_id"`
	ProjectID       string          `json:"project_id"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          int64           `json:"amount"`
	Status          LedgerStatus    `json:"status"`
	Phase           LedgerPhase     `json:"phase"`
	JobID           string          `json:"job_id,omitempty"`
	Note            string          `json:"note,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// LedgerFilter narrows ListLedgerEntries. Zero fields match everything.
type LedgerFilter struct {
	UserID          string
	ProjectID       string
	TransactionType TransactionType
	Status          LedgerStatus
	CreatedBefore   time.Time
}

// Matches reports whether the entry satisfies every non-zero field.
func (f LedgerFilter) Matches(e LedgerEntry) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.ProjectID != "" && e.ProjectID != f.ProjectID:
		return false
	case f.TransactionType != "" && e.TransactionType != f.TransactionType:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore):
		return false
	}
	return true
}

// Block is one materialised artifact row. The generated code lives in the
// blob store under BlobKey.
type Block struct {
	Base
	ProjectID string `json:"project_id"`
	JobID     string `json:"job_id"`
	NodeID    string `json:"node_id"`
	Seq       int    `json:"seq"`
	Type      string `json:"type"`
	Zone      string `json:"zone"`
	BlobKey   string `json:"blob_key"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
}

// Author identifies who produced a genome version.
type Author string

const (
	AuthorUser   Author = "USER"
	AuthorOracle Author = "ORACLE"
	AuthorAgent  Author = "AGENT"
)

// VersionKind classifies timeline entries.
type VersionKind string

const (
	VersionCreate          VersionKind = "CREATE"
	VersionMutation        VersionKind = "MUTATION"
	VersionRollback        VersionKind = "ROLLBACK"
	VersionRebirth         VersionKind = "REBIRTH"
	VersionDisputeSnapshot VersionKind = "DISPUTE_SNAPSHOT"
)

// VersionEntry is one append-only timeline record holding a full genome snapshot.
type VersionEntry struct {
	Base
	ProjectID       string            `json:"project_id"`
	Version         int               `json:"version"`
	Kind            VersionKind       `json:"kind"`
	Author          Author            `json:"author"`
	Description     string            `json:"description"`
	Snapshot        genome.Genome     `json:"snapshot"`
	Mutations       []genome.Mutation `json:"mutations,omitempty"`
	ChangedBlockIDs []string          `json:"changed_block_ids"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// BalanceChange is the Change payload recorded by IncrementBalance.
type BalanceChange struct {
	UserID  string
	Delta   int64
	Balance int64
}
