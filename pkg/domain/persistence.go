package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateProject(Project) (Project, error)
	UpdateProject(id string, mutator func(*Project) error) (Project, error)
	FindProject(id string) (Project, bool)
	CreateJob(Job) (Job, error)
	UpdateJob(id string, mutator func(*Job) error) (Job, error)
	FindJob(id string) (Job, bool)
	CreateLedgerEntry(LedgerEntry) (LedgerEntry, error)
	UpdateLedgerEntry(id string, mutator func(*LedgerEntry) error) (LedgerEntry, error)
	FindLedgerEntry(id string) (LedgerEntry, bool)
	FindPendingEntry(userID, projectID string, txType TransactionType) (LedgerEntry, bool)
	// InsertBlocks stores every block or none of them.
	InsertBlocks(blocks []Block) ([]Block, error)
	AppendVersion(VersionEntry) (VersionEntry, error)
	// IncrementBalance atomically adds delta to the user's balance and returns
	// the new value.
	IncrementBalance(userID string, delta int64) (int64, error)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListProjects() []Project
	FindProject(id string) (Project, bool)
	ListJobs() []Job
	FindJob(id string) (Job, bool)
	ListLedgerEntries(filter LedgerFilter) []LedgerEntry
	FindLedgerEntry(id string) (LedgerEntry, bool)
	FindPendingEntry(userID, projectID string, txType TransactionType) (LedgerEntry, bool)
	ListBlocks(projectID string) []Block
	ListVersions(projectID string) []VersionEntry
	Balance(userID string) int64
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetProject(id string) (Project, bool)
	GetJob(id string) (Job, bool)
	GetLedgerEntry(id string) (LedgerEntry, bool)
	ListLedgerEntries(filter LedgerFilter) []LedgerEntry
	ListBlocks(projectID string) []Block
	ListVersions(projectID string) []VersionEntry
	Balance(userID string) int64
}
