// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Project aliases domain.Project for in-memory persistence operations.
	Project = domain.Project
	// Job aliases domain.Job.
	Job = domain.Job
	// LedgerEntry aliases domain.LedgerEntry.
	LedgerEntry = domain.LedgerEntry
	// Block aliases domain.Block.
	Block = domain.Block
	// VersionEntry aliases domain.VersionEntry.
	VersionEntry = domain.VersionEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	projects map[string]Project
	jobs     map[string]Job
	ledger   map[string]LedgerEntry
	blocks   map[string]Block
	versions map[string][]VersionEntry
	balances map[string]int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Projects map[string]Project        `json:"projects"`
	Jobs     map[string]Job            `json:"jobs"`
	Ledger   map[string]LedgerEntry    `json:"ledger"`
	Blocks   map[string]Block          `json:"blocks"`
	Versions map[string][]VersionEntry `json:"versions"`
	Balances map[string]int64          `json:"balances"`
}

func newMemoryState() memoryState {
	return memoryState{
		projects: make(map[string]Project),
		jobs:     make(map[string]Job),
		ledger:   make(map[string]LedgerEntry),
		blocks:   make(map[string]Block),
		versions: make(map[string][]VersionEntry),
		balances: make(map[string]int64),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.projects {
		cloned.projects[k] = cloneProject(v)
	}
	for k, v := range s.jobs {
		cloned.jobs[k] = cloneJob(v)
	}
	for k, v := range s.ledger {
		cloned.ledger[k] = cloneLedgerEntry(v)
	}
	for k, v := range s.blocks {
		cloned.blocks[k] = v
	}
	for k, v := range s.versions {
		cloned.versions[k] = cloneVersions(v)
	}
	for k, v := range s.balances {
		cloned.balances[k] = v
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Projects: c.projects,
		Jobs:     c.jobs,
		Ledger:   c.ledger,
		Blocks:   c.blocks,
		Versions: c.versions,
		Balances: c.balances,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		projects: s.Projects,
		jobs:     s.Jobs,
		ledger:   s.Ledger,
		blocks:   s.Blocks,
		versions: s.Versions,
		balances: s.Balances,
	}.clone()
}

func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Projects == nil {
		snapshot.Projects = map[string]Project{}
	}
	if snapshot.Jobs == nil {
		snapshot.Jobs = map[string]Job{}
	}
	if snapshot.Ledger == nil {
		snapshot.Ledger = map[string]LedgerEntry{}
	}
	if snapshot.Blocks == nil {
		snapshot.Blocks = map[string]Block{}
	}
	if snapshot.Versions == nil {
		snapshot.Versions = map[string][]VersionEntry{}
	}
	if snapshot.Balances == nil {
		snapshot.Balances = map[string]int64{}
	}
	for id, p := range snapshot.Projects {
		if p.Status == "" {
			p.Status = domain.ProjectInProgress
		}
		if p.Genome == nil {
			p.Genome = genome.Genome{}
		}
		snapshot.Projects[id] = p
	}
	return snapshot
}

func cloneProject(p Project) Project {
	cp := p
	cp.Genome = genome.Clone(p.Genome)
	return cp
}

func cloneJob(j Job) Job {
	cp := j
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return cp
}

func cloneLedgerEntry(e LedgerEntry) LedgerEntry {
	cp := e
	cp.ResolvedAt = cloneTime(e.ResolvedAt)
	return cp
}

func cloneVersion(v VersionEntry) VersionEntry {
	cp := v
	cp.Snapshot = genome.Clone(v.Snapshot)
	cp.Mutations = append([]genome.Mutation(nil), v.Mutations...)
	cp.ChangedBlockIDs = append([]string(nil), v.ChangedBlockIDs...)
	return cp
}

func cloneVersions(vs []VersionEntry) []VersionEntry {
	out := make([]VersionEntry, len(vs))
	for i, v := range vs {
		out[i] = cloneVersion(v)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// CommitHook receives the state a transaction is about to commit. A non-nil
// error aborts the commit and leaves the previous state in place.
type CommitHook func(ctx context.Context, next Snapshot) error

// WithCommitHook runs hook under the store lock before each commit, so
// persistent stores write exactly the states that become visible.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.onCommit = hook }
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	engine   *RulesEngine
	nowFn    func() time.Time
	onCommit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string { return uuid.NewString() }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces committed state only when fn succeeds, no rule blocks and
// the commit hook, if any, accepts it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.onCommit != nil {
		if err := s.onCommit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, fmt.Errorf("persist snapshot: %w", err)
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Projects -------------------------------------------------------------------

// CreateProject stores a project record.
func (tx *transaction) CreateProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return Project{}, fmt.Errorf("project %q already exists", p.ID)
	}
	if p.Status == "" {
		p.Status = domain.ProjectInProgress
	}
	if p.Genome == nil {
		p.Genome = genome.Genome{}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.ID] = cloneProject(p)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: cloneProject(p)})
	return cloneProject(p), nil
}

// UpdateProject mutates an existing project record.
func (tx *transaction) UpdateProject(id string, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: id}
	}
	before := cloneProject(current)
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.projects[id] = cloneProject(current)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: cloneProject(current)})
	return cloneProject(current), nil
}

// FindProject exposes project lookup within the transaction scope.
func (tx *transaction) FindProject(id string) (Project, bool) {
	return tx.Snapshot().FindProject(id)
}

// Jobs -----------------------------------------------------------------------

// CreateJob stores a materialisation job.
func (tx *transaction) CreateJob(j Job) (Job, error) {
	if j.ID == "" {
		j.ID = tx.store.newID()
	}
	if _, exists := tx.state.jobs[j.ID]; exists {
		return Job{}, fmt.Errorf("job %q already exists", j.ID)
	}
	if _, ok := tx.state.projects[j.ProjectID]; !ok {
		return Job{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: j.ProjectID}
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	j.CreatedAt = tx.now
	j.UpdatedAt = tx.now
	tx.state.jobs[j.ID] = cloneJob(j)
	tx.recordChange(Change{Entity: domain.EntityJob, Action: domain.ActionCreate, After: cloneJob(j)})
	return cloneJob(j), nil
}

// UpdateJob mutates a job using the provided mutator function.
func (tx *transaction) UpdateJob(id string, mutator func(*Job) error) (Job, error) {
	current, ok := tx.state.jobs[id]
	if !ok {
		return Job{}, domain.ErrNotFound{Entity: domain.EntityJob, ID: id}
	}
	before := cloneJob(current)
	if err := mutator(&current); err != nil {
		return Job{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.jobs[id] = cloneJob(current)
	tx.recordChange(Change{Entity: domain.EntityJob, Action: domain.ActionUpdate, Before: before, After: cloneJob(current)})
	return cloneJob(current), nil
}

// FindJob exposes job lookup within the transaction scope.
func (tx *transaction) FindJob(id string) (Job, bool) {
	return tx.Snapshot().FindJob(id)
}

// Ledger ---------------------------------------------------------------------

// CreateLedgerEntry stores a ledger entry.
func (tx *transaction) CreateLedgerEntry(e LedgerEntry) (LedgerEntry, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.ledger[e.ID]; exists {
		return LedgerEntry{}, fmt.Errorf("ledger entry %q already exists", e.ID)
	}
	if e.Amount < 0 {
		return LedgerEntry{}, fmt.Errorf("ledger entry amount must be non-negative, got %d", e.Amount)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.ledger[e.ID] = cloneLedgerEntry(e)
	tx.recordChange(Change{Entity: domain.EntityLedgerEntry, Action: domain.ActionCreate, After: cloneLedgerEntry(e)})
	return cloneLedgerEntry(e), nil
}

// UpdateLedgerEntry mutates a ledger entry using the provided mutator function.
func (tx *transaction) UpdateLedgerEntry(id string, mutator func(*LedgerEntry) error) (LedgerEntry, error) {
	current, ok := tx.state.ledger[id]
	if !ok {
		return LedgerEntry{}, domain.ErrNotFound{Entity: domain.EntityLedgerEntry, ID: id}
	}
	before := cloneLedgerEntry(current)
	if err := mutator(&current); err != nil {
		return LedgerEntry{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.ledger[id] = cloneLedgerEntry(current)
	tx.recordChange(Change{Entity: domain.EntityLedgerEntry, Action: domain.ActionUpdate, Before: before, After: cloneLedgerEntry(current)})
	return cloneLedgerEntry(current), nil
}

// FindLedgerEntry exposes ledger lookup within the transaction scope.
func (tx *transaction) FindLedgerEntry(id string) (LedgerEntry, bool) {
	return tx.Snapshot().FindLedgerEntry(id)
}

// FindPendingEntry returns the PENDING reservation for the tuple, if any.
func (tx *transaction) FindPendingEntry(userID, projectID string, txType domain.TransactionType) (LedgerEntry, bool) {
	return tx.Snapshot().FindPendingEntry(userID, projectID, txType)
}

// IncrementBalance adds delta to the user's counter under the store lock.
func (tx *transaction) IncrementBalance(userID string, delta int64) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("balance user id is required")
	}
	before := tx.state.balances[userID]
	after := before + delta
	tx.state.balances[userID] = after
	tx.recordChange(Change{
		Entity: domain.EntityBalance,
		Action: domain.ActionUpdate,
		Before: domain.BalanceChange{UserID: userID, Balance: before},
		After:  domain.BalanceChange{UserID: userID, Delta: delta, Balance: after},
	})
	return after, nil
}

// Blocks and versions --------------------------------------------------------

// InsertBlocks validates every block before storing any of them.
func (tx *transaction) InsertBlocks(blocks []Block) ([]Block, error) {
	prepared := make([]Block, len(blocks))
	seen := make(map[string]struct{}, len(blocks))
	for i, b := range blocks {
		if b.ID == "" {
			b.ID = tx.store.newID()
		}
		if _, exists := tx.state.blocks[b.ID]; exists {
			return nil, fmt.Errorf("block %q already exists", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("block %q repeated in batch", b.ID)
		}
		if _, ok := tx.state.projects[b.ProjectID]; !ok {
			return nil, domain.ErrNotFound{Entity: domain.EntityProject, ID: b.ProjectID}
		}
		seen[b.ID] = struct{}{}
		b.CreatedAt = tx.now
		b.UpdatedAt = tx.now
		prepared[i] = b
	}
	for _, b := range prepared {
		tx.state.blocks[b.ID] = b
		tx.recordChange(Change{Entity: domain.EntityBlock, Action: domain.ActionCreate, After: b})
	}
	return append([]Block(nil), prepared...), nil
}

// AppendVersion adds a timeline entry. Version numbers must increase.
func (tx *transaction) AppendVersion(v VersionEntry) (VersionEntry, error) {
	if _, ok := tx.state.projects[v.ProjectID]; !ok {
		return VersionEntry{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: v.ProjectID}
	}
	existing := tx.state.versions[v.ProjectID]
	if n := len(existing); n > 0 && v.Version <= existing[n-1].Version {
		return VersionEntry{}, fmt.Errorf("version %d is not after %d for project %q", v.Version, existing[n-1].Version, v.ProjectID)
	}
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	v.CreatedAt = tx.now
	v.UpdatedAt = tx.now
	tx.state.versions[v.ProjectID] = append(existing, cloneVersion(v))
	tx.recordChange(Change{Entity: domain.EntityVersion, Action: domain.ActionCreate, After: cloneVersion(v)})
	return cloneVersion(v), nil
}

// Views ----------------------------------------------------------------------

func (v transactionView) ListProjects() []Project {
	out := make([]Project, 0, len(v.state.projects))
	for _, p := range v.state.projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindProject(id string) (Project, bool) {
	p, ok := v.state.projects[id]
	if !ok {
		return Project{}, false
	}
	return cloneProject(p), true
}

func (v transactionView) ListJobs() []Job {
	out := make([]Job, 0, len(v.state.jobs))
	for _, j := range v.state.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindJob(id string) (Job, bool) {
	j, ok := v.state.jobs[id]
	if !ok {
		return Job{}, false
	}
	return cloneJob(j), true
}

func (v transactionView) ListLedgerEntries(filter domain.LedgerFilter) []LedgerEntry {
	return v.state.listLedger(filter)
}

func (v transactionView) FindLedgerEntry(id string) (LedgerEntry, bool) {
	e, ok := v.state.ledger[id]
	if !ok {
		return LedgerEntry{}, false
	}
	return cloneLedgerEntry(e), true
}

func (v transactionView) FindPendingEntry(userID, projectID string, txType domain.TransactionType) (LedgerEntry, bool) {
	entries := v.state.listLedger(domain.LedgerFilter{
		UserID:          userID,
		ProjectID:       projectID,
		TransactionType: txType,
		Status:          domain.LedgerPending,
	})
	if len(entries) == 0 {
		return LedgerEntry{}, false
	}
	return entries[0], true
}

func (v transactionView) ListBlocks(projectID string) []Block {
	return v.state.listBlocks(projectID)
}

func (v transactionView) ListVersions(projectID string) []VersionEntry {
	return cloneVersions(v.state.versions[projectID])
}

func (v transactionView) Balance(userID string) int64 {
	return v.state.balances[userID]
}

func (s *memoryState) listLedger(filter domain.LedgerFilter) []LedgerEntry {
	out := make([]LedgerEntry, 0)
	for _, e := range s.ledger {
		if filter.Matches(e) {
			out = append(out, cloneLedgerEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryState) listBlocks(projectID string) []Block {
	out := make([]Block, 0)
	for _, b := range s.blocks {
		if projectID == "" || b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JobID != out[j].JobID {
			return out[i].JobID < out[j].JobID
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Read helpers ---------------------------------------------------------------

// GetProject retrieves a project by ID from committed state.
func (s *Store) GetProject(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindProject(id)
}

// ListProjects returns all projects from committed state.
func (s *Store) ListProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListProjects()
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindJob(id)
}

// ListJobs returns all jobs.
func (s *Store) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListJobs()
}

// GetLedgerEntry retrieves a ledger entry by ID.
func (s *Store) GetLedgerEntry(id string) (LedgerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindLedgerEntry(id)
}

// ListLedgerEntries returns entries matching filter, oldest first.
func (s *Store) ListLedgerEntries(filter domain.LedgerFilter) []LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listLedger(filter)
}

// ListBlocks returns a project's blocks ordered by job then sequence. An
// empty project id lists every block.
func (s *Store) ListBlocks(projectID string) []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listBlocks(projectID)
}

// ListVersions returns a project's timeline, oldest first.
func (s *Store) ListVersions(projectID string) []VersionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneVersions(s.state.versions[projectID])
}

// Balance returns the user's chip balance.
func (s *Store) Balance(userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.balances[userID]
}

// BucketNames lists the snapshot buckets in the order persistent stores write them.
var BucketNames = []string{"projects", "jobs", "ledger", "blocks", "versions", "balances"}

// Buckets maps bucket names to pointers into the snapshot so persistent stores
// can encode or decode each bucket as one JSON payload.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"projects": &s.Projects,
		"jobs":     &s.Jobs,
		"ledger":   &s.Ledger,
		"blocks":   &s.Blocks,
		"versions": &s.Versions,
		"balances": &s.Balances,
	}
}
