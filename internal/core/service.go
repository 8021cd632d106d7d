// Package core is the service facade over genomes, the chip ledger,
// materialisation and rebirth. Every operation is logged, audited, timed and
// traced through the recorders supplied as options.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"genomeforge/internal/ephemeral"
	"genomeforge/internal/ledger"
	"genomeforge/internal/logging"
	"genomeforge/internal/materialise"
	"genomeforge/internal/similarity"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

const (
	opCreateProject   = "create_project"
	opMutateGenome    = "mutate_genome"
	opProposeMutation = "propose_mutation"
	opRollback        = "rollback_genome"
	opMaterialise     = "materialise"
	opRetryJob        = "retry_job"
	opRebirth         = "rebirth"
	opTopUp           = "top_up"
	opReconcile       = "reconcile"
)

// ErrNoDispatcher is returned by Materialise when no dispatcher is configured.
var ErrNoDispatcher = errors.New("core: no materialisation dispatcher configured")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Limits are the per-window request budgets.
type Limits struct {
	OracleRate      int64
	MaterialiseRate int64
}

// DefaultLimits mirrors the ephemeral defaults.
func DefaultLimits() Limits {
	return Limits{OracleRate: ephemeral.OracleRateLimit, MaterialiseRate: ephemeral.MaterialiseRateLimit}
}

// Service exposes the transactional operations of the system.
type Service struct {
	store      domain.PersistentStore
	ledger     *ledger.Ledger
	reconciler *ledger.Reconciler
	gate       *similarity.Gate
	dispatcher *materialise.Dispatcher
	limiter    *ephemeral.FixedWindowLimiter
	genomes    *ephemeral.GenomeCache
	limits     Limits
	factory    genome.Factory
	validate   *validator.Validate

	clock   Clock
	logger  logging.Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logging.OrNoop(l) }
}

func WithAuditRecorder(r AuditRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

func WithMetricsRecorder(r MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLedger replaces the ledger built over the service's store.
func WithLedger(l *ledger.Ledger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithDispatcher enables Materialise, JobStatus and RetryJob.
func WithDispatcher(d *materialise.Dispatcher) ServiceOption {
	return func(s *Service) { s.dispatcher = d }
}

// WithLimiter enables rate limiting of assistant mutations and materialise
// requests with the given budgets.
func WithLimiter(l *ephemeral.FixedWindowLimiter, limits Limits) ServiceOption {
	return func(s *Service) {
		s.limiter = l
		if limits.OracleRate > 0 {
			s.limits.OracleRate = limits.OracleRate
		}
		if limits.MaterialiseRate > 0 {
			s.limits.MaterialiseRate = limits.MaterialiseRate
		}
	}
}

// WithGenomeCache serves GetGenome through c and invalidates it on writes.
func WithGenomeCache(c *ephemeral.GenomeCache) ServiceOption {
	return func(s *Service) { s.genomes = c }
}

// WithGate replaces the similarity gate, which otherwise quarantines through
// the service's store.
func WithGate(g *similarity.Gate) ServiceOption {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithNodeFactory sets the id and clock source for blank nodes.
func WithNodeFactory(f genome.Factory) ServiceOption {
	return func(s *Service) { s.factory = f }
}

// NewService constructs a service over store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		limits:   DefaultLimits(),
		factory:  genome.NewFactory(),
		validate: validator.New(),
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   logging.Noop(),
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = ledger.New(store, ledger.WithLogger(s.logger), ledger.WithClock(s.clock.Now))
	}
	if s.gate == nil {
		s.gate = similarity.NewGate(similarity.StoreQuarantiner{Store: store}, s.logger)
	}
	s.reconciler = ledger.NewReconciler(s.ledger)
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Ledger returns the chip ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Reconciler returns the stale reservation sweeper.
func (s *Service) Reconciler() *ledger.Reconciler { return s.reconciler }

func (s *Service) now() time.Time { return s.clock.Now() }

// begin starts tracing and timing op. The returned finish must be called with
// the entity id the operation touched and its error.
func (s *Service) begin(ctx context.Context, op, userID string) (context.Context, func(entityID string, err error)) {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.now()
	return ctx, func(entityID string, err error) {
		duration := s.now().Sub(started)
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, duration)
		if err != nil {
			s.logger.Warn("operation failed", "operation", op, "entity_id", entityID, "user_id", userID, "error", err)
			s.recordAudit(ctx, op, entityID, userID, duration, err)
			return
		}
		s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "user_id", userID, "duration", duration)
		s.recordAudit(ctx, op, entityID, userID, duration, nil)
	}
}

func (s *Service) recordAudit(ctx context.Context, op, entityID, userID string, duration time.Duration, err error) {
	meta, ok := operationMeta[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		UserID:    userID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// logWarnings surfaces non-blocking rule violations.
func (s *Service) logWarnings(op string, res domain.Result) {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
	}
}

func (s *Service) invalidateGenome(ctx context.Context, projectID string) {
	if s.genomes == nil {
		return
	}
	if err := s.genomes.Invalidate(ctx, projectID); err != nil {
		s.logger.Warn("genome cache invalidate failed", "project_id", projectID, "error", err)
	}
}
