package core

import (
	"context"
	"time"

	"genomeforge/pkg/domain"
)

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for an audit trail.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	UserID    string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// operationMeta maps audited operations to the entity and action they touch.
var operationMeta = map[string]struct {
	entity domain.EntityType
	action domain.Action
}{
	opCreateProject:   {domain.EntityProject, domain.ActionCreate},
	opMutateGenome:    {domain.EntityProject, domain.ActionUpdate},
	opProposeMutation: {domain.EntityProject, domain.ActionUpdate},
	opRollback:        {domain.EntityProject, domain.ActionUpdate},
	opMaterialise:     {domain.EntityJob, domain.ActionCreate},
	opRetryJob:        {domain.EntityJob, domain.ActionUpdate},
	opRebirth:         {domain.EntityProject, domain.ActionUpdate},
	opTopUp:           {domain.EntityLedgerEntry, domain.ActionCreate},
	opReconcile:       {domain.EntityLedgerEntry, domain.ActionUpdate},
}
