package similarity

import (
	"context"
	"errors"
	"fmt"

	"genomeforge/internal/logging"
	"genomeforge/pkg/genome"
)

// ErrQuarantined is matched by QuarantineEscalation.
var ErrQuarantined = errors.New("project quarantined")

// QuarantineEscalation reports that a rebirth failed every similarity check
// and its project was quarantined for manual review.
type QuarantineEscalation struct {
	ProjectID string
	UserID    string
	Score     int
	Attempts  int
}

func (e *QuarantineEscalation) Error() string {
	return fmt.Sprintf("project %s quarantined: similarity %d below %d after %d attempts",
		e.ProjectID, e.Score, Threshold, e.Attempts)
}

// Is makes errors.Is(err, ErrQuarantined) hold.
func (e *QuarantineEscalation) Is(target error) bool { return target == ErrQuarantined }

// Regenerator produces a fresh candidate between attempts. attempt starts at 1.
type Regenerator interface {
	Regenerate(ctx context.Context, parent, previous genome.Genome, attempt int, last Result) (genome.Genome, error)
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, parent, previous genome.Genome, attempt int, last Result) (genome.Genome, error)

func (f RegeneratorFunc) Regenerate(ctx context.Context, parent, previous genome.Genome, attempt int, last Result) (genome.Genome, error) {
	return f(ctx, parent, previous, attempt, last)
}

// ProjectQuarantiner moves a project into the QUARANTINED state.
type ProjectQuarantiner interface {
	Quarantine(ctx context.Context, projectID, reason string) error
}

// Options tunes a single Enforce call. A zero MaxRetries uses DefaultMaxRetries;
// a negative value disables retries.
type Options struct {
	MaxRetries  int
	Regenerator Regenerator
}

// Outcome is the result of Enforce. Genome is nil unless Passed.
type Outcome struct {
	Passed     bool
	Genome     genome.Genome
	Score      int
	Attempts   int
	// Result is the last measurement taken.
	Result     Result
	Escalation *QuarantineEscalation
}

// Gate enforces the similarity threshold for rebirths.
type Gate struct {
	quarantiner ProjectQuarantiner
	log         logging.Logger
}

// NewGate builds a gate. log may be nil.
func NewGate(q ProjectQuarantiner, log logging.Logger) *Gate {
	return &Gate{quarantiner: q, log: logging.OrNoop(log)}
}

// Enforce checks candidate against parent, then re-checks up to MaxRetries
// times, asking the Regenerator for a new candidate before each re-check.
// Without a Regenerator the re-checks see the same candidate. When every
// attempt fails the project is quarantined and the returned error wraps
// ErrQuarantined; the candidate must then not be committed.
func (g *Gate) Enforce(ctx context.Context, parent, candidate genome.Genome, projectID, userID string, opts Options) (Outcome, error) {
	retries := opts.MaxRetries
	switch {
	case retries == 0:
		retries = DefaultMaxRetries
	case retries < 0:
		retries = 0
	}

	result := Score(parent, candidate)
	attempts := 1
	for !result.Passed && attempts <= retries {
		if err := ctx.Err(); err != nil {
			return Outcome{Score: result.Score, Attempts: attempts, Result: result}, err
		}
		if opts.Regenerator != nil {
			next, err := opts.Regenerator.Regenerate(ctx, parent, candidate, attempts, result)
			if err != nil {
				return Outcome{Score: result.Score, Attempts: attempts, Result: result}, fmt.Errorf("regenerate attempt %d: %w", attempts, err)
			}
			candidate = next
		} else {
			g.log.Warn("similarity retry without regenerator re-checks the same candidate",
				"project_id", projectID, "attempt", attempts)
		}
		result = Score(parent, candidate)
		attempts++
		g.log.Debug("similarity re-check", "project_id", projectID, "attempt", attempts, "score", result.Score)
	}

	if result.Passed {
		g.log.Info("similarity passed", "project_id", projectID, "user_id", userID, "score", result.Score, "attempts", attempts)
		return Outcome{Passed: true, Genome: candidate, Score: result.Score, Attempts: attempts, Result: result}, nil
	}

	escalation := &QuarantineEscalation{ProjectID: projectID, UserID: userID, Score: result.Score, Attempts: attempts}
	out := Outcome{Score: result.Score, Attempts: attempts, Result: result, Escalation: escalation}
	g.log.Warn("similarity failed, quarantining project", "project_id", projectID, "user_id", userID, "score", result.Score)
	if g.quarantiner != nil {
		if err := g.quarantiner.Quarantine(ctx, projectID, escalation.Error()); err != nil {
			return out, errors.Join(escalation, fmt.Errorf("quarantine %s: %w", projectID, err))
		}
	}
	return out, escalation
}
