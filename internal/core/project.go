package core

import (
	"context"
	"fmt"
	"time"

	"genomeforge/internal/ephemeral"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// CreateProjectRequest describes a new project.
type CreateProjectRequest struct {
	OwnerID              string        `validate:"required"`
	Name                 string        `validate:"required,max=120"`
	Tier                 genome.Tier   `validate:"omitempty,oneof=PRESENCE BUSINESS SCALE"`
	Genome               genome.Genome `validate:"-"`
	CustomLogicFunctions int           `validate:"gte=0"`
}

// CreateProject stores a project at version 1 with a CREATE timeline entry.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (domain.Project, error) {
	ctx, finish := s.begin(ctx, opCreateProject, req.OwnerID)
	project, err := s.createProject(ctx, req)
	finish(project.ID, err)
	return project, err
}

func (s *Service) createProject(ctx context.Context, req CreateProjectRequest) (domain.Project, error) {
	if err := s.check(req); err != nil {
		return domain.Project{}, err
	}
	if err := genome.Validate(req.Genome); err != nil {
		return domain.Project{}, err
	}
	if req.Tier == "" {
		req.Tier = genome.TierPresence
	}
	g := req.Genome
	if g == nil {
		g = genome.Genome{}
	}
	var created domain.Project
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateProject(domain.Project{
			OwnerID:              req.OwnerID,
			Name:                 req.Name,
			Status:               domain.ProjectInProgress,
			Tier:                 req.Tier,
			Genome:               g,
			Version:              1,
			CustomLogicFunctions: req.CustomLogicFunctions,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendVersion(domain.VersionEntry{
			ProjectID:       created.ID,
			Version:         1,
			Kind:            domain.VersionCreate,
			Author:          domain.AuthorUser,
			Description:     "created",
			Snapshot:        genome.Clone(g),
			ChangedBlockIDs: allIDs(g),
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	s.logWarnings(opCreateProject, res)
	return created, nil
}

// GetProject returns the durable project row.
func (s *Service) GetProject(_ context.Context, projectID string) (domain.Project, error) {
	p, ok := s.store.GetProject(projectID)
	if !ok {
		return domain.Project{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
	}
	return p, nil
}

// GetGenome returns a project's current genome, through the genome cache
// when one is configured.
func (s *Service) GetGenome(ctx context.Context, projectID string) (genome.Genome, error) {
	load := func() (genome.Genome, error) {
		p, err := s.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return p.Genome, nil
	}
	if s.genomes == nil {
		return load()
	}
	return s.genomes.Get(ctx, projectID, load)
}

// MutateRequest applies content mutations to a project's genome.
type MutateRequest struct {
	ProjectID   string            `validate:"required"`
	UserID      string            `validate:"required"`
	Mutations   []genome.Mutation `validate:"required,min=1,dive"`
	Author      domain.Author     `validate:"omitempty,oneof=USER ORACLE AGENT"`
	Description string            `validate:"max=500"`
}

// MutateGenome applies req.Mutations in order and appends a MUTATION version
// with the full snapshot and the ids the diff reports as changed.
func (s *Service) MutateGenome(ctx context.Context, req MutateRequest) (domain.VersionEntry, error) {
	ctx, finish := s.begin(ctx, opMutateGenome, req.UserID)
	entry, err := s.mutate(ctx, req)
	finish(req.ProjectID, err)
	return entry, err
}

// ProposeMutation is MutateGenome for the assistant surface: it is rate
// limited per user and session and authored by ORACLE.
func (s *Service) ProposeMutation(ctx context.Context, sessionID string, req MutateRequest) (domain.VersionEntry, error) {
	ctx, finish := s.begin(ctx, opProposeMutation, req.UserID)
	entry, err := func() (domain.VersionEntry, error) {
		if s.limiter != nil {
			key := ephemeral.OracleRateKey(req.UserID, sessionID)
			if _, err := s.limiter.Enforce(ctx, key, s.limits.OracleRate, ephemeral.OracleRateTTL); err != nil {
				return domain.VersionEntry{}, err
			}
		}
		req.Author = domain.AuthorOracle
		return s.mutate(ctx, req)
	}()
	finish(req.ProjectID, err)
	return entry, err
}

func (s *Service) mutate(ctx context.Context, req MutateRequest) (domain.VersionEntry, error) {
	if err := s.check(req); err != nil {
		return domain.VersionEntry{}, err
	}
	if req.Author == "" {
		req.Author = domain.AuthorUser
	}
	stamp := s.now().Format(time.RFC3339Nano)
	var entry domain.VersionEntry
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		project, err := s.ownedProject(tx, req.ProjectID, req.UserID)
		if err != nil {
			return err
		}
		applied := make([]genome.Mutation, len(req.Mutations))
		next := project.Genome
		for i, m := range req.Mutations {
			if err := genome.ValidateMutation(m); err != nil {
				return err
			}
			if m.AppliedAt == "" {
				m.AppliedAt = stamp
			}
			if node, ok := genome.FindByID(next, m.NodeID); ok && m.PreviousProps == nil {
				m.PreviousProps = node.Props.Clone()
			}
			next = genome.ApplyMutation(next, m)
			applied[i] = m
		}
		changed := genome.ChangedIDs(genome.Diff(project.Genome, next))
		if len(changed) == 0 {
			return ErrNoChanges
		}
		description := req.Description
		if description == "" {
			description = fmt.Sprintf("%d mutation(s)", len(applied))
		}
		entry, err = s.appendVersion(tx, project, next, domain.VersionEntry{
			Kind:            domain.VersionMutation,
			Author:          req.Author,
			Description:     description,
			Mutations:       applied,
			ChangedBlockIDs: changed,
		})
		return err
	})
	if err != nil {
		return domain.VersionEntry{}, err
	}
	s.logWarnings(opMutateGenome, res)
	s.invalidateGenome(ctx, req.ProjectID)
	return entry, nil
}

// RollbackMode selects how Rollback applies an old version.
type RollbackMode string

const (
	// RollbackRestore makes the old snapshot the project's current genome.
	RollbackRestore RollbackMode = "RESTORE"
	// RollbackBranch copies the old snapshot into a new project.
	RollbackBranch RollbackMode = "BRANCH"
)

// RollbackRequest selects a timeline version to return to.
type RollbackRequest struct {
	ProjectID     string       `validate:"required"`
	UserID        string       `validate:"required"`
	TargetVersion int          `validate:"gte=1"`
	Mode          RollbackMode `validate:"oneof=RESTORE BRANCH"`
	// BranchName names the new project in BRANCH mode.
	BranchName string `validate:"max=120"`
}

// Rollback restores or branches from a timeline snapshot. It returns the
// project that now holds the snapshot and the version entry written for it.
func (s *Service) Rollback(ctx context.Context, req RollbackRequest) (domain.Project, domain.VersionEntry, error) {
	ctx, finish := s.begin(ctx, opRollback, req.UserID)
	project, entry, err := s.rollback(ctx, req)
	finish(project.ID, err)
	return project, entry, err
}

func (s *Service) rollback(ctx context.Context, req RollbackRequest) (domain.Project, domain.VersionEntry, error) {
	if err := s.check(req); err != nil {
		return domain.Project{}, domain.VersionEntry{}, err
	}
	var (
		project domain.Project
		entry   domain.VersionEntry
	)
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		source, err := s.ownedProject(tx, req.ProjectID, req.UserID)
		if err != nil {
			return err
		}
		target, ok := findVersion(tx.Snapshot().ListVersions(source.ID), req.TargetVersion)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityVersion, ID: fmt.Sprintf("%s@v%d", source.ID, req.TargetVersion)}
		}
		snapshot := genome.Clone(target.Snapshot)
		if req.Mode == RollbackBranch {
			name := req.BranchName
			if name == "" {
				name = fmt.Sprintf("%s (v%d branch)", source.Name, target.Version)
			}
			project, err = tx.CreateProject(domain.Project{
				OwnerID:              source.OwnerID,
				Name:                 name,
				Status:               domain.ProjectInProgress,
				Tier:                 source.Tier,
				Genome:               snapshot,
				Version:              1,
				CustomLogicFunctions: source.CustomLogicFunctions,
				ParentProjectID:      source.ID,
			})
			if err != nil {
				return err
			}
			entry, err = tx.AppendVersion(domain.VersionEntry{
				ProjectID:       project.ID,
				Version:         1,
				Kind:            domain.VersionCreate,
				Author:          domain.AuthorUser,
				Description:     fmt.Sprintf("branched from %s v%d", source.ID, target.Version),
				Snapshot:        genome.Clone(snapshot),
				ChangedBlockIDs: allIDs(snapshot),
			})
			return err
		}
		entry, err = s.appendVersion(tx, source, snapshot, domain.VersionEntry{
			Kind:            domain.VersionRollback,
			Author:          domain.AuthorUser,
			Description:     fmt.Sprintf("restored v%d", target.Version),
			ChangedBlockIDs: genome.ChangedIDs(genome.Diff(source.Genome, snapshot)),
		})
		if err != nil {
			return err
		}
		project, _ = tx.FindProject(source.ID)
		return nil
	})
	if err != nil {
		return domain.Project{}, domain.VersionEntry{}, err
	}
	s.logWarnings(opRollback, res)
	s.invalidateGenome(ctx, req.ProjectID)
	return project, entry, nil
}

// ListVersions returns a project's timeline, oldest first.
func (s *Service) ListVersions(ctx context.Context, projectID string) ([]domain.VersionEntry, error) {
	var out []domain.VersionEntry
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindProject(projectID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
		}
		out = v.ListVersions(projectID)
		return nil
	})
	return out, err
}

// ExportGenome prepares a genome for export: GPU-only assets are swapped for
// their fallbacks, the tier badge is applied and, for "rtl", a dir prop is set.
func (s *Service) ExportGenome(ctx context.Context, projectID, dir string) (genome.Genome, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := genome.SwapSDFAssetsForExport(p.Genome)
	out = genome.InjectBuiltWithBadge(out, p.Tier, s.factory)
	return genome.ApplyDirection(out, dir), nil
}

// ownedProject loads a project for a write by userID.
func (s *Service) ownedProject(tx domain.Transaction, projectID, userID string) (domain.Project, error) {
	p, ok := tx.FindProject(projectID)
	if !ok {
		return domain.Project{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
	}
	if p.OwnerID != userID {
		return domain.Project{}, fmt.Errorf("%w: %s", ErrNotOwner, projectID)
	}
	if p.Status == domain.ProjectQuarantined {
		return domain.Project{}, fmt.Errorf("%w: %s", ErrProjectQuarantined, projectID)
	}
	return p, nil
}

// appendVersion sets next as the project's genome at Version+1 and appends
// the timeline entry template with the snapshot filled in.
func (s *Service) appendVersion(tx domain.Transaction, project domain.Project, next genome.Genome, tmpl domain.VersionEntry) (domain.VersionEntry, error) {
	version := project.Version + 1
	if _, err := tx.UpdateProject(project.ID, func(p *domain.Project) error {
		p.Genome = next
		p.Version = version
		return nil
	}); err != nil {
		return domain.VersionEntry{}, err
	}
	tmpl.ProjectID = project.ID
	tmpl.Version = version
	tmpl.Snapshot = genome.Clone(next)
	if tmpl.ChangedBlockIDs == nil {
		tmpl.ChangedBlockIDs = []string{}
	}
	return tx.AppendVersion(tmpl)
}

func findVersion(entries []domain.VersionEntry, version int) (domain.VersionEntry, bool) {
	for _, e := range entries {
		if e.Version == version {
			return e, true
		}
	}
	return domain.VersionEntry{}, false
}

func allIDs(g genome.Genome) []string {
	nodes := genome.Flatten(g)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
