package similarity

import (
	"context"
	"fmt"

	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// StoreQuarantiner marks projects QUARANTINED in a persistent store.
type StoreQuarantiner struct {
	Store domain.PersistentStore
}

func (q StoreQuarantiner) Quarantine(ctx context.Context, projectID, reason string) error {
	_, err := q.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateProject(projectID, func(p *domain.Project) error {
			p.Status = domain.ProjectQuarantined
			p.QuarantineReason = reason
			return nil
		})
		return err
	})
	return err
}

// SnapshotForDispute appends the project's current genome to its timeline as a
// DISPUTE_SNAPSHOT so the pre-rebirth state can be recovered.
func SnapshotForDispute(tx domain.Transaction, projectID string, author domain.Author) (domain.VersionEntry, error) {
	project, ok := tx.FindProject(projectID)
	if !ok {
		return domain.VersionEntry{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: projectID}
	}
	entry, err := tx.AppendVersion(domain.VersionEntry{
		ProjectID:       projectID,
		Version:         project.Version + 1,
		Kind:            domain.VersionDisputeSnapshot,
		Author:          author,
		Description:     fmt.Sprintf("dispute snapshot of v%d before rebirth", project.Version),
		Snapshot:        genome.Clone(project.Genome),
		ChangedBlockIDs: []string{},
	})
	if err != nil {
		return domain.VersionEntry{}, err
	}
	_, err = tx.UpdateProject(projectID, func(p *domain.Project) error {
		p.Version = entry.Version
		return nil
	})
	return entry, err
}
