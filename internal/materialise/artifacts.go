package materialise

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"genomeforge/internal/blob"
	"genomeforge/internal/logging"
	"genomeforge/pkg/domain"
)

const artifactContentType = "text/plain; charset=utf-8"

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// ArtifactKey is the blob key of one generated block.
func ArtifactKey(projectID, jobID string, attempt, seq int, blockType string) string {
	typ := unsafeKeyChars.ReplaceAllString(strings.ToLower(blockType), "_")
	return fmt.Sprintf("artifacts/%s/%s/a%d/%04d-%s.tsx", projectID, jobID, attempt, seq, typ)
}

// ArtifactStore writes generated code to blob storage. Block rows are
// inserted by the caller in the transaction that settles the job.
type ArtifactStore struct {
	blobs blob.Store
	log   logging.Logger
}

// NewArtifactStore binds blob storage.
func NewArtifactStore(blobs blob.Store, log logging.Logger) *ArtifactStore {
	return &ArtifactStore{blobs: blobs, log: logging.OrNoop(log)}
}

// Staged holds uploaded blobs whose rows have not been inserted yet.
type Staged struct {
	Blocks []domain.Block
	owner  *ArtifactStore
}

// Stage uploads every artifact. If any upload fails the ones already written
// are deleted and nothing is returned.
func (a *ArtifactStore) Stage(ctx context.Context, job domain.Job, artifacts []Artifact) (*Staged, error) {
	staged := &Staged{owner: a, Blocks: make([]domain.Block, 0, len(artifacts))}
	for _, art := range artifacts {
		key := ArtifactKey(job.ProjectID, job.ID, job.Attempts, art.Seq, art.Type)
		info, err := a.blobs.Put(ctx, key, strings.NewReader(art.Code), blob.PutOptions{
			ContentType: artifactContentType,
			Metadata: map[string]string{
				"job_id":  job.ID,
				"node_id": art.NodeID,
				"zone":    string(art.Zone),
				"seq":     strconv.Itoa(art.Seq),
			},
		})
		if err != nil {
			staged.Discard(ctx)
			return nil, &PersistenceError{JobID: job.ID, Op: "artifact " + key, Err: err}
		}
		staged.Blocks = append(staged.Blocks, domain.Block{
			ProjectID: job.ProjectID,
			JobID:     job.ID,
			NodeID:    art.NodeID,
			Seq:       art.Seq,
			Type:      art.Type,
			Zone:      string(art.Zone),
			BlobKey:   key,
			Size:      info.Size,
			SHA256:    info.ETag,
		})
	}
	return staged, nil
}

// Discard deletes the staged blobs. Deletion failures are logged.
func (s *Staged) Discard(ctx context.Context) {
	if s == nil {
		return
	}
	for _, b := range s.Blocks {
		if _, err := s.owner.blobs.Delete(ctx, b.BlobKey); err != nil {
			s.owner.log.Warn("artifact cleanup failed", "key", b.BlobKey, "error", err)
		}
	}
	s.Blocks = nil
}

// ReadCode fetches the generated source of a persisted block.
func (a *ArtifactStore) ReadCode(ctx context.Context, b domain.Block) (string, error) {
	_, rc, err := a.blobs.Get(ctx, b.BlobKey)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	var sb strings.Builder
	if _, err := io.Copy(&sb, rc); err != nil {
		return "", fmt.Errorf("read %s: %w", b.BlobKey, err)
	}
	return sb.String(), nil
}
