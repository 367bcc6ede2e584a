package adapter

import (
	"context"
	"io"

	"schematic-pipeline/internal/domain/model"
)

// ArtifactSink durably stores one artifact per job, overwriting prior content.
// A nil error from Put is the only signal that the artifact is complete and
// readable; on error no finished artifact may be assumed.
type ArtifactSink interface {
	Put(ctx context.Context, jobID string, r io.Reader) (*model.Artifact, error)
	Key(jobID string) string
}
