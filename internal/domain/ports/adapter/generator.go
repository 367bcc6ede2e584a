package adapter

import (
	"context"
	"io"
)

// Generator invokes the remote generation service. The returned stream must
// be consumed incrementally and closed by the caller.
type Generator interface {
	Generate(ctx context.Context, prompt string) (io.ReadCloser, error)
}
