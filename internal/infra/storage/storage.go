package storage

import (
	"fmt"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// New builds the sink selected by cfg.Driver.
func New(cfg config.StorageConfig, logger *zerolog.Logger) (adapter.ArtifactSink, error) {
	switch cfg.Driver {
	case "minio":
		return NewMinioSink(cfg, logger)
	case "filesystem":
		return NewFileSink(cfg.Path, cfg.Prefix, cfg.Extension)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func objectKey(prefix, jobID, ext string) string {
	return prefix + jobID + ext
}
