package storage

import (
	"context"
	"fmt"
	"io"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

var _ adapter.ArtifactSink = (*MinioSink)(nil)

const artifactContentType = "application/octet-stream"

// MinioSink writes artifacts to an S3 compatible bucket (MinIO, S3, R2).
// Uploads of unknown length go through multipart upload with a fixed part
// size, so at most one part is buffered per job and the object only becomes
// visible once the upload completes.
type MinioSink struct {
	client   *minio.Client
	bucket   string
	prefix   string
	ext      string
	partSize uint64
	logger   *zerolog.Logger
}

func NewMinioSink(cfg config.StorageConfig, logger *zerolog.Logger) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	l := logger.With().Str("component", "minio_sink").Str("bucket", cfg.Bucket).Logger()
	return &MinioSink{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		ext:      cfg.Extension,
		partSize: cfg.PartSize,
		logger:   &l,
	}, nil
}

func (s *MinioSink) Key(jobID string) string { return objectKey(s.prefix, jobID, s.ext) }

func (s *MinioSink) Put(ctx context.Context, jobID string, r io.Reader) (*model.Artifact, error) {
	key := s.Key(jobID)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: artifactContentType,
		PartSize:    s.partSize,
		UserMetadata: map[string]string{
			"job-id": jobID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %w", domain.ErrSinkFailed, key, err)
	}
	s.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("artifact stored")
	return &model.Artifact{JobID: jobID, Key: key, Size: info.Size}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioSink) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	s.logger.Info().Msg("bucket created")
	return nil
}
