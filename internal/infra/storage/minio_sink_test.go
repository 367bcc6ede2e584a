//go:build integration

package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"schematic-pipeline/internal/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

func TestMinioSink_Integration(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set")
	}
	ctx := context.Background()
	logger := zerolog.Nop()
	cfg := config.StorageConfig{
		Driver:    "minio",
		Endpoint:  endpoint,
		Bucket:    "test-" + uuid.NewString()[:8],
		AccessKey: envOr("TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("TEST_MINIO_SECRET_KEY", "minioadmin"),
		Extension: ".schem",
		PartSize:  5 << 20,
	}
	sink, err := NewMinioSink(cfg, &logger)
	if err != nil {
		t.Fatalf("NewMinioSink: %v", err)
	}
	if err := sink.EnsureBucket(ctx, ""); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := sink.EnsureBucket(ctx, ""); err != nil {
		t.Fatalf("EnsureBucket twice: %v", err)
	}

	art, err := sink.Put(ctx, "job-1", strings.NewReader("NBT-DATA"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if art.Key != "job-1.schem" || art.Size != 8 {
		t.Errorf("unexpected artifact %+v", art)
	}

	obj, err := sink.client.GetObject(ctx, cfg.Bucket, art.Key, minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer obj.Close()
	b, _ := io.ReadAll(obj)
	if string(b) != "NBT-DATA" {
		t.Errorf("unexpected content %q", b)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
