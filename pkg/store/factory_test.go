package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalmax/signalmax/pkg/config"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

func TestNewObjectStorageAdapter_Disabled(t *testing.T) {
	adapter, err := NewObjectStorageAdapter(config.ObjectStorageConfig{Enabled: false}, logger.NewNop())
	if err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if adapter != nil {
		t.Fatalf("expected nil adapter when disabled")
	}
}

func TestNewObjectStorageAdapter_UnsupportedType(t *testing.T) {
	_, err := NewObjectStorageAdapter(config.ObjectStorageConfig{Enabled: true, Type: "unknown"}, logger.NewNop())
	if err == nil || !strings.Contains(err.Error(), "unsupported object_storage.type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewObjectStorageAdapter_S3ValidationError(t *testing.T) {
	_, err := NewObjectStorageAdapter(config.ObjectStorageConfig{
		Enabled: true,
		Type:    "s3",
		S3:      config.ObjectStorageS3Config{Region: "eu-west-1"},
	}, logger.NewNop())
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "bucket") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewStorageAdapter(t *testing.T) {
	adapter, err := NewStorageAdapter(config.DatabaseConfig{Type: config.DatabaseTypeMemory}, logger.NewNop())
	if err != nil || adapter != nil {
		t.Fatalf("memory: adapter=%v err=%v", adapter, err)
	}
	if _, err := NewStorageAdapter(config.DatabaseConfig{Type: "unknown"}, logger.NewNop()); err == nil {
		t.Fatal("expected unsupported type error")
	}
	if _, err := NewStorageAdapter(config.DatabaseConfig{Type: config.DatabaseTypePostgres}, logger.NewNop()); err == nil {
		t.Fatal("expected missing URL error")
	}
}

func TestNewCacheAdapter(t *testing.T) {
	adapter, err := NewCacheAdapter(config.CacheConfig{Type: config.CacheTypeInMemory}, logger.NewNop())
	if err != nil || adapter != nil {
		t.Fatalf("inmemory: adapter=%v err=%v", adapter, err)
	}
	if _, err := NewCacheAdapter(config.CacheConfig{Type: "memcached"}, logger.NewNop()); err == nil {
		t.Fatal("expected unsupported type error")
	}
	if _, err := NewCacheAdapter(config.CacheConfig{Type: config.CacheTypeRedis}, logger.NewNop()); err == nil {
		t.Fatal("expected missing URL error")
	}
}

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), config.DefaultConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.Storage != nil || b.Cache != nil || b.Blobs != nil {
		t.Fatalf("unexpected backends %+v", b)
	}
	ctx := context.Background()
	if err := b.Documents.Commit(ctx, []document.Write{document.Set("posts", "p1", map[string]any{"content": "hi"})}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := b.Documents.Get(ctx, "posts", "p1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpen_ClosesOnError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Type = "cassandra"
	if _, err := Open(context.Background(), cfg, logger.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBackends_CloseReverseOrderJoinsErrors(t *testing.T) {
	var order []string
	b := &Backends{}
	b.onClose(func() error { order = append(order, "first"); return errors.New("first failed") })
	b.onClose(func() error { order = append(order, "second"); return nil })
	err := b.Close()
	if err == nil || !strings.Contains(err.Error(), "first failed") {
		t.Fatalf("unexpected error %v", err)
	}
	if strings.Join(order, ",") != "second,first" {
		t.Fatalf("close order %v", order)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
