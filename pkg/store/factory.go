package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalmax/signalmax/pkg/config"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/realtime/changefeed"
	"github.com/signalmax/signalmax/pkg/repository/document"
	"github.com/signalmax/signalmax/pkg/store/mongodb"
	"github.com/signalmax/signalmax/pkg/store/postgres"
	redisstore "github.com/signalmax/signalmax/pkg/store/redis"
	"github.com/signalmax/signalmax/pkg/store/s3"
)

// Cosa fa: seleziona e inizializza lo storage adapter in base alla config.
// Cosa NON fa: non gestisce fallback tra provider diversi; "memory" non ha adapter.
// Esempio minimo: adp, err := store.NewStorageAdapter(cfg.Database, log)
func NewStorageAdapter(cfg config.DatabaseConfig, log logger.Logger) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypeMemory:
		return nil, nil
	case config.DatabaseTypePostgres:
		return postgres.NewAdapter(postgresConfig(cfg), log)
	case config.DatabaseTypeMongoDB:
		return mongodb.NewAdapter(mongoConfig(cfg), log)
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: memory, mongodb, postgres)", cfg.Type)
	}
}

// NewCacheAdapter returns nil for the in-memory cache.
func NewCacheAdapter(cfg config.CacheConfig, log logger.Logger) (*redisstore.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.CacheTypeInMemory:
		return nil, nil
	case config.CacheTypeRedis:
		return redisstore.NewAdapter(redisstore.Config{
			URL:              cfg.URL,
			MaxConns:         cfg.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
			Prefix:           cfg.Prefix,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported cache.type %q (supported: inmemory, redis)", cfg.Type)
	}
}

// NewObjectStorageAdapter returns nil when object storage is disabled.
func NewObjectStorageAdapter(cfg config.ObjectStorageConfig, log logger.Logger) (*s3.Adapter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "s3":
		return s3.NewAdapter(s3.Config{
			Bucket:           cfg.S3.Bucket,
			Region:           cfg.S3.Region,
			Endpoint:         cfg.S3.Endpoint,
			AccessKeyID:      cfg.S3.AccessKeyID,
			SecretAccessKey:  cfg.S3.SecretAccessKey,
			SessionToken:     cfg.S3.SessionToken,
			UsePathStyle:     cfg.S3.UsePathStyle,
			PublicBaseURL:    cfg.S3.PublicBaseURL,
			OperationTimeout: cfg.S3.OperationTimeout,
			PresignExpiry:    cfg.S3.PresignExpiry,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported object_storage.type %q (supported: s3)", cfg.Type)
	}
}

// Open connects every configured backend and composes the document store:
//
//   - memory: one in-process store with native subscriptions
//   - mongodb: change streams serve subscriptions
//   - postgres: JSONB rows plus a change bus, Redis when cache.type is redis
//
// On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	log = logger.OrNop(log)
	b := &Backends{}
	if err := b.open(ctx, cfg, log); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	cache, err := NewCacheAdapter(cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if cache != nil {
		b.Cache = cache
		b.onClose(cache.Close)
	}

	blobs, err := NewObjectStorageAdapter(cfg.ObjectStorage, log)
	if err != nil {
		return fmt.Errorf("open object storage: %w", err)
	}
	if blobs != nil {
		b.Blobs = blobs
		b.onClose(blobs.Close)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Database.Type)) {
	case config.DatabaseTypeMemory:
		mem := document.NewMemory()
		b.Documents = mem
		b.onClose(mem.Close)
		return nil

	case config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongoConfig(cfg.Database), log)
		if err != nil {
			return fmt.Errorf("open mongodb: %w", err)
		}
		b.Storage = adapter
		b.onClose(adapter.Close)
		source, err := document.NewMongoSource(adapter, log)
		if err != nil {
			return err
		}
		b.Documents = source
		return nil

	case config.DatabaseTypePostgres:
		adapter, err := postgres.NewAdapter(postgresConfig(cfg.Database), log)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		b.Storage = adapter
		b.onClose(adapter.Close)
		source := document.NewSQLSource(adapter, log)
		if err := source.EnsureSchema(ctx); err != nil {
			return err
		}
		bus, err := newBus(cache, log)
		if err != nil {
			return err
		}
		b.onClose(bus.Close)
		feed, err := changefeed.NewStore(source, bus, log)
		if err != nil {
			return err
		}
		b.Documents = feed
		return nil

	default:
		return fmt.Errorf("unsupported database.type %q (supported: memory, mongodb, postgres)", cfg.Database.Type)
	}
}

func newBus(cache *redisstore.Adapter, log logger.Logger) (changefeed.Bus, error) {
	if cache == nil {
		log.Warn("postgres without redis cache: change events stay in this process")
		return changefeed.NewInMemoryBus(), nil
	}
	return changefeed.NewRedisBus(cache, log)
}

func postgresConfig(cfg config.DatabaseConfig) postgres.Config {
	return postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		QueryTimeout:    cfg.QueryTimeout,
	}
}

func mongoConfig(cfg config.DatabaseConfig) mongodb.Config {
	return mongodb.Config{
		URL:              cfg.URL,
		Database:         cfg.DatabaseName,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.QueryTimeout,
	}
}
