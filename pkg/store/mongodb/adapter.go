package mongodb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Adapter owns the MongoDB client used by the document source.
type Adapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Validate reports missing connection settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("mongodb URL is required")
	}
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("mongodb database is required")
	}
	return nil
}

// Cosa fa: apre il client MongoDB e verifica la connettività via ping.
// Cosa NON fa: non crea indici; le query ordinate si aspettano un indice (campo, _id).
// Esempio minimo: adapter, err := mongodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

func (a *Adapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

// Collection maps a nested collection path ("users/u1/notifications") to a
// MongoDB collection ("users.u1.notifications").
func (a *Adapter) Collection(path string) *mongo.Collection {
	return a.Database().Collection(CollectionName(path))
}

// CollectionName is the MongoDB name used for a collection path.
func CollectionName(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

// Find runs a filtered, sorted, limited query and decodes every result.
func (a *Adapter) Find(ctx context.Context, collection string, filter any, opts *options.FindOptions, results any) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.WithOperationTimeout(ctx)
	defer cancel()
	cur, err := a.Collection(collection).Find(opCtx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(opCtx, results)
}

func (a *Adapter) FindOne(ctx context.Context, collection string, filter any, result any) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.WithOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).FindOne(opCtx, filter).Decode(result)
}

// Cosa fa: esegue fn dentro una transazione multi-documento (richiede replica set).
// Cosa NON fa: non ritenta fn oltre ai retry interni del driver sui TransientTransactionError.
// Esempio minimo: err := adapter.WithTransaction(ctx, func(sc context.Context) error { ... })
func (a *Adapter) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.WithOperationTimeout(ctx)
	defer cancel()

	session, err := a.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongodb session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(opCtx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// Watch opens a change stream on a collection. The stream lives as long as ctx.
func (a *Adapter) Watch(ctx context.Context, collection string, pipeline any, opts *options.ChangeStreamOptions) (*mongo.ChangeStream, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	return a.Collection(collection).Watch(ctx, pipeline, opts)
}

// WithOperationTimeout bounds ctx by the adapter timeout unless the caller set a deadline.
func (a *Adapter) WithOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Adapter) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("mongodb adapter is closed")
	}
	return nil
}
