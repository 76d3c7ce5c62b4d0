package config

import "time"

// Database type constants
const (
	// DatabaseTypeMemory keeps every collection in process; used for development and tests.
	DatabaseTypeMemory = "memory"
	// DatabaseTypeMongoDB stores documents in MongoDB and subscribes through change streams.
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypePostgres stores documents as JSONB rows; subscriptions go through the change bus.
	DatabaseTypePostgres = "postgres"
)

// Cache type constants
const (
	CacheTypeInMemory = "inmemory"
	CacheTypeRedis    = "redis"
)

// Push driver constants
const (
	PushDriverLog  = "log"
	PushDriverHTTP = "http"
	PushDriverSQS  = "sqs"
)

// Live-tail policies accepted by feed.live_tail_policy.
const (
	LiveTailPrepend        = "prepend"
	LiveTailDeferredBanner = "deferred-banner"
)

// MaxDeletionBatchSize caps deletion.batch_size.
const MaxDeletionBatchSize = 500

// Config is the root configuration of the SignalMax feed core.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	ObjectStorage ObjectStorageConfig `mapstructure:"object_storage"`
	Feed          FeedConfig          `mapstructure:"feed"`
	Deletion      DeletionConfig      `mapstructure:"deletion"`
	Push          PushConfig          `mapstructure:"push"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ObservabilityConfig configures logging, tracing and the metrics dump.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	// MetricsFile receives the Prometheus text exposition when a command exits.
	MetricsFile string `mapstructure:"metrics_file"`
}

// DatabaseConfig selects the ordered collection backend.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // memory, mongodb, postgres
	URL             string        `mapstructure:"url" secret:"true"`
	DatabaseName    string        `mapstructure:"database_name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// CacheConfig configures the change bus and the cascade claims.
type CacheConfig struct {
	Type             string        `mapstructure:"type"` // inmemory, redis
	URL              string        `mapstructure:"url" secret:"true"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Prefix           string        `mapstructure:"prefix"`
}

// ObjectStorageConfig configures blob storage for story and post images.
type ObjectStorageConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	Type    string                `mapstructure:"type"` // s3
	S3      ObjectStorageS3Config `mapstructure:"s3"`
}

// ObjectStorageS3Config configures S3-compatible object storage.
type ObjectStorageS3Config struct {
	Bucket           string        `mapstructure:"bucket"`
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" secret:"true"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" secret:"true"`
	SessionToken     string        `mapstructure:"session_token" secret:"true"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
	PublicBaseURL    string        `mapstructure:"public_base_url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PresignExpiry    time.Duration `mapstructure:"presign_expiry"`
}

// FeedConfig configures the paginated feed.
type FeedConfig struct {
	Collection     string `mapstructure:"collection"`
	OrderBy        string `mapstructure:"order_by"`
	PageSize       int    `mapstructure:"page_size"`
	LiveTailPolicy string `mapstructure:"live_tail_policy"`
}

// DeletionConfig configures subtree deletion and cascades.
type DeletionConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ClaimTTL  time.Duration `mapstructure:"claim_ttl"`
}

// PushConfig configures the push gateway.
type PushConfig struct {
	Driver           string        `mapstructure:"driver"` // log, http, sqs
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key" secret:"true"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ScanPageSize     int           `mapstructure:"scan_page_size"`
	QueueURL         string        `mapstructure:"queue_url"`
	Region           string        `mapstructure:"region"`
	SQSEndpoint      string        `mapstructure:"sqs_endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" secret:"true"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" secret:"true"`

	// BreakerMaxFailures consecutive gateway failures open the breaker; 0 disables it.
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{Name: "signalmax", Environment: "development"},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypeMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
			ConnectTimeout:  10 * time.Second,
		},
		Cache: CacheConfig{
			Type:             CacheTypeInMemory,
			MaxConns:         10,
			OperationTimeout: 5 * time.Second,
			Prefix:           "signalmax",
		},
		ObjectStorage: ObjectStorageConfig{
			Type: "s3",
			S3: ObjectStorageS3Config{
				OperationTimeout: 30 * time.Second,
				PresignExpiry:    15 * time.Minute,
			},
		},
		Feed: FeedConfig{
			Collection:     "posts",
			OrderBy:        "createdAt",
			PageSize:       10,
			LiveTailPolicy: LiveTailDeferredBanner,
		},
		Deletion: DeletionConfig{
			BatchSize: 100,
			Timeout:   10 * time.Minute,
			ClaimTTL:  10 * time.Minute,
		},
		Push: PushConfig{
			Driver:             PushDriverLog,
			OperationTimeout:   10 * time.Second,
			ScanPageSize:       500,
			Burst:              1,
			BreakerMaxFailures: 5,
			BreakerCooldown:    30 * time.Second,
		},
	}
}
