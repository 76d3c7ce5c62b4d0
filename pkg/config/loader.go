package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is used when no prefix is configured.
const DefaultEnvPrefix = "SIGNALMAX"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to SIGNALMAX)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// ConfigFile returns the explicit configuration file, if any.
func (l *ViperLoader) ConfigFile() string { return l.configFile }

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

// LoadWithSecrets loads configuration with separate secrets file support.
// Precedence: ENV > secrets file > config file > defaults
//
// The secrets file is optional and discovered in this order:
// <PREFIX>_SECRETS_FILE, secrets.<ext> next to the config file, secrets.yaml in the
// working directory. The returned secrets Config holds only what the file set and is
// meant for Settings masking.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	return l.load(true)
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		secretsFile, err := l.discoverSecretsFile()
		if err != nil {
			return nil, nil, err
		}
		if secretsFile != "" {
			sv := viper.New()
			sv.SetConfigFile(secretsFile)
			if err := sv.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
			}
			secrets = &Config{}
			if err := sv.Unmarshal(secrets); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
			}
			if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
				return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
			}
		}
	}

	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	bindings := []struct {
		key  string
		envs []string
	}{
		{"service.name", []string{"SERVICE_NAME"}},
		{"service.environment", []string{"SERVICE_ENVIRONMENT", "ENVIRONMENT"}},

		{"observability.log_level", []string{"LOG_LEVEL"}},
		{"observability.log_format", []string{"LOG_FORMAT"}},
		{"observability.tracing_enabled", []string{"TRACING_ENABLED"}},
		{"observability.tracing_sample_rate", []string{"TRACING_SAMPLE_RATE"}},
		{"observability.tracing_endpoint", []string{"TRACING_ENDPOINT"}},
		{"observability.metrics_file", []string{"METRICS_FILE"}},

		{"database.type", []string{"DB_TYPE", "DATABASE_TYPE"}},
		{"database.url", []string{"DB_URL", "DATABASE_URL"}},
		{"database.database_name", []string{"DB_DATABASE_NAME", "DB_NAME"}},
		{"database.max_open_conns", []string{"DB_MAX_OPEN_CONNS"}},
		{"database.max_idle_conns", []string{"DB_MAX_IDLE_CONNS"}},
		{"database.conn_max_lifetime", []string{"DB_CONN_MAX_LIFETIME"}},
		{"database.conn_max_idle_time", []string{"DB_CONN_MAX_IDLE_TIME"}},
		{"database.query_timeout", []string{"DB_QUERY_TIMEOUT"}},
		{"database.connect_timeout", []string{"DB_CONNECT_TIMEOUT"}},

		{"cache.type", []string{"CACHE_TYPE"}},
		{"cache.url", []string{"CACHE_URL", "REDIS_URL"}},
		{"cache.max_conns", []string{"CACHE_MAX_CONNS"}},
		{"cache.operation_timeout", []string{"CACHE_OPERATION_TIMEOUT"}},
		{"cache.prefix", []string{"CACHE_PREFIX"}},

		{"object_storage.enabled", []string{"OBJECT_STORAGE_ENABLED"}},
		{"object_storage.type", []string{"OBJECT_STORAGE_TYPE"}},
		{"object_storage.s3.bucket", []string{"S3_BUCKET"}},
		{"object_storage.s3.region", []string{"S3_REGION"}},
		{"object_storage.s3.endpoint", []string{"S3_ENDPOINT"}},
		{"object_storage.s3.access_key_id", []string{"S3_ACCESS_KEY_ID"}},
		{"object_storage.s3.secret_access_key", []string{"S3_SECRET_ACCESS_KEY"}},
		{"object_storage.s3.session_token", []string{"S3_SESSION_TOKEN"}},
		{"object_storage.s3.use_path_style", []string{"S3_USE_PATH_STYLE"}},
		{"object_storage.s3.public_base_url", []string{"S3_PUBLIC_BASE_URL"}},
		{"object_storage.s3.operation_timeout", []string{"S3_OPERATION_TIMEOUT"}},
		{"object_storage.s3.presign_expiry", []string{"S3_PRESIGN_EXPIRY"}},

		{"feed.collection", []string{"FEED_COLLECTION"}},
		{"feed.order_by", []string{"FEED_ORDER_BY"}},
		{"feed.page_size", []string{"FEED_PAGE_SIZE"}},
		{"feed.live_tail_policy", []string{"FEED_LIVE_TAIL_POLICY"}},

		{"deletion.batch_size", []string{"DELETION_BATCH_SIZE"}},
		{"deletion.timeout", []string{"DELETION_TIMEOUT"}},
		{"deletion.claim_ttl", []string{"DELETION_CLAIM_TTL"}},

		{"push.driver", []string{"PUSH_DRIVER"}},
		{"push.endpoint", []string{"PUSH_ENDPOINT"}},
		{"push.api_key", []string{"PUSH_API_KEY"}},
		{"push.rate_per_second", []string{"PUSH_RATE_PER_SECOND"}},
		{"push.burst", []string{"PUSH_BURST"}},
		{"push.operation_timeout", []string{"PUSH_OPERATION_TIMEOUT"}},
		{"push.scan_page_size", []string{"PUSH_SCAN_PAGE_SIZE"}},
		{"push.queue_url", []string{"PUSH_QUEUE_URL"}},
		{"push.region", []string{"PUSH_REGION"}},
		{"push.sqs_endpoint", []string{"PUSH_SQS_ENDPOINT"}},
		{"push.access_key_id", []string{"PUSH_ACCESS_KEY_ID"}},
		{"push.secret_access_key", []string{"PUSH_SECRET_ACCESS_KEY"}},
		{"push.breaker_max_failures", []string{"PUSH_BREAKER_MAX_FAILURES"}},
		{"push.breaker_cooldown", []string{"PUSH_BREAKER_COOLDOWN"}},
	}
	for _, b := range bindings {
		args := make([]string, 0, len(b.envs)+1)
		args = append(args, b.key)
		for _, suffix := range b.envs {
			args = append(args, l.prefixedEnv(suffix))
		}
		_ = v.BindEnv(args...)
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// discoverSecretsFile returns "" when no secrets file exists. An explicit but unusable
// <PREFIX>_SECRETS_FILE is an error.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(secretsEnv); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, path)
		}
		return path, nil
	}

	var candidates []string
	if l.configFile != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile)))
	}
	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		candidates = append(candidates, "secrets"+ext)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

// setDefaults registers every key so env bindings and Unmarshal see the full tree.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.metrics_file", cfg.Observability.MetricsFile)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.url", cfg.Cache.URL)
	v.SetDefault("cache.max_conns", cfg.Cache.MaxConns)
	v.SetDefault("cache.operation_timeout", cfg.Cache.OperationTimeout)
	v.SetDefault("cache.prefix", cfg.Cache.Prefix)

	v.SetDefault("object_storage.enabled", cfg.ObjectStorage.Enabled)
	v.SetDefault("object_storage.type", cfg.ObjectStorage.Type)
	v.SetDefault("object_storage.s3.bucket", cfg.ObjectStorage.S3.Bucket)
	v.SetDefault("object_storage.s3.region", cfg.ObjectStorage.S3.Region)
	v.SetDefault("object_storage.s3.endpoint", cfg.ObjectStorage.S3.Endpoint)
	v.SetDefault("object_storage.s3.access_key_id", cfg.ObjectStorage.S3.AccessKeyID)
	v.SetDefault("object_storage.s3.secret_access_key", cfg.ObjectStorage.S3.SecretAccessKey)
	v.SetDefault("object_storage.s3.session_token", cfg.ObjectStorage.S3.SessionToken)
	v.SetDefault("object_storage.s3.use_path_style", cfg.ObjectStorage.S3.UsePathStyle)
	v.SetDefault("object_storage.s3.public_base_url", cfg.ObjectStorage.S3.PublicBaseURL)
	v.SetDefault("object_storage.s3.operation_timeout", cfg.ObjectStorage.S3.OperationTimeout)
	v.SetDefault("object_storage.s3.presign_expiry", cfg.ObjectStorage.S3.PresignExpiry)

	v.SetDefault("feed.collection", cfg.Feed.Collection)
	v.SetDefault("feed.order_by", cfg.Feed.OrderBy)
	v.SetDefault("feed.page_size", cfg.Feed.PageSize)
	v.SetDefault("feed.live_tail_policy", cfg.Feed.LiveTailPolicy)

	v.SetDefault("deletion.batch_size", cfg.Deletion.BatchSize)
	v.SetDefault("deletion.timeout", cfg.Deletion.Timeout)
	v.SetDefault("deletion.claim_ttl", cfg.Deletion.ClaimTTL)

	v.SetDefault("push.driver", cfg.Push.Driver)
	v.SetDefault("push.endpoint", cfg.Push.Endpoint)
	v.SetDefault("push.api_key", cfg.Push.APIKey)
	v.SetDefault("push.rate_per_second", cfg.Push.RatePerSecond)
	v.SetDefault("push.burst", cfg.Push.Burst)
	v.SetDefault("push.operation_timeout", cfg.Push.OperationTimeout)
	v.SetDefault("push.scan_page_size", cfg.Push.ScanPageSize)
	v.SetDefault("push.queue_url", cfg.Push.QueueURL)
	v.SetDefault("push.region", cfg.Push.Region)
	v.SetDefault("push.sqs_endpoint", cfg.Push.SQSEndpoint)
	v.SetDefault("push.access_key_id", cfg.Push.AccessKeyID)
	v.SetDefault("push.secret_access_key", cfg.Push.SecretAccessKey)
	v.SetDefault("push.breaker_max_failures", cfg.Push.BreakerMaxFailures)
	v.SetDefault("push.breaker_cooldown", cfg.Push.BreakerCooldown)
}
