package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const redactedValue = "********"

func (c *Config) normalize() {
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
	c.Push.Driver = strings.ToLower(strings.TrimSpace(c.Push.Driver))
	c.Feed.LiveTailPolicy = strings.ToLower(strings.TrimSpace(c.Feed.LiveTailPolicy))
	c.Observability.LogLevel = strings.ToLower(strings.TrimSpace(c.Observability.LogLevel))
	c.Observability.LogFormat = strings.ToLower(strings.TrimSpace(c.Observability.LogFormat))
}

// Validate reports every configuration violation at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	if !contains([]string{"debug", "info", "warn", "error"}, c.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: debug, info, warn, error)", c.Observability.LogLevel))
	}
	if !contains([]string{"json", "text"}, c.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be json or text)", c.Observability.LogFormat))
	}
	if c.Observability.TracingEnabled && strings.TrimSpace(c.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", c.Observability.TracingSampleRate))
	}

	switch c.Database.Type {
	case DatabaseTypeMemory:
	case DatabaseTypeMongoDB:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for MongoDB"))
		}
		if c.Database.DatabaseName == "" {
			errs = append(errs, errors.New("database.database_name is required for MongoDB"))
		}
	case DatabaseTypePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for PostgreSQL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: memory, mongodb, postgres)", c.Database.Type))
	}

	switch c.Cache.Type {
	case "", CacheTypeInMemory:
	case CacheTypeRedis:
		if c.Cache.URL == "" {
			errs = append(errs, errors.New("cache.url is required when cache.type is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cache.type: %s (must be inmemory or redis)", c.Cache.Type))
	}

	if c.ObjectStorage.Enabled {
		if !strings.EqualFold(c.ObjectStorage.Type, "s3") {
			errs = append(errs, fmt.Errorf("invalid object_storage.type: %s (must be s3)", c.ObjectStorage.Type))
		}
		if c.ObjectStorage.S3.Bucket == "" {
			errs = append(errs, errors.New("object_storage.s3.bucket is required when object storage is enabled"))
		}
		if c.ObjectStorage.S3.Region == "" {
			errs = append(errs, errors.New("object_storage.s3.region is required when object storage is enabled"))
		}
	}

	if strings.TrimSpace(c.Feed.Collection) == "" {
		errs = append(errs, errors.New("feed.collection is required"))
	}
	if strings.TrimSpace(c.Feed.OrderBy) == "" {
		errs = append(errs, errors.New("feed.order_by is required"))
	}
	if c.Feed.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize))
	}
	if !contains([]string{LiveTailPrepend, LiveTailDeferredBanner}, c.Feed.LiveTailPolicy) {
		errs = append(errs, fmt.Errorf("invalid feed.live_tail_policy: %s (must be prepend or deferred-banner)", c.Feed.LiveTailPolicy))
	}

	if c.Deletion.BatchSize < 1 || c.Deletion.BatchSize > MaxDeletionBatchSize {
		errs = append(errs, fmt.Errorf("deletion.batch_size must be between 1 and %d, got %d", MaxDeletionBatchSize, c.Deletion.BatchSize))
	}
	if c.Deletion.Timeout < 0 {
		errs = append(errs, errors.New("deletion.timeout must not be negative"))
	}

	switch c.Push.Driver {
	case PushDriverLog:
	case PushDriverHTTP:
		if c.Push.Endpoint == "" {
			errs = append(errs, errors.New("push.endpoint is required for the http driver"))
		}
	case PushDriverSQS:
		if c.Push.QueueURL == "" {
			errs = append(errs, errors.New("push.queue_url is required for the sqs driver"))
		}
		if c.Push.Region == "" {
			errs = append(errs, errors.New("push.region is required for the sqs driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid push.driver: %s (must be one of: log, http, sqs)", c.Push.Driver))
	}
	if c.Push.RatePerSecond < 0 {
		errs = append(errs, errors.New("push.rate_per_second must not be negative"))
	}
	if c.Push.ScanPageSize < 0 {
		errs = append(errs, errors.New("push.scan_page_size must not be negative"))
	}
	if c.Push.BreakerMaxFailures < 0 {
		errs = append(errs, errors.New("push.breaker_max_failures must not be negative"))
	}

	return errors.Join(errs...)
}

// Settings flattens the configuration into dotted keys. Fields tagged secret:"true"
// are masked when set, as are fields the secrets file provided.
func (c *Config) Settings(secrets *Config) map[string]string {
	out := map[string]string{}
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	flatten(reflect.ValueOf(c).Elem(), mask, "", out)
	return out
}

// String renders Settings(nil) sorted by key, one "key: value" per line.
func (c *Config) String() string {
	settings := c.Settings(nil)
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, settings[k])
	}
	return sb.String()
}

func flatten(v, mask reflect.Value, prefix string, out map[string]string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		var maskField reflect.Value
		if mask.IsValid() {
			maskField = mask.Field(i)
		}
		if value.Kind() == reflect.Struct {
			flatten(value, maskField, key, out)
			continue
		}
		secret := field.Tag.Get("secret") == "true" && !value.IsZero()
		if secret || (maskField.IsValid() && !maskField.IsZero()) {
			out[key] = redactedValue
			continue
		}
		out[key] = fmt.Sprintf("%v", value.Interface())
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
