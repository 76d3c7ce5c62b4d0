// Package s3 is the blob store for uploaded media (story images, post attachments).
// Objects are addressed by key; URLs handed to clients are derived from the key and
// can be mapped back with KeyFromURL when a referencing document is deleted.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/signalmax/signalmax/pkg/observability/logger"
)

var (
	// ErrObjectNotFound is returned when the referenced blob does not exist (already deleted).
	ErrObjectNotFound = errors.New("s3 object not found")
	// ErrInvalidKey classifies empty keys and URLs that do not point into the bucket.
	ErrInvalidKey = errors.New("s3 invalid object key")
)

// Config defines the blob store configuration.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UsePathStyle    bool
	// PublicBaseURL, when set, prefixes keys to build client URLs (CDN or gateway).
	PublicBaseURL    string
	OperationTimeout time.Duration
	PresignExpiry    time.Duration
}

// Validate checks the required fields.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, errors.New("s3 bucket is required"))
	}
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("aws region is required"))
	}
	if c.PublicBaseURL != "" {
		if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid public base url %q", c.PublicBaseURL))
		}
	}
	return errors.Join(errs...)
}

type s3API interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Adapter provides blob operations backed by the S3 API.
type Adapter struct {
	client  s3API
	presign presignAPI
	logger  logger.Logger
	config  Config

	mu     sync.RWMutex
	closed bool
}

// NewAdapter creates the adapter and verifies bucket accessibility.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	adapter := &Adapter{
		client:  client,
		presign: awss3.NewPresignClient(client),
		logger:  log,
		config:  cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := adapter.Ping(ctx); err != nil {
		return nil, err
	}

	log.Info("blob store initialized", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

// Ping verifies that the configured bucket is accessible.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	if _, err := a.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(a.config.Bucket)}); err != nil {
		return fmt.Errorf("s3 ping failed: %w", err)
	}
	return nil
}

// Upload stores body under key and returns the URL clients should reference.
func (a *Adapter) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if err := a.ensureOpen(); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if body == nil {
		return "", errors.New("object body is required")
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.PutObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := a.client.PutObject(opCtx, input); err != nil {
		return "", fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	return a.PublicURL(key), nil
}

// Delete removes the object at key. A missing object yields ErrObjectNotFound,
// which cascade deletes treat as success.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	// DeleteObject succeeds on missing keys, so existence is checked first.
	if _, err := a.client.HeadObject(opCtx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to stat object %q: %w", key, err)
	}
	if _, err := a.client.DeleteObject(opCtx, &awss3.DeleteObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	a.logger.Debug("blob deleted", "key", key)
	return nil
}

// DeleteURL resolves rawURL with KeyFromURL and deletes the object.
func (a *Adapter) DeleteURL(ctx context.Context, rawURL string) error {
	key, err := a.KeyFromURL(rawURL)
	if err != nil {
		return err
	}
	return a.Delete(ctx, key)
}

// PresignGetURL generates a temporary download URL.
func (a *Adapter) PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := a.ensureOpen(); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = a.config.PresignExpiry
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	resp, err := a.presign.PresignGetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	}, func(opts *awss3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %q: %w", key, err)
	}
	return resp.URL, nil
}

// PublicURL builds the stable URL of key.
func (a *Adapter) PublicURL(key string) string {
	escaped := escapeKey(strings.TrimLeft(key, "/"))
	switch {
	case a.config.PublicBaseURL != "":
		return strings.TrimRight(a.config.PublicBaseURL, "/") + "/" + escaped
	case a.config.Endpoint != "":
		return strings.TrimRight(a.config.Endpoint, "/") + "/" + a.config.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.config.Bucket, a.config.Region, escaped)
	}
}

// KeyFromURL maps a stored URL back to an object key. Accepted forms are URLs built by
// PublicURL, path-style and virtual-host S3 URLs of the bucket, Firebase-style download
// URLs (".../o/<escaped key>?alt=media") and bare keys.
func (a *Adapter) KeyFromURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidKey)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return cleanKey(rawURL)
	}

	if base := strings.TrimRight(a.config.PublicBaseURL, "/"); base != "" && strings.HasPrefix(rawURL, base+"/") {
		rest := strings.SplitN(strings.TrimPrefix(rawURL, base+"/"), "?", 2)[0]
		return unescapeKey(rest)
	}

	p := u.EscapedPath()
	if i := strings.Index(p, "/o/"); i >= 0 {
		return unescapeKey(p[i+len("/o/"):])
	}
	if strings.HasPrefix(u.Host, a.config.Bucket+".") {
		return unescapeKey(strings.TrimPrefix(p, "/"))
	}
	if prefix := "/" + a.config.Bucket + "/"; strings.HasPrefix(p, prefix) {
		return unescapeKey(strings.TrimPrefix(p, prefix))
	}
	return "", fmt.Errorf("%w: %s is outside bucket %s", ErrInvalidKey, rawURL, a.config.Bucket)
}

// HealthCheck verifies the adapter can reach the bucket within a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("blob store health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter as closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

func (a *Adapter) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("s3 adapter is closed")
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *awss3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *awss3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: object key is required", ErrInvalidKey)
	}
	return key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func unescapeKey(escaped string) (string, error) {
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return cleanKey(key)
}
