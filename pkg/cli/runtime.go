package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalmax/signalmax/pkg/config"
	"github.com/signalmax/signalmax/pkg/deletion"
	"github.com/signalmax/signalmax/pkg/health"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/observability/metrics"
	"github.com/signalmax/signalmax/pkg/observability/tracing"
	"github.com/signalmax/signalmax/pkg/push"
	"github.com/signalmax/signalmax/pkg/resilience"
	"github.com/signalmax/signalmax/pkg/store"
	"github.com/signalmax/signalmax/pkg/version"
)

// BackendsFactory opens the backends named by the configuration.
type BackendsFactory func(ctx context.Context, cfg *config.Config, log logger.Logger) (*store.Backends, error)

// GatewayFactory creates the push gateway.
type GatewayFactory func(cfg config.PushConfig, log logger.Logger) (push.Gateway, error)

// Runtime is what one command invocation runs against. Close releases it and dumps the
// metrics textfile when one is configured.
type Runtime struct {
	Config   *config.Config
	Logger   logger.Logger
	Backends *store.Backends
	Health   *health.Registry

	tracer  *tracing.TracerProvider
	gateway push.Gateway
	newGW   GatewayFactory
}

// NewRuntime starts tracing and opens the backends. Gateways are created on first use.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, open BackendsFactory, newGW GatewayFactory) (*Runtime, error) {
	if open == nil {
		open = store.Open
	}
	if newGW == nil {
		newGW = NewPushGateway
	}
	log = logger.OrNop(log)

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	backends, err := open(ctx, cfg, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open backends: %w", err)
	}

	rt := &Runtime{
		Config:   cfg,
		Logger:   log,
		Backends: backends,
		Health:   health.NewRegistry(),
		tracer:   tp,
		newGW:    newGW,
	}
	rt.registerChecks()
	return rt, nil
}

func (r *Runtime) registerChecks() {
	timeout := r.Config.Database.ConnectTimeout
	if r.Backends.Storage != nil {
		r.Health.Register(health.NewAdapterChecker(r.Config.Database.Type, r.Backends.Storage, timeout))
	}
	if r.Backends.Cache != nil {
		r.Health.Register(health.NewOptionalChecker("redis", r.Backends.Cache, r.Config.Cache.OperationTimeout))
	}
	if r.Backends.Blobs != nil {
		r.Health.Register(health.NewOptionalChecker("s3", r.Backends.Blobs, r.Config.ObjectStorage.S3.OperationTimeout))
	}
}

// Gateway returns the push gateway, creating it on first use. Gateways with a health
// check are added to the health registry.
func (r *Runtime) Gateway() (push.Gateway, error) {
	if r.gateway != nil {
		return r.gateway, nil
	}
	gw, err := r.newGW(r.Config.Push, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("create push gateway: %w", err)
	}
	if c, ok := gw.(health.Checkable); ok {
		r.Health.Register(health.NewAdapterChecker("push", c, r.Config.Push.OperationTimeout))
	}
	r.gateway = gw
	return gw, nil
}

// PushService builds the targeted push service over the users collection.
func (r *Runtime) PushService() (*push.Service, error) {
	gw, err := r.Gateway()
	if err != nil {
		return nil, err
	}
	return push.NewService(r.Backends.Documents, gw, push.ServiceConfig{
		ScanPageSize: r.Config.Push.ScanPageSize,
		GatewayName:  r.Config.Push.Driver,
	}, r.Logger)
}

// Deleter builds the subtree deleter.
func (r *Runtime) Deleter() (*deletion.Deleter, error) {
	return deletion.NewDeleter(r.Backends.Documents, deletion.Config{BatchSize: r.Config.Deletion.BatchSize}, r.Logger)
}

// Cascade builds the owner-removal cascade. Blob deletion and claims are wired only when
// their backends are configured.
func (r *Runtime) Cascade() (*deletion.Cascade, error) {
	d, err := r.Deleter()
	if err != nil {
		return nil, err
	}
	cfg := deletion.CascadeConfig{ClaimTTL: r.Config.Deletion.ClaimTTL}
	if r.Backends.Blobs != nil {
		cfg.Blobs = r.Backends.Blobs
	}
	if r.Backends.Cache != nil {
		cfg.Claims = r.Backends.Cache
	}
	return deletion.NewCascade(d, cfg, r.Logger)
}

// Close shuts everything down and writes the metrics textfile.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.gateway != nil {
		if err := r.gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close push gateway: %w", err))
		}
	}
	if err := r.Backends.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backends: %w", err))
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	if path := r.Config.Observability.MetricsFile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		} else {
			r.Logger.Debug("metrics written", "path", path)
		}
	}
	return errors.Join(errs...)
}

// NewPushGateway maps the push configuration onto a gateway driver.
func NewPushGateway(cfg config.PushConfig, log logger.Logger) (push.Gateway, error) {
	breaker := resilience.Config{MaxFailures: cfg.BreakerMaxFailures, Cooldown: cfg.BreakerCooldown}
	return push.NewGateway(push.Config{
		Driver: cfg.Driver,
		HTTP: push.HTTPConfig{
			Endpoint:         cfg.Endpoint,
			APIKey:           cfg.APIKey,
			OperationTimeout: cfg.OperationTimeout,
			RatePerSecond:    cfg.RatePerSecond,
			Burst:            cfg.Burst,
			Breaker:          breaker,
		},
		SQS: push.SQSConfig{
			Region:           cfg.Region,
			QueueURL:         cfg.QueueURL,
			Endpoint:         cfg.SQSEndpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			OperationTimeout: cfg.OperationTimeout,
			Breaker:          breaker,
		},
	}, log)
}
