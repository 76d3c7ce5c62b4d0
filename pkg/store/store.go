// Package store opens the configured backends: the ordered document store, the Redis
// cache behind the change bus and cascade claims, and the blob store for images.
package store

import (
	"context"
	"errors"

	"github.com/signalmax/signalmax/pkg/repository/document"
	redisstore "github.com/signalmax/signalmax/pkg/store/redis"
	"github.com/signalmax/signalmax/pkg/store/s3"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Backends is the set of opened backends. Storage, Cache and Blobs are nil when the
// configuration does not ask for them.
type Backends struct {
	Documents document.Store
	Storage   Adapter
	Cache     *redisstore.Adapter
	Blobs     *s3.Adapter

	closers []func() error
}

func (b *Backends) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Close releases every backend in reverse opening order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
