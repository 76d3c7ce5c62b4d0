// Package deletion removes unbounded child collections in bounded atomic batches and
// runs the cascade cleanups that follow the removal of a user or a course.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/observability/tracing"
	"github.com/signalmax/signalmax/pkg/repository/document"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBatchSize = 100
	MaxBatchSize     = 500
)

// Store is what a deletion needs from a backend.
type Store interface {
	document.Source
	document.Batcher
}

// Config configures a Deleter. A zero BatchSize means DefaultBatchSize.
type Config struct {
	BatchSize int
}

// Result counts committed batches and deleted documents.
type Result struct {
	Batches int
	Deleted int
}

func (r *Result) add(o Result) {
	r.Batches += o.Batches
	r.Deleted += o.Deleted
}

// BatchVisitor sees every batch before it is deleted. Returning an error aborts the
// deletion without committing that batch.
type BatchVisitor func(ctx context.Context, docs []document.Document) error

// CommittedFunc sees every batch after its deletion has committed, for cleanups that must
// not run when the batch fails.
type CommittedFunc func(ctx context.Context, docs []document.Document)

// Deleter runs batched deletions against one store.
type Deleter struct {
	store     Store
	batchSize int
	logger    logger.Logger
}

// NewDeleter validates cfg and builds a Deleter.
func NewDeleter(store Store, cfg Config, log logger.Logger) (*Deleter, error) {
	if store == nil {
		return nil, errors.New("deletion store is required")
	}
	size := cfg.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if size < 1 || size > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidBatchSize, size, MaxBatchSize)
	}
	return &Deleter{store: store, batchSize: size, logger: logger.OrNop(log).With("component", "deletion")}, nil
}

// BatchSize returns the effective batch size.
func (d *Deleter) BatchSize() int { return d.batchSize }

// DeleteCollection empties the collection at path.
func (d *Deleter) DeleteCollection(ctx context.Context, path string) (Result, error) {
	return d.DeleteQuery(ctx, document.Query{Collection: path}, nil)
}

// DeleteQuery deletes every document matching the filters of q, batchSize at a time.
//
// Each round reads the first batch ordered by document id and commits its deletion as one
// atomic write; the loop ends when a read comes back empty. Between rounds the goroutine
// yields and ctx is checked, so a cancelled job stops before scheduling the next batch.
func (d *Deleter) DeleteQuery(ctx context.Context, q document.Query, visit BatchVisitor) (Result, error) {
	return d.DeleteQueryThen(ctx, q, visit, nil)
}

// DeleteQueryThen is DeleteQuery with committed called after each batch lands.
func (d *Deleter) DeleteQueryThen(ctx context.Context, q document.Query, visit BatchVisitor, committed CommittedFunc) (Result, error) {
	q.OrderBy = document.IDField
	q.Order = document.SortAsc
	q.Limit = d.batchSize
	q.Start = nil
	if err := q.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, partial(q.Collection, res, err)
		}
		n, err := d.deleteBatch(ctx, q, visit, committed)
		if err != nil {
			d.logger.WithContext(ctx).Error("batch deletion failed",
				"collection", q.Collection, "batches", res.Batches, "deleted", res.Deleted, "error", err)
			return res, partial(q.Collection, res, err)
		}
		if n == 0 {
			d.logger.WithContext(ctx).Debug("collection emptied", "collection", q.Collection, "batches", res.Batches, "deleted", res.Deleted)
			return res, nil
		}
		res.Batches++
		res.Deleted += n
		runtime.Gosched()
	}
}

// deleteBatch reads and deletes one batch, returning the number of documents removed.
func (d *Deleter) deleteBatch(ctx context.Context, q document.Query, visit BatchVisitor, committed CommittedFunc) (n int, err error) {
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBDelete,
		tracing.WithDBTable(metricCollection(q.Collection)),
		tracing.WithCount("db.batch.limit", q.Limit),
	)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		} else {
			span.SetAttributes(attribute.Int("db.batch.deleted", n))
			tracing.RecordSuccess(span)
		}
		span.End()
	}()

	docs, err := d.store.Find(ctx, q)
	if err != nil {
		recordBatch(q.Collection, "read_failed", 0)
		return 0, fmt.Errorf("read batch: %w", err)
	}
	if len(docs) == 0 {
		recordBatch(q.Collection, "empty", 0)
		return 0, nil
	}
	if visit != nil {
		if err := visit(ctx, docs); err != nil {
			recordBatch(q.Collection, "visit_failed", 0)
			return 0, err
		}
	}
	if err := d.store.Commit(ctx, document.DeleteDocs(docs)); err != nil {
		recordBatch(q.Collection, "commit_failed", 0)
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	recordBatch(q.Collection, "committed", len(docs))
	if committed != nil {
		committed(ctx, docs)
	}
	return len(docs), nil
}

// Job is a deletion running on its own goroutine.
type Job struct {
	Path string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result Result
	err    error
}

// Start runs DeleteCollection in the background. Failures are logged; callers that care
// observe them through Wait. Cancelling ctx (or calling Cancel) stops the job before its
// next batch.
func (d *Deleter) Start(ctx context.Context, path string) *Job {
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{Path: path, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(job.done)
		defer cancel()
		res, err := d.run(ctx, path)
		job.mu.Lock()
		job.result, job.err = res, err
		job.mu.Unlock()
		if err != nil {
			d.logger.WithContext(ctx).Warn("background deletion stopped", "collection", path, "deleted", res.Deleted, "error", err)
		}
	}()
	return job
}

func (d *Deleter) run(ctx context.Context, path string) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = partial(path, res, fmt.Errorf("panic while deleting: %v; stack=%s", rec, string(debug.Stack())))
		}
	}()
	return d.DeleteCollection(ctx, path)
}

// Wait blocks until the job ends or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel asks the job to stop before its next batch.
func (j *Job) Cancel() { j.cancel() }
