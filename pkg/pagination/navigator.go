package pagination

import (
	"context"
	"errors"

	"github.com/signalmax/signalmax/pkg/observability/logger"
)

// Navigator applies the user-facing navigation policy on top of a Window: an empty page
// after navigation silently falls back to the first page, while fetch failures are
// returned with the rendered page left intact.
type Navigator[T any] struct {
	window *Window[T]
	logger logger.Logger
}

// NewNavigator wraps w.
func NewNavigator[T any](w *Window[T], log logger.Logger) *Navigator[T] {
	return &Navigator[T]{window: w, logger: logger.OrNop(log)}
}

// Window returns the wrapped window.
func (n *Navigator[T]) Window() *Window[T] { return n.window }

// Next loads the next page, or page 1 when the next page vanished.
func (n *Navigator[T]) Next(ctx context.Context) (Page[T], error) {
	return n.orFirst(ctx, n.window.LoadNext)
}

// Previous loads the previous page, or page 1 when the recorded boundary vanished.
func (n *Navigator[T]) Previous(ctx context.Context) (Page[T], error) {
	return n.orFirst(ctx, n.window.LoadPrevious)
}

func (n *Navigator[T]) orFirst(ctx context.Context, load func(context.Context) (Page[T], error)) (Page[T], error) {
	page, err := load(ctx)
	if !errors.Is(err, ErrEmptyPage) {
		return page, err
	}
	q := n.window.Query()
	recordFallback(q.Collection)
	n.logger.WithContext(ctx).Info("page vanished, reloading first page", "collection", q.Collection, "page", n.window.PageNumber())
	return n.window.LoadFirst(ctx, q, n.window.PageSize())
}
