package document

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery classifies malformed queries (missing collection, unknown operator).
	ErrInvalidQuery = errors.New("document invalid query")
	// ErrInvalidCursor classifies cursor tokens that cannot be decoded.
	ErrInvalidCursor = errors.New("document invalid cursor")
	// ErrNotFound classifies reads or updates of a missing document.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidWrite classifies batch entries that cannot be applied.
	ErrInvalidWrite = errors.New("document invalid write")
	// ErrClosed classifies operations on a closed store or subscription.
	ErrClosed = errors.New("document store closed")
)

func documentError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
