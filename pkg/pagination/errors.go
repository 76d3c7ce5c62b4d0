package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed wraps a read failure of the collection source. The window is unchanged
	// and the same call may be retried.
	ErrFetchFailed = errors.New("pagination fetch failed")
	// ErrEmptyPage reports that a navigation cursor no longer resolves to any document,
	// typically after concurrent deletes. Callers fall back to LoadFirst.
	ErrEmptyPage = errors.New("pagination empty page")
	// ErrNoPageLoaded is returned by navigation before a successful LoadFirst.
	ErrNoPageLoaded = errors.New("pagination no page loaded")
	// ErrNoNextPage is returned by LoadNext when the last load reported no next page.
	ErrNoNextPage = errors.New("pagination no next page")
	// ErrNoPreviousPage is returned by LoadPrevious on page 1.
	ErrNoPreviousPage = errors.New("pagination no previous page")
	// ErrInvalidPageSize rejects non-positive page sizes.
	ErrInvalidPageSize = errors.New("pagination invalid page size")
)

func paginationError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

func fetchFailed(collection string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrFetchFailed, collection, cause)
}
