package deletion

import (
	"errors"
	"fmt"
)

var (
	// ErrPartialDeletion reports a deletion that stopped before the collection was empty.
	// Batches committed before the failure stay deleted; nothing is retried.
	ErrPartialDeletion = errors.New("deletion partial")
	// ErrInvalidBatchSize rejects batch sizes outside 1..MaxBatchSize.
	ErrInvalidBatchSize = errors.New("deletion invalid batch size")
	// ErrUnknownTrigger rejects cascade triggers of an unknown kind.
	ErrUnknownTrigger = errors.New("deletion unknown trigger")
)

func partial(path string, res Result, cause error) error {
	return fmt.Errorf("%w: %s after %d batches (%d documents): %w", ErrPartialDeletion, path, res.Batches, res.Deleted, cause)
}
