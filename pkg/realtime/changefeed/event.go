// Package changefeed gives document stores without a native change stream (the
// PostgreSQL JSONB source) a standing subscription: committed writes are published on a
// bus as before/after images and subscribers classify them against their query.
package changefeed

import (
	"strings"
	"time"

	"github.com/signalmax/signalmax/pkg/repository/document"
)

// Event is the before/after image of one document touched by a committed batch.
// Before is nil for a created document, After for a deleted one.
type Event struct {
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Before     *document.Document `json:"before,omitempty"`
	After      *document.Document `json:"after,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Channel names the bus channel of a collection.
func Channel(collection string) string {
	return "changes:" + collection
}

func rootCollection(collection string) string {
	if i := strings.IndexByte(collection, '/'); i >= 0 {
		return collection[:i]
	}
	if collection == "" {
		return "unknown"
	}
	return collection
}
