// Package store is the hub's client of the document store holding results,
// per-kind detail records and image headers.
package store

import (
	"context"
	"errors"

	"github.com/telhawk-systems/resulthub/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrUnknownClass = errors.New("unknown result class")
)

// ResultFilter selects which result types a catch-up query returns.
type ResultFilter struct {
	// All disables type filtering.
	All bool
	// Types lists accepted result_type values. Empty with All unset matches
	// nothing.
	Types []string
}

// MatchesNothing reports whether the filter can be answered without a query.
func (f ResultFilter) MatchesNothing() bool {
	return !f.All && len(f.Types) == 0
}

// Store is read-mostly from the hub's perspective; the only write is the
// partial update of a result's display fields.
type Store interface {
	// GetImage returns one image header record.
	GetImage(ctx context.Context, id string) (models.Record, error)

	// ListResults returns the session's results ordered by timestamp
	// descending.
	ListResults(ctx context.Context, session string, filter ResultFilter) ([]models.Record, error)

	// GetDetail returns one detail record of the given kind.
	GetDetail(ctx context.Context, kind Descriptor, id string) (models.Record, error)

	// UpdateResult merges fields into the stored result.
	UpdateResult(ctx context.Context, id string, fields models.Record) error
}
