// Package repository persists generation records for history queries
// and post-hoc reconciliation against cost events.
package repository

import (
	"context"
	"errors"

	"github.com/imagemux/imagemux/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("repository: record not found")

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	DepartmentID string
	UserID       string
	Status       types.Status
	Limit        int
}

// Store persists generation records.
type Store interface {
	// Save inserts or replaces the record keyed by its request ID.
	Save(ctx context.Context, record *types.GenerationRecord) error

	// Get returns the record for the request ID or ErrNotFound.
	Get(ctx context.Context, id string) (*types.GenerationRecord, error)

	// List returns records matching the filter, most recent first.
	List(ctx context.Context, filter ListFilter) ([]*types.GenerationRecord, error)

	// Close releases underlying resources.
	Close() error
}
