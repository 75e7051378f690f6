package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemux/imagemux/pkg/types"
)

func record(id, dept, user string, status types.Status, createdAt time.Time) *types.GenerationRecord {
	return &types.GenerationRecord{
		ID: id,
		Request: types.GenerationRequest{
			ID:           id,
			UserID:       user,
			DepartmentID: dept,
			Prompt:       "a quiet harbor at dawn",
			ImageCount:   1,
			Size:         types.SizeSquare,
		},
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := record("req-1", "design", "u-1", types.StatusCompleted, time.Now())
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)

	// Stored copy is isolated from later mutation.
	rec.Status = types.StatusFailed
	got, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, record("req-1", "design", "u-1", types.StatusCompleted, base)))
	require.NoError(t, store.Save(ctx, record("req-2", "design", "u-2", types.StatusFailed, base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, record("req-3", "marketing", "u-1", types.StatusCompleted, base.Add(2*time.Minute))))

	byDept, err := store.List(ctx, ListFilter{DepartmentID: "design"})
	require.NoError(t, err)
	require.Len(t, byDept, 2)
	assert.Equal(t, "req-2", byDept[0].ID) // most recent first

	byStatus, err := store.List(ctx, ListFilter{Status: types.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	limited, err := store.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "req-3", limited[0].ID)
}
