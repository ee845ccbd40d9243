package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/resulthub/internal/models"
)

func seededMemoryStore() *MemoryStore {
	s := NewMemoryStore()
	s.PutResult(models.Record{"_id": "R1", "session_id": "S1", "result_type": "mx:index", "timestamp": "2024-01-01T10:00:00Z"})
	s.PutResult(models.Record{"_id": "R2", "session_id": "S1", "result_type": "mx:integrate", "timestamp": "2024-01-01T12:00:00Z"})
	s.PutResult(models.Record{"_id": "R3", "session_id": "S1", "result_type": "mx:index+strategy", "timestamp": "2024-01-01T11:00:00Z"})
	s.PutResult(models.Record{"_id": "R4", "session_id": "S2", "result_type": "mx:index", "timestamp": "2024-01-01T13:00:00Z"})
	return s
}

func ids(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, idOf(r))
	}
	return out
}

func TestMemoryStore_ListResults(t *testing.T) {
	s := seededMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name   string
		filter ResultFilter
		want   []string
	}{
		{"all, newest first", ResultFilter{All: true}, []string{"R2", "R3", "R1"}},
		{"data", ResultFilter{Types: []string{"mx:index", "mx:integrate"}}, []string{"R2", "R1"}},
		{"snap", ResultFilter{Types: []string{"mx:index+strategy"}}, []string{"R3"}},
		{"empty class", ResultFilter{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListResults(ctx, "S1", tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestMemoryStore_GetDetailCreatesIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	kind := Descriptor{Namespace: "mx", Subtype: "index", Index: "mx_index_results", Generic: true}

	assert.False(t, s.HasIndex(kind.Index))
	_, err := s.GetDetail(ctx, kind, "R1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, s.HasIndex(kind.Index))

	s.PutDetail(kind.Index, models.Record{"_id": "R1", "process": map[string]interface{}{"image1_id": "IMG1"}})
	rec, err := s.GetDetail(ctx, kind, "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", rec["_id"])
}

func TestMemoryStore_Images(t *testing.T) {
	s := NewMemoryStore()
	s.PutImage(models.Record{"_id": "IMG1", "fullname": "/data/img_001.cbf"})

	rec, err := s.GetImage(context.Background(), "IMG1")
	require.NoError(t, err)
	assert.Equal(t, "/data/img_001.cbf", rec["fullname"])

	// returned records are copies
	rec["fullname"] = "changed"
	again, _ := s.GetImage(context.Background(), "IMG1")
	assert.Equal(t, "/data/img_001.cbf", again["fullname"])

	_, err = s.GetImage(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateResult(t *testing.T) {
	s := seededMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpdateResult(ctx, "R1", models.Record{"_id": "ignored", "display": "pinned"}))
	got, err := s.ListResults(ctx, "S1", ResultFilter{Types: []string{"mx:index"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pinned", got[0]["display"])
	assert.Equal(t, "R1", got[0]["_id"])

	assert.ErrorIs(t, s.UpdateResult(ctx, "missing", models.Record{"display": "x"}), ErrNotFound)
}
