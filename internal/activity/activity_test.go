package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct{}

func (failingRepo) Insert(context.Context, *Record) error { return errors.New("db down") }
func (failingRepo) ListByUser(context.Context, string, int) ([]*Record, error) {
	return nil, errors.New("db down")
}

func TestRecorder_Record(t *testing.T) {
	repo := NewInMemoryRepository()
	rec := NewRecorder(repo, time.Second, nil)

	rec.Record("user-1", "get_results", "mx:data_index", "S1")
	rec.Record("user-2", "get_result_details", "mx_index", "")
	rec.Wait()

	all := repo.All()
	require.Len(t, all, 2)

	got, err := repo.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SourceWebsocket, got[0].Source)
	assert.Equal(t, "get_results", got[0].Type)
	assert.Equal(t, "mx:data_index", got[0].Subtype)
	assert.Equal(t, "S1", got[0].SessionID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestRecorder_FailuresAreSwallowed(t *testing.T) {
	rec := NewRecorder(failingRepo{}, 10*time.Millisecond, nil)
	assert.NotPanics(t, func() {
		rec.Record("user-1", "get_results", "", "")
		rec.Wait()
	})
}

func TestRecorder_NilSafe(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Record("user-1", "get_results", "", "")
		rec.Wait()
	})

	noRepo := NewRecorder(nil, 0, nil)
	assert.Equal(t, 5*time.Second, noRepo.timeout)
	assert.NotPanics(t, func() { noRepo.Record("user-1", "update_result", "", "") })
}

func TestInMemoryRepository_ListLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, &Record{ID: string(rune('a' + i)), UserID: "u", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	got, err := repo.ListByUser(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}
