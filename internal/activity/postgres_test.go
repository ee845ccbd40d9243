package activity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations
func setupTestDatabase(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("resulthub_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(connStr))
	// a second run is a no-op
	require.NoError(t, Migrate(connStr))

	repo, err := NewPostgresRepository(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestPostgresRepository_InsertAndList(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, typ := range []string{"get_results", "get_result_details", "update_result"} {
		require.NoError(t, repo.Insert(ctx, &Record{
			ID:        uuid.New().String(),
			Source:    SourceWebsocket,
			Type:      typ,
			Subtype:   "mx_index",
			UserID:    "user-1",
			SessionID: "S1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Insert(ctx, &Record{
		ID: uuid.New().String(), Source: SourceWebsocket, Type: "get_results", UserID: "user-2", CreatedAt: base,
	}))

	got, err := repo.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "update_result", got[0].Type)
	assert.Equal(t, "get_results", got[2].Type)
	assert.Equal(t, "S1", got[0].SessionID)

	got, err = repo.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPostgresRepository_WithRecorder(t *testing.T) {
	repo := setupTestDatabase(t)

	rec := NewRecorder(repo, 5*time.Second, nil)
	rec.Record("user-9", "get_result_details", "mx_integrate", "")
	rec.Wait()

	got, err := repo.ListByUser(context.Background(), "user-9", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mx_integrate", got[0].Subtype)
}

func TestNewPostgresRepository_BadConnString(t *testing.T) {
	_, err := NewPostgresRepository(context.Background(), "://not-a-url")
	assert.Error(t, err)
}
