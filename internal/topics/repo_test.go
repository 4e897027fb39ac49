package topics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabriclabs/unshub/internal/types"
)

// repoContract runs the shared Repository contract.
func repoContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	_, ok, err := repo.GetByTopic(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	saved, err := repo.Save(ctx, types.TopicConfiguration{
		Topic:  "plc/line1/temp",
		Active: true,
		NSPath: "Enterprise1/KPI",
		Metadata: map[string]string{
			"unit": "celsius",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.False(t, saved.CreatedAt.IsZero())

	got, ok, err := repo.GetByTopic(ctx, "plc/line1/temp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, saved.ID, got.ID)
	require.Equal(t, "Enterprise1/KPI", got.NSPath)
	require.Equal(t, "celsius", got.Metadata["unit"])

	// Upsert keeps identity, bumps ModifiedAt.
	time.Sleep(2 * time.Millisecond)
	saved2, err := repo.Save(ctx, types.TopicConfiguration{
		Topic:  "plc/line1/temp",
		Active: true,
		NSPath: "Enterprise1/KPI/MyKPI",
	})
	require.NoError(t, err)
	require.Equal(t, saved.ID, saved2.ID)
	require.True(t, saved2.ModifiedAt.After(saved.ModifiedAt))

	// Verify stamps the principal.
	require.NoError(t, repo.Verify(ctx, saved.ID, "operator1"))
	got, _, err = repo.GetByTopic(ctx, "plc/line1/temp")
	require.NoError(t, err)
	require.Equal(t, "operator1", got.VerifiedBy)
	require.NotNil(t, got.VerifiedAt)

	_, err = repo.Save(ctx, types.TopicConfiguration{Topic: "other", Active: true})
	require.NoError(t, err)
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, saved.ID))
	_, ok, err = repo.GetByTopic(ctx, "plc/line1/temp")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, repo.Delete(ctx, saved.ID), ErrNotFound)
	require.ErrorIs(t, repo.Verify(ctx, "nope", "x"), ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	repoContract(t, NewMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer repo.Close()
	repoContract(t, repo)
}
