package inmemsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core/session"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

	sess := session.Session{ID: "a", Profiles: []session.Profile{{Name: "Asha"}}, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, sess))
	require.NoError(t, repo.Save(ctx, session.Session{ID: "b", ExpiresAt: now}))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.Profiles[0].Name = "changed"
	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Profiles[0].Name, "stored sessions are copies")

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.Get(ctx, "b")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "a"))
	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
