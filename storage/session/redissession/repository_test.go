package redissession

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core/session"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	repo := &repository{client: client, prefix: "test", now: func() time.Time { return now }}

	sess := session.Session{
		ID:        "s1",
		Role:      session.RoleStudent,
		SchoolID:  "school",
		Profiles:  []session.Profile{{StudentID: "st1", Name: "Asha", Phone: "1"}},
		Theme:     session.ThemeDark,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.Save(ctx, sess))
	assert.Equal(t, time.Hour, srv.TTL("test:session:s1"))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.Profiles, got.Profiles)
	assert.Equal(t, session.ThemeDark, got.Theme)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))

	srv.FastForward(time.Hour)
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, repo.Save(ctx, sess))
	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	// already expired sessions are not stored
	sess.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.Save(ctx, sess))
	assert.False(t, srv.Exists("test:session:s1"))
}
