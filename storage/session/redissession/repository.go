// Package redissession keeps sessions in Redis; expiry is left to key TTLs.
package redissession

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/storage/redisdb"
)

type repository struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ session.Repository = (*repository)(nil)

func NewRepository(client *redis.Client, prefix string) session.Repository {
	return &repository{client: client, prefix: prefix, now: time.Now}
}

func (repo *repository) key(id string) string {
	return redisdb.Key(repo.prefix, "session", id)
}

func (repo *repository) Save(ctx context.Context, sess session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		if ttl = sess.ExpiresAt.Sub(repo.now()); ttl <= 0 {
			return repo.Delete(ctx, sess.ID)
		}
	}
	return errors.Wrap(repo.client.Set(ctx, repo.key(sess.ID), data, ttl).Err(), "saving session")
}

func (repo *repository) Get(ctx context.Context, id string) (session.Session, error) {
	data, err := repo.client.Get(ctx, repo.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, session.ErrNotFound
	} else if err != nil {
		return session.Session{}, errors.Wrap(err, "reading session")
	}
	var sess session.Session
	if err = json.Unmarshal(data, &sess); err != nil {
		return session.Session{}, errors.Wrap(err, "decoding session")
	}
	return sess, nil
}

func (repo *repository) Delete(ctx context.Context, id string) error {
	return errors.Wrap(repo.client.Del(ctx, repo.key(id)).Err(), "deleting session")
}

// DeleteExpired is a no-op: Redis expires the keys itself.
func (repo *repository) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
