// Package redisstore persists realtime documents in Redis.
//
// Each document is a JSON string at {prefix}:doc:{key}; the set {prefix}:idx:{root} lists the
// documents of a root. Commits are WATCH/MULTI transactions and announce the changed keys on
// {prefix}:changes so that every process sharing the server can notify its subscribers.
package redisstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/storage/realtime"
	"github.com/trezcool/edusmart/storage/redisdb"
)

const maxCommitAttempts = 10

var ErrConflict = errors.New("too many concurrent writers")

type Backend struct {
	client *redis.Client
	prefix string
	logger core.Logger

	pubsub  *redis.PubSub
	changes chan []string
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var _ realtime.Backend = (*Backend)(nil)

// NewBackend subscribes to the change channel before returning.
func NewBackend(ctx context.Context, client *redis.Client, prefix string, logger core.Logger) (*Backend, error) {
	b := &Backend{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		changes: make(chan []string, 64),
		done:    make(chan struct{}),
	}
	b.pubsub = client.Subscribe(ctx, b.channel())
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, errors.Wrap(err, "subscribing to changes")
	}
	b.wg.Add(1)
	go b.listen()
	return b, nil
}

// NewStore returns a core.Store persisted in redis.
func NewStore(ctx context.Context, client *redis.Client, prefix string, logger core.Logger) (*realtime.Store, error) {
	b, err := NewBackend(ctx, client, prefix, logger)
	if err != nil {
		return nil, err
	}
	return realtime.New(b, logger), nil
}

func (b *Backend) docKey(key string) string {
	return redisdb.Key(b.prefix, "doc", key)
}

func (b *Backend) indexKey(root string) string {
	return redisdb.Key(b.prefix, "idx", root)
}

func (b *Backend) channel() string {
	return redisdb.Key(b.prefix, "changes")
}

func (b *Backend) listen() {
	defer b.wg.Done()
	defer close(b.changes)
	for msg := range b.pubsub.ChannelWithSubscriptions() {
		var keys []string
		switch msg := msg.(type) {
		case *redis.Subscription:
			// resubscribed after a reconnection: messages may have been lost, resync
			if msg.Kind != "subscribe" {
				continue
			}
		case *redis.Message:
			if msg.Payload == "" {
				continue
			}
			keys = strings.Split(msg.Payload, "\n")
		default:
			continue
		}
		select {
		case b.changes <- keys:
		case <-b.done:
			return
		}
	}
}

// members returns the document keys listed under roots.
func (b *Backend) members(ctx context.Context, c redis.Cmdable, roots []string) ([]string, error) {
	var keys []string
	for _, r := range roots {
		m, err := c.SMembers(ctx, b.indexKey(r)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "listing %q", r)
		}
		keys = append(keys, m...)
	}
	return keys, nil
}

func (b *Backend) load(ctx context.Context, c redis.Cmdable, keys []string) (realtime.Docs, error) {
	docs := make(realtime.Docs, len(keys))
	if len(keys) == 0 {
		return docs, nil
	}
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = b.docKey(k)
	}
	vals, err := c.MGet(ctx, rkeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "loading documents")
	}
	for i, v := range vals {
		docs[keys[i]] = nil
		s, ok := v.(string)
		if !ok {
			continue
		}
		var doc interface{}
		if err = json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, errors.Wrapf(err, "decoding %q", keys[i])
		}
		docs[keys[i]] = doc
	}
	return docs, nil
}

func (b *Backend) Load(ctx context.Context, keys, roots []string) (realtime.Docs, error) {
	members, err := b.members(ctx, b.client, roots)
	if err != nil {
		return nil, err
	}
	return b.load(ctx, b.client, append(append([]string{}, keys...), members...))
}

func (b *Backend) Commit(ctx context.Context, keys, roots []string, fn func(realtime.Docs) error) ([]string, error) {
	watched := make([]string, 0, len(keys)+len(roots))
	for _, k := range keys {
		watched = append(watched, b.docKey(k))
	}
	for _, r := range roots {
		watched = append(watched, b.indexKey(r))
	}

	var changed realtime.Docs
	txf := func(tx *redis.Tx) error {
		members, err := b.members(ctx, tx, roots)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			mkeys := make([]string, len(members))
			for i, m := range members {
				mkeys[i] = b.docKey(m)
			}
			if err = tx.Watch(ctx, mkeys...).Err(); err != nil {
				return errors.Wrap(err, "watching documents")
			}
		}
		docs, err := b.load(ctx, tx, append(append([]string{}, keys...), members...))
		if err != nil {
			return err
		}
		if changed, err = realtime.Stage(docs, fn); err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, doc := range changed {
				if doc == nil {
					pipe.Del(ctx, b.docKey(k))
					pipe.SRem(ctx, b.indexKey(realtime.Root(k)), k)
					continue
				}
				data, err := json.Marshal(doc)
				if err != nil {
					return errors.Wrapf(err, "encoding %q", k)
				}
				pipe.Set(ctx, b.docKey(k), data, 0)
				pipe.SAdd(ctx, b.indexKey(realtime.Root(k)), k)
			}
			pipe.Publish(ctx, b.channel(), strings.Join(changed.Keys(), "\n"))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err := b.client.Watch(ctx, txf, watched...)
		if err == nil {
			return changed.Keys(), nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, errors.Wrap(err, "redis transaction")
		}
	}
	return nil, ErrConflict
}

func (b *Backend) Changes() <-chan []string {
	return b.changes
}

// Close stops the change feed; the client stays open for its owner to close.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
		b.wg.Wait()
	})
	return errors.Wrap(err, "closing pubsub")
}
