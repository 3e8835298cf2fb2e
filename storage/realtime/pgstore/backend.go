// Package pgstore persists realtime documents in PostgreSQL.
//
// Documents live in the documents table as JSONB. Commits lock the touched rows and send the changed
// keys with pg_notify, which a pq.Listener turns into the change feed of every process.
package pgstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/storage/realtime"
)

const channel = "edusmart_changes"

type (
	Backend struct {
		db       *sqlx.DB
		logger   core.Logger
		listener *pq.Listener
		changes  chan []string
		done     chan struct{}
		once     sync.Once
		wg       sync.WaitGroup
	}

	row struct {
		Key string `db:"key"`
		Doc []byte `db:"doc"`
	}
)

var _ realtime.Backend = (*Backend)(nil)

// NewBackend listens for changes on dbURL; db must already be migrated.
func NewBackend(db *sqlx.DB, dbURL string, logger core.Logger) (*Backend, error) {
	b := &Backend{
		db:      db,
		logger:  logger,
		changes: make(chan []string, 64),
		done:    make(chan struct{}),
	}
	b.listener = pq.NewListener(dbURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres listener event", errors.Wrapf(err, "event %d", ev))
		}
	})
	if err := b.listener.Listen(channel); err != nil {
		_ = b.listener.Close()
		return nil, errors.Wrap(err, "listening for changes")
	}
	b.wg.Add(1)
	go b.listen()
	return b, nil
}

// NewStore returns a core.Store persisted in postgres.
func NewStore(db *sqlx.DB, dbURL string, logger core.Logger) (*realtime.Store, error) {
	b, err := NewBackend(db, dbURL, logger)
	if err != nil {
		return nil, err
	}
	return realtime.New(b, logger), nil
}

func (b *Backend) listen() {
	defer b.wg.Done()
	defer close(b.changes)
	for {
		select {
		case <-b.done:
			return
		case n, ok := <-b.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnection: notifications may have been lost, resync
			var keys []string
			if n != nil {
				if n.Extra == "" {
					continue
				}
				keys = strings.Split(n.Extra, "\n")
			}
			select {
			case b.changes <- keys:
			case <-b.done:
				return
			}
		case <-time.After(90 * time.Second):
			go func() { _ = b.listener.Ping() }()
		}
	}
}

func decode(rows []row) (realtime.Docs, error) {
	docs := make(realtime.Docs, len(rows))
	for _, r := range rows {
		var doc interface{}
		if err := json.Unmarshal(r.Doc, &doc); err != nil {
			return nil, errors.Wrapf(err, "decoding %q", r.Key)
		}
		docs[r.Key] = doc
	}
	return docs, nil
}

func (b *Backend) Load(ctx context.Context, keys, roots []string) (realtime.Docs, error) {
	var rows []row
	q := `SELECT key, doc FROM documents WHERE key = ANY($1) OR root = ANY($2)`
	if err := b.db.SelectContext(ctx, &rows, q, pq.Array(keys), pq.Array(roots)); err != nil {
		return nil, errors.Wrap(err, "selecting documents")
	}
	docs, err := decode(rows)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, ok := docs[k]; !ok {
			docs[k] = nil
		}
	}
	return docs, nil
}

func (b *Backend) Commit(ctx context.Context, keys, roots []string, fn func(realtime.Docs) error) (_ []string, err error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var rows []row
	q := `SELECT key, doc FROM documents WHERE key = ANY($1) OR root = ANY($2) ORDER BY key FOR UPDATE`
	if err = tx.SelectContext(ctx, &rows, q, pq.Array(keys), pq.Array(roots)); err != nil {
		return nil, errors.Wrap(err, "locking documents")
	}
	before, err := decode(rows)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, ok := before[k]; !ok {
			before[k] = nil
		}
	}

	changed, err := realtime.Stage(before, fn)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, tx.Rollback()
	}

	for _, k := range changed.Keys() {
		doc := changed[k]
		if doc == nil {
			if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE key = $1`, k); err != nil {
				return nil, errors.Wrapf(err, "deleting %q", k)
			}
			continue
		}
		data, mErr := json.Marshal(doc)
		if mErr != nil {
			err = errors.Wrapf(mErr, "encoding %q", k)
			return nil, err
		}
		q := `INSERT INTO documents (key, root, doc, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
		if _, err = tx.ExecContext(ctx, q, k, realtime.Root(k), data); err != nil {
			return nil, errors.Wrapf(err, "saving %q", k)
		}
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, strings.Join(changed.Keys(), "\n")); err != nil {
		return nil, errors.Wrap(err, "notifying changes")
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}
	return changed.Keys(), nil
}

func (b *Backend) Changes() <-chan []string {
	return b.changes
}

// Close stops the change feed; db stays open for its owner to close.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()
		err = b.listener.Close()
	})
	return errors.Wrap(err, "closing listener")
}
