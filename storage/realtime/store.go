// Package realtime implements core.Store on top of a document Backend.
//
// The first two segments of a path name a document ("schools/s1"); a single segment path
// addresses every document under that root. Backends only ever load and commit whole documents,
// the tree operations and change fan-out live here.
package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

type (
	// Backend persists documents.
	Backend interface {
		// Load returns the documents named by keys plus every document under roots.
		Load(ctx context.Context, keys, roots []string) (Docs, error)
		// Commit atomically loads the same documents as Load, lets fn mutate them and persists the
		// difference. It returns the keys of the documents that changed.
		Commit(ctx context.Context, keys, roots []string, fn func(Docs) error) ([]string, error)
		// Changes streams keys changed by other processes sharing the backend; nil when there are none.
		// A nil batch means changes may have been missed, after a reconnection for instance.
		Changes() <-chan []string
		Close() error
	}

	Store struct {
		backend Backend
		logger  core.Logger
		hub     *hub

		// publishMu orders reads-then-offers so that subscribers never see an older value after a newer one.
		publishMu sync.Mutex

		mu     sync.RWMutex
		closed bool
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

var _ core.Store = (*Store)(nil)

func New(backend Backend, logger core.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend: backend,
		logger:  logger,
		hub:     newHub(),
		cancel:  cancel,
	}
	if ch := backend.Changes(); ch != nil {
		s.wg.Add(1)
		go s.follow(ctx, ch)
	}
	return s
}

// follow publishes changes committed by other processes.
func (s *Store) follow(ctx context.Context, ch <-chan []string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case keys, ok := <-ch:
			if !ok {
				return
			}
			if keys == nil {
				s.logger.Warn("store listener reconnected, resyncing subscriptions")
				s.offer(ctx, s.hub.all())
				continue
			}
			s.publish(ctx, keys)
		}
	}
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) Get(ctx context.Context, path string) (core.Snapshot, error) {
	if s.isClosed() {
		return core.Snapshot{}, core.ErrStoreClosed
	}
	segs, err := core.SplitPath(path)
	if err != nil {
		return core.Snapshot{}, err
	}
	return s.read(ctx, segs)
}

func (s *Store) read(ctx context.Context, segs []string) (core.Snapshot, error) {
	snap := core.Snapshot{Path: strings.Join(segs, "/")}
	if len(segs) == 1 {
		docs, err := s.backend.Load(ctx, nil, segs)
		if err != nil {
			return snap, errors.Wrapf(err, "loading %q", snap.Path)
		}
		snap.Value = collection(segs[0], docs)
		return snap, nil
	}
	key := docKey(segs)
	docs, err := s.backend.Load(ctx, []string{key}, nil)
	if err != nil {
		return snap, errors.Wrapf(err, "loading %q", snap.Path)
	}
	snap.Value = getAt(docs[key], segs[2:])
	return snap, nil
}

func (s *Store) Set(ctx context.Context, path string, value interface{}) error {
	return s.write(ctx, "set", map[string]interface{}{path: value}, nil)
}

func (s *Store) Update(ctx context.Context, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	return s.write(ctx, "update", values, nil)
}

func (s *Store) UpdateIfExists(ctx context.Context, values map[string]interface{}, required ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.write(ctx, "update", values, required)
}

func (s *Store) Push(ctx context.Context, path string, value interface{}) (string, error) {
	key := core.NewID()
	if err := s.write(ctx, "push", map[string]interface{}{core.JoinPath(path, key): value}, nil); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.write(ctx, "remove", map[string]interface{}{path: nil}, nil)
}

func (s *Store) write(ctx context.Context, op string, values map[string]interface{}, required []string) error {
	if s.isClosed() {
		return core.ErrStoreClosed
	}
	writes, err := planWrites(values)
	if err != nil {
		writeErrors.WithLabelValues(op).Inc()
		return err
	}
	guards, err := planGuards(required)
	if err != nil {
		writeErrors.WithLabelValues(op).Inc()
		return err
	}
	keys, roots := scope(writes)
	keys = guardScope(keys, guards)
	changed, err := s.backend.Commit(ctx, keys, roots, func(docs Docs) error {
		if err := checkGuards(docs, guards); err != nil {
			return err
		}
		apply(docs, writes)
		return nil
	})
	if err != nil {
		writeErrors.WithLabelValues(op).Inc()
		return errors.Wrapf(err, "committing %s", op)
	}
	writesTotal.WithLabelValues(op).Inc()
	if len(changed) > 0 {
		s.publish(ctx, changed)
	}
	return nil
}

// publish re-reads the value of every subscription affected by keys and offers it.
func (s *Store) publish(ctx context.Context, keys []string) {
	s.offer(ctx, s.hub.affected(keys))
}

// offer re-reads the paths of subs and hands each its current value.
func (s *Store) offer(ctx context.Context, subs []*subscription) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	// the write's ctx may be cancelled right after commit, subscribers must still be told
	ctx = context.WithoutCancel(ctx)
	cache := make(map[string]core.Snapshot)
	for _, sub := range subs {
		snap, ok := cache[sub.path]
		if !ok {
			var err error
			if snap, err = s.read(ctx, sub.segs); err != nil {
				s.logger.Error("reading subscribed path", errors.Wrap(err, sub.path))
				continue
			}
			cache[sub.path] = snap
		}
		sub.offer(snap)
	}
}

func (s *Store) Subscribe(ctx context.Context, path string, fn core.Listener) (core.Subscription, error) {
	if s.isClosed() {
		return nil, core.ErrStoreClosed
	}
	segs, err := core.SplitPath(path)
	if err != nil {
		return nil, err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	snap, err := s.read(ctx, segs)
	if err != nil {
		return nil, err
	}
	sub := s.hub.add(ctx, snap.Path, segs, fn)
	sub.offer(snap)
	return sub, nil
}

// Close ends every subscription and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.hub.closeAll()
	err := s.backend.Close()
	s.wg.Wait()
	return errors.Wrap(err, "closing backend")
}
