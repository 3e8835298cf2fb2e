package inmem

import (
	"context"
	"sync"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/storage/realtime"
)

// Backend keeps documents in process memory.
type Backend struct {
	mutex sync.RWMutex
	docs  map[string]interface{}
}

var _ realtime.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{docs: make(map[string]interface{})}
}

// NewStore returns a core.Store kept in memory.
func NewStore(logger core.Logger) *realtime.Store {
	return realtime.New(NewBackend(), logger)
}

func (b *Backend) load(keys, roots []string) realtime.Docs {
	docs := make(realtime.Docs, len(keys))
	for _, k := range keys {
		docs[k] = b.docs[k]
	}
	if len(roots) > 0 {
		wanted := make(map[string]bool, len(roots))
		for _, r := range roots {
			wanted[r] = true
		}
		for k, doc := range b.docs {
			if wanted[realtime.Root(k)] {
				docs[k] = doc
			}
		}
	}
	return docs
}

func (b *Backend) Load(_ context.Context, keys, roots []string) (realtime.Docs, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.load(keys, roots), nil
}

func (b *Backend) Commit(_ context.Context, keys, roots []string, fn func(realtime.Docs) error) ([]string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	changed, err := realtime.Stage(b.load(keys, roots), fn)
	if err != nil {
		return nil, err
	}
	for k, doc := range changed {
		if doc == nil {
			delete(b.docs, k)
		} else {
			b.docs[k] = doc
		}
	}
	return changed.Keys(), nil
}

func (b *Backend) Changes() <-chan []string {
	return nil
}

func (b *Backend) Close() error {
	return nil
}
