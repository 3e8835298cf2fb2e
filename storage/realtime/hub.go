package realtime

import (
	"context"
	"reflect"
	"sync"

	"github.com/trezcool/edusmart/core"
)

// subscription delivers snapshots of one path from its own goroutine.
// Only the latest pending snapshot is kept: a slow listener skips intermediate states.
type subscription struct {
	id   uint64
	path string
	segs []string
	fn   core.Listener
	hub  *hub

	mu      sync.Mutex
	pending *core.Snapshot
	last    interface{}
	offered bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

var _ core.Subscription = (*subscription)(nil)

func (s *subscription) offer(snap core.Snapshot) {
	s.mu.Lock()
	if s.offered && reflect.DeepEqual(s.last, snap.Value) {
		s.mu.Unlock()
		return
	}
	s.last = snap.Value
	s.offered = true
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
			s.mu.Lock()
			snap := s.pending
			s.pending = nil
			s.mu.Unlock()
			if snap != nil {
				select {
				case <-s.done:
					return
				default:
				}
				s.fn(*snap)
			}
		}
	}
}

// watches reports whether a change of the document key can alter the subscribed value.
func (s *subscription) watches(key string) bool {
	if len(s.segs) == 1 {
		return rootOf(key) == s.segs[0]
	}
	return docKey(s.segs) == key
}

func (s *subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s.id)
	})
}

// hub keeps track of the open subscriptions of a Store.
type hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscription)}
}

func (h *hub) add(ctx context.Context, path string, segs []string, fn core.Listener) *subscription {
	h.mu.Lock()
	h.nextID++
	sub := &subscription{
		id:     h.nextID,
		path:   path,
		segs:   segs,
		fn:     fn,
		hub:    h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()
	openSubscriptions.Inc()

	go sub.run()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		openSubscriptions.Dec()
	}
	h.mu.Unlock()
}

// affected returns the subscriptions watching any of keys.
func (h *hub) affected(keys []string) []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var subs []*subscription
	for _, sub := range h.subs {
		for _, k := range keys {
			if sub.watches(k) {
				subs = append(subs, sub)
				break
			}
		}
	}
	return subs
}

func (h *hub) all() []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (h *hub) closeAll() {
	for _, sub := range h.all() {
		sub.Close()
	}
}
