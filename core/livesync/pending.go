package livesync

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/trezcool/edusmart/core"
)

type pendingWrite struct {
	epoch   uint64
	value   interface{}
	settled bool // the write returned; dropped by the next Settle
}

// Pending tracks optimistic writes, keyed by store path.
// While a path has a write in flight its optimistic value overlays every snapshot. Once the write
// ends, whatever it returned, the value keeps overlaying until the next snapshot, which is trusted.
type Pending struct {
	mu     sync.Mutex
	epoch  uint64
	writes map[string]pendingWrite
}

func NewPending() *Pending {
	return &Pending{writes: make(map[string]pendingWrite)}
}

// Begin records values as in flight and returns their epoch.
func (p *Pending) Begin(values map[string]interface{}) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	for path, value := range values {
		p.writes[core.JoinPath(path)] = pendingWrite{epoch: p.epoch, value: normalize(value)}
	}
	return p.epoch
}

// End marks the paths written at epoch as settled. A path rewritten by a later epoch stays in flight.
func (p *Pending) End(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, w := range p.writes {
		if w.epoch == epoch {
			w.settled = true
			p.writes[path] = w
		}
	}
}

// Settle drops the settled writes; it is called when a snapshot arrives.
func (p *Pending) Settle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for path, w := range p.writes {
		if w.settled {
			delete(p.writes, path)
			n++
		}
	}
	return n
}

func (p *Pending) InFlight(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writes[core.JoinPath(path)]
	return ok && !w.settled
}

// Len returns the number of paths with a write in flight.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, w := range p.writes {
		if !w.settled {
			n++
		}
	}
	return n
}

// Overlay returns tree (the value at root) with the in-flight writes below root applied, oldest first.
// tree is never modified.
func (p *Pending) Overlay(root string, tree interface{}) interface{} {
	type entry struct {
		segs []string
		pendingWrite
	}
	prefix := core.JoinPath(root) + "/"

	p.mu.Lock()
	entries := make([]entry, 0, len(p.writes))
	for path, w := range p.writes {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, entry{segs: strings.Split(strings.TrimPrefix(path, prefix), "/"), pendingWrite: w})
		}
	}
	p.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].epoch != entries[j].epoch {
			return entries[i].epoch < entries[j].epoch
		}
		return len(entries[i].segs) < len(entries[j].segs)
	})
	for _, e := range entries {
		tree = overlayAt(tree, e.segs, e.value)
	}
	return tree
}

// normalize turns value into its JSON tree form so later overlays can descend into it.
func normalize(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out interface{}
	if err = json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

// overlayAt sets value below node, copying every map on the way down.
func overlayAt(node interface{}, segs []string, value interface{}) interface{} {
	if len(segs) == 0 {
		return value
	}
	m, _ := node.(map[string]interface{})
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	child := overlayAt(out[segs[0]], segs[1:], value)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	return out
}
