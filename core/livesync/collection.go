// Package livesync keeps live, reconciled views of the store: the batches of a tenant for the admin
// workspace, and the linked student profiles of a portal session.
package livesync

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
)

var ErrNoTenant = errors.New("no school selected")

type State int

const (
	// NoData means no tenant is set: nothing is subscribed.
	NoData State = iota
	// Loading means the first snapshot has not arrived yet.
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "no-data"
	}
}

// View is an immutable state of a BatchCollection. Observers must not modify it.
type View struct {
	Version         uint64
	State           State
	SchoolID        string
	Batches         []school.Batch
	Selected        *school.Batch
	SelectedStudent *school.Student
}

// Batch returns the batch of the view with id.
func (v View) Batch(id string) (school.Batch, bool) {
	for _, b := range v.Batches {
		if b.ID == id {
			return b, true
		}
	}
	return school.Batch{}, false
}

type CollectionOptions struct {
	// SortByName orders batches by name using the collation rules of Language,
	// instead of creation order.
	SortByName bool
	Language   language.Tag
	Logger     core.Logger
}

// BatchCollection mirrors schools/{id}/batches through a single store subscription.
type BatchCollection struct {
	store    core.Store
	opts     CollectionOptions
	pending  *Pending
	collator *collate.Collator

	mu         sync.Mutex
	ready      chan struct{} // closed on the first snapshot of the current tenant
	schoolID   string
	sub        core.Subscription
	gen        uint64
	version    uint64
	state      State
	tree       interface{} // last snapshot value
	view       View
	selBatch   string
	selStudent string

	notifyMu  sync.Mutex
	notified  uint64
	observers []func(View)
}

// NewBatchCollection subscribes to the batches of schoolID. It returns ErrNoTenant, along with a
// usable collection in the NoData state, when schoolID is empty.
func NewBatchCollection(store core.Store, schoolID string, opts CollectionOptions) (*BatchCollection, error) {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	if opts.Language == language.Und {
		opts.Language = language.English
	}
	c := &BatchCollection{
		store:    store,
		opts:     opts,
		pending:  NewPending(),
		collator: collate.New(opts.Language, collate.IgnoreCase),
	}
	return c, c.SetTenant(schoolID)
}

// SetTenant moves the collection to another tenant, releasing the previous subscription.
// The selection is cleared. An empty schoolID leaves the collection in the NoData state.
func (c *BatchCollection) SetTenant(schoolID string) error {
	c.mu.Lock()
	if c.sub != nil && schoolID == c.schoolID {
		c.mu.Unlock()
		return nil
	}
	c.release()
	c.schoolID = schoolID
	c.selBatch, c.selStudent = "", ""
	c.tree = nil
	if schoolID == "" {
		c.state = NoData
		view := c.rebuild()
		c.mu.Unlock()
		c.notify(view)
		return ErrNoTenant
	}
	if err := core.PathSegment(schoolID); err != nil {
		c.schoolID = ""
		c.state = NoData
		view := c.rebuild()
		c.mu.Unlock()
		c.notify(view)
		return school.ErrTenantNotFound
	}
	c.state = Loading
	c.ready = make(chan struct{})
	c.gen++
	gen := c.gen
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)

	sub, err := c.store.Subscribe(context.Background(), school.BatchesPath(schoolID), func(snap core.Snapshot) {
		c.receive(gen, snap)
	})
	if err != nil {
		return errors.Wrap(err, "subscribing to batches")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// superseded while subscribing
		sub.Close()
		return nil
	}
	c.sub = sub
	return nil
}

// release must be called with mu held.
func (c *BatchCollection) release() {
	c.gen++
	c.closeReady()
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

// closeReady wakes the WaitReady callers up. mu must be held.
func (c *BatchCollection) closeReady() {
	if c.ready == nil {
		return
	}
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

// WaitReady blocks until the collection holds the data of its tenant.
// It returns ErrNoTenant when there is no tenant (or the collection gets closed).
func (c *BatchCollection) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, ready := c.state, c.ready
		c.mu.Unlock()
		switch state {
		case Ready:
			return nil
		case NoData:
			return ErrNoTenant
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

func (c *BatchCollection) receive(gen uint64, snap core.Snapshot) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.pending.Settle()
	c.tree = snap.Value
	c.state = Ready
	c.closeReady()
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)
}

// rebuild recomputes the view from the last snapshot and the pending writes. mu must be held.
func (c *BatchCollection) rebuild() View {
	c.version++
	view := View{Version: c.version, State: c.state, SchoolID: c.schoolID}
	if c.state == Ready {
		tree := c.pending.Overlay(school.BatchesPath(c.schoolID), c.tree)
		batches, err := school.BatchesFromSnapshot(core.Snapshot{Path: school.BatchesPath(c.schoolID), Value: tree})
		if err != nil {
			c.opts.Logger.Error("decoding batches", err, &core.LogPerson{SchoolID: c.schoolID})
			batches = c.view.Batches
		}
		if c.opts.SortByName {
			c.sortByName(batches)
		}
		view.Batches = batches
		c.reconcile(&view)
	}
	c.view = view
	return view
}

func (c *BatchCollection) sortByName(batches []school.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return c.collator.CompareString(batches[i].Name, batches[j].Name) < 0
	})
}

// reconcile re-resolves the selected batch and student by id; deleted entities clear the selection.
func (c *BatchCollection) reconcile(view *View) {
	if c.selBatch == "" {
		return
	}
	b, ok := view.Batch(c.selBatch)
	if !ok {
		c.selBatch, c.selStudent = "", ""
		return
	}
	view.Selected = &b
	if c.selStudent == "" {
		return
	}
	s, ok := b.Student(c.selStudent)
	if !ok {
		c.selStudent = ""
		return
	}
	view.SelectedStudent = &s
}

func (c *BatchCollection) notify(view View) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if view.Version <= c.notified {
		return
	}
	c.notified = view.Version
	for _, fn := range c.observers {
		fn(view)
	}
}

// OnChange registers fn to receive every new view. fn is called with the current view first.
func (c *BatchCollection) OnChange(fn func(View)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, fn)
	view := c.View()
	if view.Version > c.notified {
		c.notified = view.Version
	}
	fn(view)
}

func (c *BatchCollection) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *BatchCollection) SchoolID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schoolID
}

// Select holds batchID as the selected batch, clearing the selected student.
// An empty id clears the selection.
func (c *BatchCollection) Select(batchID string) View {
	c.mu.Lock()
	c.selBatch, c.selStudent = batchID, ""
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)
	return view
}

// SelectStudent holds studentID, within the selected batch, as the selected student.
func (c *BatchCollection) SelectStudent(studentID string) View {
	c.mu.Lock()
	c.selStudent = studentID
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)
	return view
}

// Apply overlays values (store paths) on the view until the returned func is called, which must
// happen once the matching store write has returned.
func (c *BatchCollection) Apply(values map[string]interface{}) (done func()) {
	epoch := c.pending.Begin(values)

	c.mu.Lock()
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)

	var once sync.Once
	return func() {
		once.Do(func() { c.pending.End(epoch) })
	}
}

func (c *BatchCollection) Pending() *Pending {
	return c.pending
}

// Close releases the subscription; the collection returns to the NoData state.
func (c *BatchCollection) Close() {
	c.mu.Lock()
	c.release()
	c.schoolID = ""
	c.selBatch, c.selStudent = "", ""
	c.state = NoData
	c.tree = nil
	view := c.rebuild()
	c.mu.Unlock()
	c.notify(view)
}
