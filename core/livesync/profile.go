package livesync

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

type (
	// StudentView is the live record of one linked profile.
	StudentView struct {
		Profile   session.Profile `json:"profile"`
		Found     bool            `json:"found"`
		Student   school.Student  `json:"student"` // without password hash
		BatchName string          `json:"batchName"`
		Timing    *school.Timing  `json:"timing,omitempty"`
		Summary   school.Summary  `json:"summary"`
	}

	Dashboard struct {
		Version  uint64          `json:"version"`
		Profiles []StudentView   `json:"profiles"`
		Active   int             `json:"active"`
		Notices  []school.Notice `json:"notices"`
	}
)

// ActiveView returns the view of the active profile.
func (d Dashboard) ActiveView() (StudentView, bool) {
	if d.Active < 0 || d.Active >= len(d.Profiles) {
		return StudentView{}, false
	}
	return d.Profiles[d.Active], true
}

// ProfileFeed keeps one subscription on the batches of the tenant of each linked profile, plus one
// on the notices of the active profile's tenant. A student moved to another batch is followed there.
type ProfileFeed struct {
	store  core.Store
	now    func() time.Time
	logger core.Logger

	mu        sync.Mutex
	closed    bool
	version   uint64
	profiles  []session.Profile
	views     []StudentView
	active    int
	subs      []core.Subscription
	notices   []school.Notice
	noticeSub core.Subscription
	noticeSID string
	noticeGen uint64

	notifyMu  sync.Mutex
	notified  uint64
	observers []func(Dashboard)
}

// NewProfileFeed subscribes to the batches of the profiles of sess.
func NewProfileFeed(store core.Store, sess session.Session, now func() time.Time, logger core.Logger) (*ProfileFeed, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	f := &ProfileFeed{
		store:    store,
		now:      now,
		logger:   logger,
		profiles: append([]session.Profile(nil), sess.Profiles...),
		active:   sess.Active,
	}
	f.views = make([]StudentView, len(f.profiles))
	f.subs = make([]core.Subscription, len(f.profiles))
	for i, p := range f.profiles {
		f.views[i] = StudentView{Profile: p, BatchName: p.BatchName}
	}

	for i, p := range f.profiles {
		if err := f.follow(i, p); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.followNotices(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// follow subscribes profile i to the batches of its tenant.
func (f *ProfileFeed) follow(i int, p session.Profile) error {
	sub, err := f.store.Subscribe(context.Background(), school.BatchesPath(p.SchoolID), func(snap core.Snapshot) {
		f.receiveBatches(i, snap)
	})
	if err != nil {
		return errors.Wrapf(err, "subscribing to profile %d", i)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		sub.Close()
		return nil
	}
	f.subs[i] = sub
	return nil
}

// AddProfile links p to the feed and makes it active; it returns its index.
func (f *ProfileFeed) AddProfile(p session.Profile) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, errors.New("profile feed closed")
	}
	i := len(f.profiles)
	f.profiles = append(f.profiles, p)
	f.views = append(f.views, StudentView{Profile: p, BatchName: p.BatchName})
	f.subs = append(f.subs, nil)
	f.active = i
	d := f.dashboard()
	f.mu.Unlock()
	f.notify(d)

	if err := f.follow(i, p); err != nil {
		return i, err
	}
	return i, f.followNotices()
}

// followNotices subscribes to the notices of the active profile's tenant when it changed.
func (f *ProfileFeed) followNotices() error {
	f.mu.Lock()
	var sid string
	if f.active >= 0 && f.active < len(f.profiles) {
		sid = f.profiles[f.active].SchoolID
	}
	if f.closed || (sid == f.noticeSID && f.noticeSub != nil) {
		f.mu.Unlock()
		return nil
	}
	if f.noticeSub != nil {
		f.noticeSub.Close()
		f.noticeSub = nil
	}
	f.noticeGen++
	gen := f.noticeGen
	f.noticeSID = sid
	f.notices = nil
	f.mu.Unlock()

	if sid == "" {
		return nil
	}
	sub, err := f.store.Subscribe(context.Background(), school.NoticesPath(sid), func(snap core.Snapshot) {
		f.receiveNotices(gen, snap)
	})
	if err != nil {
		return errors.Wrap(err, "subscribing to notices")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.noticeGen || f.closed {
		sub.Close()
		return nil
	}
	f.noticeSub = sub
	return nil
}

func (f *ProfileFeed) receiveBatches(i int, snap core.Snapshot) {
	batches, err := school.BatchesFromSnapshot(snap)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	p := f.profiles[i]
	if err != nil {
		f.logger.Error("decoding profile batches", err, &core.LogPerson{Username: p.Name, SchoolID: p.SchoolID})
		f.mu.Unlock()
		return
	}
	view := StudentView{Profile: p, BatchName: p.BatchName}
	if s, b, found := resolve(batches, p); found {
		p = session.ProfileOf(p.SchoolID, s, b)
		f.profiles[i] = p
		view = StudentView{
			Profile:   p,
			Found:     true,
			Student:   s.Public(),
			BatchName: b.Name,
			Timing:    b.Timing,
			Summary:   school.StudentSummary(s, f.now()),
		}
	}
	// other batches of the tenant changed
	if reflect.DeepEqual(f.views[i], view) {
		f.mu.Unlock()
		return
	}
	f.views[i] = view
	d := f.dashboard()
	f.mu.Unlock()
	f.notify(d)
}

// resolve finds the profile's student: by id in its batch, then by name and phone in its batch,
// then by id or by name and phone in any batch of the tenant.
func resolve(batches []school.Batch, p session.Profile) (school.Student, school.Batch, bool) {
	for _, b := range batches {
		if b.ID != p.BatchID {
			continue
		}
		if s, ok := b.Student(p.StudentID); ok {
			return s, b, true
		}
		if s, _, ok := school.FindIn([]school.Batch{b}, p.Name, p.Phone); ok {
			return s, b, true
		}
	}
	for _, b := range batches {
		if s, ok := b.Student(p.StudentID); ok {
			return s, b, true
		}
	}
	return school.FindIn(batches, p.Name, p.Phone)
}

func (f *ProfileFeed) receiveNotices(gen uint64, snap core.Snapshot) {
	notices, err := school.NoticesFromSnapshot(snap)
	if err != nil {
		f.logger.Error("decoding notices", err)
		return
	}
	f.mu.Lock()
	if f.closed || gen != f.noticeGen {
		f.mu.Unlock()
		return
	}
	f.notices = notices
	d := f.dashboard()
	f.mu.Unlock()
	f.notify(d)
}

// dashboard must be called with mu held.
func (f *ProfileFeed) dashboard() Dashboard {
	f.version++
	return Dashboard{
		Version:  f.version,
		Profiles: append([]StudentView(nil), f.views...),
		Active:   f.active,
		Notices:  f.notices,
	}
}

func (f *ProfileFeed) notify(d Dashboard) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	if d.Version <= f.notified {
		return
	}
	f.notified = d.Version
	for _, fn := range f.observers {
		fn(d)
	}
}

// OnChange registers fn to receive every new dashboard, the current one first.
func (f *ProfileFeed) OnChange(fn func(Dashboard)) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	f.observers = append(f.observers, fn)
	d := f.Dashboard()
	if d.Version > f.notified {
		f.notified = d.Version
	}
	fn(d)
}

func (f *ProfileFeed) Dashboard() Dashboard {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Dashboard{
		Version:  f.version,
		Profiles: append([]StudentView(nil), f.views...),
		Active:   f.active,
		Notices:  f.notices,
	}
}

// Profiles returns the profiles as last re-resolved.
func (f *ProfileFeed) Profiles() []session.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Profile(nil), f.profiles...)
}

// SetActive switches the active profile, following the notices of its tenant.
func (f *ProfileFeed) SetActive(index int) error {
	f.mu.Lock()
	if index < 0 || index >= len(f.profiles) {
		f.mu.Unlock()
		return session.ErrProfileNotFound
	}
	f.active = index
	d := f.dashboard()
	f.mu.Unlock()
	f.notify(d)
	return f.followNotices()
}

// Close releases every subscription.
func (f *ProfileFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.subs {
		if sub != nil {
			sub.Close()
		}
	}
	if f.noticeSub != nil {
		f.noticeSub.Close()
	}
}
