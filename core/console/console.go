// Package console is the admin workspace of a tenant: a live batch collection, a selection and the
// mutations an admin performs on them.
//
// Every mutation is computed from the last known local state, applied locally at once, then written
// to the store with a single call. A failed write is not rolled back: it is logged and returned, and
// the next snapshot heals the view.
package console

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
)

type Console struct {
	svc      *school.Service
	col      *livesync.BatchCollection
	schoolID string
	username string
	logger   core.Logger
}

// New opens the workspace of schoolID for the admin username.
func New(svc *school.Service, schoolID, username string, opts livesync.CollectionOptions, logger core.Logger) (*Console, error) {
	if logger == nil {
		logger = core.NopLogger{}
	}
	opts.Logger = logger
	col, err := livesync.NewBatchCollection(svc.Store(), schoolID, opts)
	if err != nil {
		col.Close()
		return nil, err
	}
	return &Console{svc: svc, col: col, schoolID: schoolID, username: username, logger: logger}, nil
}

func (c *Console) Collection() *livesync.BatchCollection {
	return c.col
}

// WaitReady blocks until the tenant batches have been loaded.
func (c *Console) WaitReady(ctx context.Context) error {
	return c.col.WaitReady(ctx)
}

func (c *Console) View() livesync.View {
	return c.col.View()
}

func (c *Console) OnChange(fn func(livesync.View)) {
	c.col.OnChange(fn)
}

func (c *Console) Select(batchID string) livesync.View {
	return c.col.Select(batchID)
}

func (c *Console) SelectStudent(studentID string) livesync.View {
	return c.col.SelectStudent(studentID)
}

func (c *Console) Close() {
	c.col.Close()
}

func (c *Console) person() *core.LogPerson {
	return &core.LogPerson{Username: c.username, SchoolID: c.schoolID}
}

func (c *Console) ref(batchID, studentID string) school.StudentRef {
	return school.StudentRef{SchoolID: c.schoolID, BatchID: batchID, StudentID: studentID}
}

// write applies values locally, then runs the store write.
func (c *Console) write(op string, values map[string]interface{}, fn func() error) error {
	done := c.col.Apply(values)
	defer done()
	if err := fn(); err != nil {
		c.logger.Error(op, err, c.person())
		return err
	}
	return nil
}

// student returns the last known local state of a student.
func (c *Console) student(batchID, studentID string) (school.Student, error) {
	view := c.col.View()
	if view.State != livesync.Ready {
		return school.Student{}, livesync.ErrNoTenant
	}
	b, ok := view.Batch(batchID)
	if !ok {
		return school.Student{}, school.ErrBatchNotFound
	}
	s, ok := b.Student(studentID)
	if !ok {
		return school.Student{}, school.ErrStudentNotFound
	}
	return s, nil
}

func (c *Console) CreateBatch(ctx context.Context, nb school.NewBatch) (school.Batch, error) {
	b := c.svc.NewBatchValue(nb)
	values := map[string]interface{}{school.BatchPath(c.schoolID, b.ID): b}
	err := c.write("creating batch", values, func() error {
		_, err := c.svc.SaveBatch(ctx, c.schoolID, b)
		return err
	})
	return b, err
}

func (c *Console) DeleteBatch(ctx context.Context, batchID string) error {
	values := map[string]interface{}{school.BatchPath(c.schoolID, batchID): nil}
	return c.write("deleting batch", values, func() error {
		return c.svc.DeleteBatch(ctx, c.schoolID, batchID)
	})
}

func (c *Console) SetTiming(ctx context.Context, batchID string, t school.Timing) error {
	values := map[string]interface{}{school.TimingPath(c.schoolID, batchID): t}
	return c.write("saving timing", values, func() error {
		return c.svc.SetTiming(ctx, c.schoolID, batchID, t)
	})
}

func (c *Console) AddStudent(ctx context.Context, batchID string, ns school.NewStudent) (school.Student, error) {
	s := c.svc.NewStudentValue(ns)
	values := map[string]interface{}{c.ref(batchID, s.ID).Path(): s}
	err := c.write("adding student", values, func() error {
		_, err := c.svc.SaveStudent(ctx, c.schoolID, batchID, s)
		return err
	})
	return s, err
}

func (c *Console) RemoveStudent(ctx context.Context, batchID, studentID string) error {
	ref := c.ref(batchID, studentID)
	values := map[string]interface{}{ref.Path(): nil}
	return c.write("removing student", values, func() error {
		return c.svc.RemoveStudent(ctx, ref)
	})
}

// NextStatus cycles not-marked → present → absent → not-marked.
func NextStatus(status string) string {
	switch status {
	case school.StatusPresent:
		return school.StatusAbsent
	case school.StatusAbsent:
		return school.StatusNotMarked
	default:
		return school.StatusPresent
	}
}

// ToggleAttendance moves the student to the next status of date and returns it.
// The transition into absent appends exactly one alert notification, in the same write.
func (c *Console) ToggleAttendance(ctx context.Context, batchID, studentID, date string) (string, error) {
	if _, err := school.ParseDay(date); err != nil {
		return "", school.ErrInvalidDate
	}
	s, err := c.student(batchID, studentID)
	if err != nil {
		return "", err
	}
	next := NextStatus(s.Status(date))
	ref := c.ref(batchID, studentID)
	values := map[string]interface{}{ref.AttendancePath(date): next}
	err = c.write("toggling attendance", values, func() error {
		_, err := c.svc.SetAttendance(ctx, ref, date, next, true)
		return err
	})
	return next, err
}

// MarkAllPresent marks every student of the batch, as known locally, present on date. Students
// removed in the meantime are skipped.
func (c *Console) MarkAllPresent(ctx context.Context, batchID, date string) (int, error) {
	if _, err := school.ParseDay(date); err != nil {
		return 0, school.ErrInvalidDate
	}
	b, ok := c.col.View().Batch(batchID)
	if !ok {
		return 0, school.ErrBatchNotFound
	}
	ids := make([]string, 0, len(b.Students))
	values := make(map[string]interface{}, len(b.Students))
	for id := range b.Students {
		ids = append(ids, id)
		values[c.ref(batchID, id).AttendancePath(date)] = school.StatusPresent
	}
	var marked int
	err := c.write("marking all present", values, func() error {
		var err error
		marked, err = c.svc.MarkPresent(ctx, c.schoolID, batchID, date, ids)
		return err
	})
	return marked, err
}

// NextFeeStatus flips paid and pending; anything else becomes paid.
func NextFeeStatus(status string) string {
	if status == school.FeePaid {
		return school.FeePending
	}
	return school.FeePaid
}

// ToggleFee flips the month between paid and pending (the default) and returns the new status.
func (c *Console) ToggleFee(ctx context.Context, batchID, studentID string, year int, month string) (string, error) {
	if !school.IsMonthKey(month) {
		return "", school.ErrInvalidMonth
	}
	s, err := c.student(batchID, studentID)
	if err != nil {
		return "", err
	}
	y := strconv.Itoa(year)
	next := NextFeeStatus(s.FeeStatus(y, month))
	ref := c.ref(batchID, studentID)
	values := map[string]interface{}{ref.FeePath(y, month): next}
	err = c.write("toggling fee", values, func() error {
		return c.svc.SetFee(ctx, ref, y, month, next)
	})
	return next, err
}

func (c *Console) SetPerformance(ctx context.Context, batchID, studentID string, score int) error {
	if score < 0 || score > 100 {
		return school.ErrInvalidScore
	}
	if _, err := c.student(batchID, studentID); err != nil {
		return err
	}
	ref := c.ref(batchID, studentID)
	values := map[string]interface{}{ref.PerformancePath(): score}
	return c.write("saving performance", values, func() error {
		return c.svc.SetPerformance(ctx, ref, score)
	})
}

// Notify sends a notification to one student.
func (c *Console) Notify(ctx context.Context, batchID, studentID, text string) (string, error) {
	id, err := c.svc.AddNotification(ctx, c.ref(batchID, studentID), text, school.NotificationInfo)
	if err != nil {
		c.logger.Error("sending notification", err, c.person())
		return "", errors.WithStack(err)
	}
	return id, nil
}
