package livesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	. "github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	testutil "github.com/trezcool/edusmart/tests"
)

func waitDashboard(t *testing.T, feed *ProfileFeed, cond func(Dashboard) bool, msg string) Dashboard {
	t.Helper()
	require.Eventually(t, func() bool { return cond(feed.Dashboard()) }, waitFor, tick, msg)
	return feed.Dashboard()
}

func TestProfileFeed(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	clock := testutil.NewClock(time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC))
	svc.SetClock(clock.Now)
	sessions := testutil.NewSessionService(svc)

	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	morning := testutil.CreateBatch(t, svc, tenant.ID, "Morning")
	evening := testutil.CreateBatch(t, svc, tenant.ID, "Evening")
	asha := testutil.AddStudent(t, svc, tenant.ID, morning.ID, "Asha", "1111")
	testutil.AddStudent(t, svc, tenant.ID, evening.ID, "Ravi", "2222")

	_, err := svc.SetAttendance(ctx, asha, "2024-03-01", school.StatusPresent, false)
	require.NoError(t, err)
	_, err = svc.PostNotice(ctx, tenant.ID, school.NewNotice{Text: "Holiday", Sender: "alpha", Type: school.NoticeGeneral})
	require.NoError(t, err)

	sess, err := sessions.Create(ctx, session.Session{Role: session.RoleStudent, SchoolID: tenant.ID})
	require.NoError(t, err)
	sess, err = sessions.AddProfile(ctx, sess.ID, "asha", "1111", "")
	require.NoError(t, err)
	sess, err = sessions.AddProfile(ctx, sess.ID, "Ravi", "2222", "")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Active)

	feed, err := NewProfileFeed(store, sess, clock.Now, core.NopLogger{})
	require.NoError(t, err)
	defer feed.Close()

	d := waitDashboard(t, feed, func(d Dashboard) bool {
		return len(d.Notices) == 1 && d.Profiles[0].Found && d.Profiles[1].Found
	}, "dashboard not loaded")
	active, ok := d.ActiveView()
	require.True(t, ok)
	assert.Equal(t, "Ravi", active.Student.Name)
	assert.Equal(t, "Evening", active.BatchName)
	assert.Equal(t, 100, d.Profiles[0].Summary.AttendancePercent)
	assert.Equal(t, 1, d.Profiles[0].Summary.Streak)
	assert.Empty(t, d.Profiles[0].Student.PasswordHash)

	require.NoError(t, feed.SetActive(0))
	assert.Equal(t, 0, feed.Dashboard().Active)
	assert.ErrorIs(t, feed.SetActive(5), session.ErrProfileNotFound)

	// absence and its notification reach the dashboard
	_, err = svc.SetAttendance(ctx, asha, "2024-03-02", school.StatusAbsent, true)
	require.NoError(t, err)
	d = waitDashboard(t, feed, func(d Dashboard) bool { return d.Profiles[0].Summary.Unread == 1 }, "absence not received")
	assert.Equal(t, 50, d.Profiles[0].Summary.AttendancePercent)
	assert.Equal(t, 0, d.Profiles[0].Summary.Streak)

	// newest notice first
	clock.Advance(time.Minute)
	_, err = svc.PostNotice(ctx, tenant.ID, school.NewNotice{Text: "Exam", Sender: "alpha", Type: school.NoticeUrgent})
	require.NoError(t, err)
	d = waitDashboard(t, feed, func(d Dashboard) bool { return len(d.Notices) == 2 }, "notice not received")
	assert.Equal(t, "Exam", d.Notices[0].Text)

	// a student re-added under a new id is found again by name and phone
	require.NoError(t, svc.RemoveStudent(ctx, asha))
	d = waitDashboard(t, feed, func(d Dashboard) bool { return !d.Profiles[0].Found }, "removal not received")
	assert.Equal(t, "Asha", d.Profiles[0].Profile.Name)

	readded := testutil.AddStudent(t, svc, tenant.ID, morning.ID, "Asha", "1111")
	d = waitDashboard(t, feed, func(d Dashboard) bool { return d.Profiles[0].Found }, "re-added student not resolved")
	assert.Equal(t, readded.StudentID, d.Profiles[0].Profile.StudentID)
	assert.Equal(t, readded.StudentID, feed.Profiles()[0].StudentID)
}

func TestProfileFeed_FollowsMovedStudent(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	sessions := testutil.NewSessionService(svc)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	morning := testutil.CreateBatch(t, svc, tenant.ID, "Morning")
	evening := testutil.CreateBatch(t, svc, tenant.ID, "Evening")
	asha := testutil.AddStudent(t, svc, tenant.ID, morning.ID, "Asha", "1111")

	sess, err := sessions.Create(ctx, session.Session{Role: session.RoleStudent, SchoolID: tenant.ID})
	require.NoError(t, err)
	sess, err = sessions.AddProfile(ctx, sess.ID, "Asha", "1111", "")
	require.NoError(t, err)
	feed, err := NewProfileFeed(store, sess, svc.Now, core.NopLogger{})
	require.NoError(t, err)
	defer feed.Close()
	waitDashboard(t, feed, func(d Dashboard) bool { return d.Profiles[0].Found }, "dashboard not loaded")

	// same id, other batch
	s, err := svc.GetStudent(ctx, asha)
	require.NoError(t, err)
	_, err = svc.SaveStudent(ctx, tenant.ID, evening.ID, s)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveStudent(ctx, asha))
	d := waitDashboard(t, feed, func(d Dashboard) bool {
		return d.Profiles[0].Found && d.Profiles[0].BatchName == "Evening"
	}, "moved student not followed")
	assert.Equal(t, evening.ID, d.Profiles[0].Profile.BatchID)
	assert.Equal(t, asha.StudentID, d.Profiles[0].Profile.StudentID)

	// new id in yet another batch, found by name and phone
	later := testutil.CreateBatch(t, svc, tenant.ID, "Late")
	moved := school.StudentRef{SchoolID: tenant.ID, BatchID: evening.ID, StudentID: asha.StudentID}
	require.NoError(t, svc.RemoveStudent(ctx, moved))
	readded := testutil.AddStudent(t, svc, tenant.ID, later.ID, "Asha", "1111")
	waitDashboard(t, feed, func(d Dashboard) bool {
		return d.Profiles[0].Found && d.Profiles[0].Profile.StudentID == readded.StudentID
	}, "re-added student not found in another batch")
	assert.Equal(t, later.ID, feed.Profiles()[0].BatchID)

	// the whole batch goes away
	require.NoError(t, svc.DeleteBatch(ctx, tenant.ID, later.ID))
	waitDashboard(t, feed, func(d Dashboard) bool { return !d.Profiles[0].Found }, "deleted batch not received")
}

func TestProfileFeed_AddProfile(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	sessions := testutil.NewSessionService(svc)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	b := testutil.CreateBatch(t, svc, tenant.ID, "Morning")
	testutil.AddStudent(t, svc, tenant.ID, b.ID, "Asha", "1111")
	ravi := testutil.AddStudent(t, svc, tenant.ID, b.ID, "Ravi", "2222")

	sess, err := sessions.Create(ctx, session.Session{Role: session.RoleStudent, SchoolID: tenant.ID})
	require.NoError(t, err)
	sess, err = sessions.AddProfile(ctx, sess.ID, "Asha", "1111", "")
	require.NoError(t, err)
	feed, err := NewProfileFeed(store, sess, svc.Now, core.NopLogger{})
	require.NoError(t, err)
	defer feed.Close()
	waitDashboard(t, feed, func(d Dashboard) bool { return d.Profiles[0].Found }, "dashboard not loaded")

	sess, err = sessions.AddProfile(ctx, sess.ID, "Ravi", "2222", "")
	require.NoError(t, err)
	i, err := feed.AddProfile(sess.Profiles[1])
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	d := waitDashboard(t, feed, func(d Dashboard) bool {
		return len(d.Profiles) == 2 && d.Profiles[1].Found
	}, "added profile not loaded")
	assert.Equal(t, 1, d.Active)
	assert.Equal(t, ravi.StudentID, d.Profiles[1].Student.ID)

	require.NoError(t, svc.SetPerformance(ctx, ravi, 80))
	waitDashboard(t, feed, func(d Dashboard) bool { return d.Profiles[1].Student.Performance == 80 }, "added profile not followed")

	feed.Close()
	_, err = feed.AddProfile(sess.Profiles[0])
	assert.Error(t, err)
}
