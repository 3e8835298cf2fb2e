package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/edusmart/apps/api/echo"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/tests"
)

func Test_studentApi_profiles(t *testing.T) {
	app := newTestApp(t)
	tenant := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	morning := testutil.CreateBatch(t, app.schools, tenant.ID, "Morning")
	evening := testutil.CreateBatch(t, app.schools, tenant.ID, "Evening")
	testutil.AddStudent(t, app.schools, tenant.ID, morning.ID, "Asha", "1111")
	ravi := testutil.AddStudent(t, app.schools, tenant.ID, evening.ID, "Ravi", "2222")
	token := app.studentToken(t, tenant.ID, "Asha", "1111")

	rec := app.serve(newAuthRequest(http.MethodPost, "/v1/student/profiles", token, marshalObj(t, ProfileRequest{Name: "ravi", Phone: "2222"})))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess session.Session
	decode(t, rec, &sess)
	require.Len(t, sess.Profiles, 2)
	assert.Equal(t, 1, sess.Active, "the added sibling becomes active")
	assert.Equal(t, ravi.StudentID, sess.Profiles[1].StudentID)
	assert.Equal(t, "Evening", sess.Profiles[1].BatchName)

	app.run(t, []httpTest{
		{"already linked", http.MethodPost, "/v1/student/profiles", marshalObj(t, ProfileRequest{Name: "Ravi", Phone: "2222"}), token, http.StatusConflict, marshalObj(t, httpErr{Error: session.ErrProfileExists.Error()})},
		{"unknown student", http.MethodPost, "/v1/student/profiles", marshalObj(t, ProfileRequest{Name: "Kiran", Phone: "3333"}), token, http.StatusNotFound, nil},
		{"blank name", http.MethodPost, "/v1/student/profiles", []byte(`{"name": " ", "phone": "3333"}`), token, http.StatusBadRequest, nil},
		{"switch", http.MethodPut, "/v1/student/profiles/active", []byte(`{"index": 0}`), token, http.StatusOK, nil},
		{"switch out of range", http.MethodPut, "/v1/student/profiles/active", []byte(`{"index": 5}`), token, http.StatusNotFound, nil},
		{"switch without index", http.MethodPut, "/v1/student/profiles/active", []byte(`{}`), token, http.StatusBadRequest, nil},
	})

	rec = app.serve(newAuthRequest(http.MethodGet, "/v1/student/profiles", token))
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles struct {
		Profiles []session.Profile `json:"profiles"`
		Active   int               `json:"active"`
	}
	decode(t, rec, &profiles)
	assert.Len(t, profiles.Profiles, 2)
	assert.Equal(t, 0, profiles.Active)

	mira := testutil.AddStudent(t, app.schools, tenant.ID, evening.ID, "Mira", "3333")
	require.NoError(t, app.schools.SetStudentPassword(context.Background(), mira, "mira-secret"))
	invalid := marshalObj(t, httpErr{Error: session.ErrInvalidCredentials.Error()})
	app.run(t, []httpTest{
		{"protected without password", http.MethodPost, "/v1/student/profiles", marshalObj(t, ProfileRequest{Name: "Mira", Phone: "3333"}), token, http.StatusUnauthorized, invalid},
		{"protected wrong password", http.MethodPost, "/v1/student/profiles", marshalObj(t, ProfileRequest{Name: "Mira", Phone: "3333", Password: "guess"}), token, http.StatusUnauthorized, invalid},
		{"protected", http.MethodPost, "/v1/student/profiles", marshalObj(t, ProfileRequest{Name: "Mira", Phone: "3333", Password: "mira-secret"}), token, http.StatusCreated, nil},
	})

	adminToken := app.adminToken(t, "alpha")
	app.run(t, []httpTest{
		{"admin", http.MethodGet, "/v1/student/profiles", nil, adminToken, http.StatusForbidden, marshalObj(t, errForbidden)},
	})
}

func Test_studentApi_dashboard(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)
	tenant := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	b := testutil.CreateBatch(t, app.schools, tenant.ID, "Morning")
	asha := testutil.AddStudent(t, app.schools, tenant.ID, b.ID, "Asha", "1111")
	token := app.studentToken(t, tenant.ID, "Asha", "1111")

	_, err := app.schools.SetAttendance(ctx, asha, "2024-03-01", school.StatusPresent, false)
	require.NoError(t, err)
	_, err = app.schools.SetAttendance(ctx, asha, "2024-03-02", school.StatusAbsent, true)
	require.NoError(t, err)
	_, err = app.schools.PostNotice(ctx, tenant.ID, school.NewNotice{Text: "Holiday", Sender: "alpha", Type: school.NoticeGeneral})
	require.NoError(t, err)

	dashboard := func() livesync.Dashboard {
		rec := app.serve(newAuthRequest(http.MethodGet, "/v1/student/dashboard", token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var d livesync.Dashboard
		decode(t, rec, &d)
		return d
	}
	d := dashboard()
	active, ok := d.ActiveView()
	require.True(t, ok)
	assert.True(t, active.Found)
	assert.Equal(t, "Morning", active.BatchName)
	assert.Equal(t, 50, active.Summary.AttendancePercent)
	assert.Equal(t, 1, active.Summary.Unread)
	assert.Empty(t, active.Student.PasswordHash)
	require.Len(t, d.Notices, 1)
	assert.Equal(t, "Holiday", d.Notices[0].Text)

	app.run(t, []httpTest{
		{"mark read", http.MethodPost, "/v1/student/notifications/read", nil, token, http.StatusOK, marshalObj(t, ReadResponse{Read: 1})},
		{"nothing unread", http.MethodPost, "/v1/student/notifications/read", nil, token, http.StatusOK, marshalObj(t, ReadResponse{Read: 0})},
	})

	// a student re-added under a new id is found again by name and phone
	require.NoError(t, app.schools.RemoveStudent(ctx, asha))
	readded := testutil.AddStudent(t, app.schools, tenant.ID, b.ID, "Asha", "1111")
	d = dashboard()
	active, _ = d.ActiveView()
	assert.True(t, active.Found)
	assert.Equal(t, readded.StudentID, active.Profile.StudentID)

	sess, err := app.sessions.Get(ctx, mustSessionID(t, app, token))
	require.NoError(t, err)
	assert.Equal(t, readded.StudentID, sess.Profiles[0].StudentID, "the session follows the re-added student")

	// removed for good
	require.NoError(t, app.schools.RemoveStudent(ctx, readded))
	d = dashboard()
	active, _ = d.ActiveView()
	assert.False(t, active.Found)
	assert.Equal(t, "Asha", active.Profile.Name)
}

func Test_studentApi_password(t *testing.T) {
	app := newTestApp(t)
	tenant := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	b := testutil.CreateBatch(t, app.schools, tenant.ID, "Morning")
	testutil.AddStudent(t, app.schools, tenant.ID, b.ID, "Asha", "1111")
	token := app.studentToken(t, tenant.ID, "Asha", "1111")

	app.run(t, []httpTest{
		{"too short", http.MethodPut, "/v1/student/password", []byte(`{"password": "abc"}`), token, http.StatusBadRequest, nil},
		{"with spaces", http.MethodPut, "/v1/student/password", []byte(`{"password": "ab cd ef"}`), token, http.StatusBadRequest, nil},
		{"mismatch", http.MethodPut, "/v1/student/password", []byte(`{"password": "s3cret", "passwordConfirm": "s3cre7"}`), token, http.StatusBadRequest, nil},
		{"set", http.MethodPut, "/v1/student/password", []byte(`{"password": "s3cret", "passwordConfirm": "s3cret"}`), token, http.StatusOK, marshalObj(t, SuccessResponse{Success: "password updated"})},
		{"login without password", http.MethodPost, "/v1/auth/student", marshalObj(t, StudentLoginRequest{SchoolID: tenant.ID, Name: "Asha", Phone: "1111"}), "", http.StatusUnauthorized, nil},
		{"login with password", http.MethodPost, "/v1/auth/student", marshalObj(t, StudentLoginRequest{SchoolID: tenant.ID, Name: "Asha", Phone: "1111", Password: "s3cret"}), "", http.StatusOK, nil},
	})
}

// mustSessionID returns the id of the session behind token.
func mustSessionID(t *testing.T, app *testApp, token string) string {
	t.Helper()
	rec := app.serve(newAuthRequest(http.MethodGet, "/v1/session", token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess session.Session
	decode(t, rec, &sess)
	return sess.ID
}
