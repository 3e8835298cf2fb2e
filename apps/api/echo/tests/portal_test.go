package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/edusmart/apps/api/echo"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/tests"
)

func Test_portalApi_register(t *testing.T) {
	app := newTestApp(t)

	reg := school.Registration{
		Name:     "Alpha Classes",
		Owner:    "Ravi",
		Phone:    "98765",
		Email:    "ravi@alpha.in",
		Username: "Alpha",
		Password: testutil.DefaultPassword,
	}
	rec := app.serve(newRequest(http.MethodPost, "/v1/register", marshalObj(t, reg)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res RegisterResponse
	decode(t, rec, &res)
	assert.NotEmpty(t, res.Tenant.ID)
	assert.Equal(t, "alpha", res.Tenant.Username)
	assert.Equal(t, school.PlanBasic, res.Tenant.Info.Plan)
	assert.Equal(t, "http://edusmart.test/?schoolId="+res.Tenant.ID, res.Link)

	app.run(t, []httpTest{
		{
			name:     "username taken",
			method:   http.MethodPost,
			path:     "/v1/register",
			body:     marshalObj(t, reg),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"username": school.ErrUsernameExists.Error()}),
		},
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/v1/register",
			body:     []byte(`{"name": "  "}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad json",
			method:   http.MethodPost,
			path:     "/v1/register",
			body:     []byte(`{"name": `),
			wantCode: http.StatusBadRequest,
		},
	})
}

func Test_portalApi_adminLogin(t *testing.T) {
	app := newTestApp(t)
	alpha := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	beta := testutil.CreateTenant(t, app.schools, "Beta", "beta")

	res := app.login(t, "/v1/auth/admin", AdminLoginRequest{Username: " ALPHA ", Password: testutil.DefaultPassword, SchoolID: alpha.ID})
	assert.Equal(t, session.RoleAdmin, res.Session.Role)
	assert.Equal(t, alpha.ID, res.Session.SchoolID)
	assert.Equal(t, "alpha", res.Session.Username)

	invalid := httpErr{Error: portal.ErrInvalidCredentials.Error()}
	app.run(t, []httpTest{
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/v1/auth/admin",
			body:     marshalObj(t, AdminLoginRequest{Username: "alpha", Password: "nope"}),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, invalid),
		},
		{
			name:     "unknown username",
			method:   http.MethodPost,
			path:     "/v1/auth/admin",
			body:     marshalObj(t, AdminLoginRequest{Username: "gamma", Password: testutil.DefaultPassword}),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, invalid),
		},
		{
			name:     "other tenant link",
			method:   http.MethodPost,
			path:     "/v1/auth/admin",
			body:     marshalObj(t, AdminLoginRequest{Username: "alpha", Password: testutil.DefaultPassword, SchoolID: beta.ID}),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: portal.ErrTenantMismatch.Error()}),
		},
		{
			name:     "missing password",
			method:   http.MethodPost,
			path:     "/v1/auth/admin",
			body:     marshalObj(t, AdminLoginRequest{Username: "alpha"}),
			wantCode: http.StatusBadRequest,
		},
	})
}

func Test_portalApi_studentLogin(t *testing.T) {
	app := newTestApp(t)
	tenant := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	b := testutil.CreateBatch(t, app.schools, tenant.ID, "Morning")
	asha := testutil.AddStudent(t, app.schools, tenant.ID, b.ID, "Asha", "9999999999")

	res := app.login(t, "/v1/auth/student", StudentLoginRequest{SchoolID: tenant.ID, Name: "asha ", Phone: "9999999999"})
	assert.Equal(t, session.RoleStudent, res.Session.Role)
	require.Len(t, res.Session.Profiles, 1)
	assert.Equal(t, asha.StudentID, res.Session.Profiles[0].StudentID)
	assert.Equal(t, "Morning", res.Session.Profiles[0].BatchName)

	app.run(t, []httpTest{
		{
			name:     "no link",
			method:   http.MethodPost,
			path:     "/v1/auth/student",
			body:     marshalObj(t, StudentLoginRequest{Name: "Asha", Phone: "9999999999"}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: portal.ErrMissingLink.Error()}),
		},
		{
			name:     "unknown student",
			method:   http.MethodPost,
			path:     "/v1/auth/student",
			body:     marshalObj(t, StudentLoginRequest{SchoolID: tenant.ID, Name: "Asha", Phone: "1"}),
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: school.ErrStudentNotFound.Error()}),
		},
	})

	// once a password is set, it is required
	require.NoError(t, app.schools.SetStudentPassword(context.Background(), asha, "s3cret"))
	app.run(t, []httpTest{
		{
			name:     "password required",
			method:   http.MethodPost,
			path:     "/v1/auth/student",
			body:     marshalObj(t, StudentLoginRequest{SchoolID: tenant.ID, Name: "Asha", Phone: "9999999999"}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "password given",
			method:   http.MethodPost,
			path:     "/v1/auth/student",
			body:     marshalObj(t, StudentLoginRequest{SchoolID: tenant.ID, Name: "Asha", Phone: "9999999999", Password: "s3cret"}),
			wantCode: http.StatusOK,
		},
	})
}

func Test_portalApi_session(t *testing.T) {
	app := newTestApp(t)
	testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	token := app.adminToken(t, "alpha")

	rec := app.serve(newAuthRequest(http.MethodPut, "/v1/session/theme", token, marshalObj(t, ThemeRequest{Theme: "Dark"})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess session.Session
	decode(t, rec, &sess)
	assert.Equal(t, session.ThemeDark, sess.Theme)

	rec = app.serve(newAuthRequest(http.MethodGet, "/v1/session", token))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sess)
	assert.Equal(t, session.ThemeDark, sess.Theme, "the theme is kept by the session")

	app.run(t, []httpTest{
		{
			name:     "invalid theme",
			method:   http.MethodPut,
			path:     "/v1/session/theme",
			token:    token,
			body:     marshalObj(t, ThemeRequest{Theme: "blue"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "no token",
			method:   http.MethodGet,
			path:     "/v1/session",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "bad token",
			method:   http.MethodGet,
			path:     "/v1/session",
			token:    "not.a.token",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "logout",
			method:   http.MethodPost,
			path:     "/v1/auth/logout",
			token:    token,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "session ended",
			method:   http.MethodGet,
			path:     "/v1/session",
			token:    token,
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "session expired, sign in again"}),
		},
	})
}

func Test_portalApi_superLogin(t *testing.T) {
	app := newTestApp(t)

	res := app.login(t, "/v1/auth/super", SuperLoginRequest{Key: " 998357 "})
	assert.Equal(t, session.RoleSuper, res.Session.Role)
	assert.True(t, res.Session.SuperAdmin)

	app.run(t, []httpTest{
		{
			name:     "wrong key",
			method:   http.MethodPost,
			path:     "/v1/auth/super",
			body:     marshalObj(t, SuperLoginRequest{Key: "123456"}),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: portal.ErrInvalidCredentials.Error()}),
		},
	})
}

func Test_linkApi(t *testing.T) {
	app := newTestApp(t)
	tenant := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")

	info := portal.LinkInfo{SchoolID: tenant.ID, Name: "Alpha", Link: "http://edusmart.test/?schoolId=" + tenant.ID}
	app.run(t, []httpTest{
		{
			name:     "known tenant",
			method:   http.MethodGet,
			path:     "/v1/link?schoolId=" + tenant.ID,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]interface{}{"found": true, "school": info}),
		},
		{
			name:     "unknown tenant",
			method:   http.MethodGet,
			path:     "/v1/link?schoolId=nope",
			wantCode: http.StatusOK,
			wantData: []byte(`{"found": false, "school": {}}`),
		},
		{
			name:     "no tenant",
			method:   http.MethodGet,
			path:     "/v1/link",
			wantCode: http.StatusOK,
			wantData: []byte(`{"found": false, "school": {}}`),
		},
		{
			name:     "qr of unknown tenant",
			method:   http.MethodGet,
			path:     "/v1/link/qr?schoolId=nope",
			wantCode: http.StatusNotFound,
		},
	})

	rec := app.serve(newRequest(http.MethodGet, "/v1/link/qr?schoolId="+tenant.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG"), rec.Body.Bytes()[:4])
}

func Test_linkApi_rateLimit(t *testing.T) {
	app := newTestApp(t, func(o *Options) {
		o.Conf.Server.LinkRateLimit = 1 // burst of 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, rec := newRequest(http.MethodGet, "/v1/link?schoolId=any")
		req.Header.Set("X-Real-Ip", "10.0.0.1")
		codes = append(codes, app.serve(req, rec).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// other clients are not limited
	req, rec := newRequest(http.MethodGet, "/v1/link?schoolId=any")
	req.Header.Set("X-Real-Ip", "10.0.0.2")
	assert.Equal(t, http.StatusOK, app.serve(req, rec).Code)
}

func Test_Server_health(t *testing.T) {
	app := newTestApp(t)
	rec := app.serve(newRequest(http.MethodGet, "/health"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.serve(newRequest(http.MethodGet, "/metrics"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edusmart_api_requests_total")
}
