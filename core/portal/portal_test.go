package portal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	. "github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	testutil "github.com/trezcool/edusmart/tests"
)

type fixture struct {
	schools *school.Service
	svc     *Service
	alpha   school.Tenant
	beta    school.Tenant
	asha    school.StudentRef
}

func setup(t *testing.T) fixture {
	schools, _ := testutil.NewSchoolService(t, testutil.NewStore(t))
	sessions := testutil.NewSessionService(schools)
	f := fixture{
		schools: schools,
		svc:     NewService(schools, sessions, core.NewTestConfig(), core.NopLogger{}),
		alpha:   testutil.CreateTenant(t, schools, "Alpha", "alpha"),
		beta:    testutil.CreateTenant(t, schools, "Beta", "beta"),
	}
	b := testutil.CreateBatch(t, schools, f.alpha.ID, "Batch A")
	f.asha = testutil.AddStudent(t, schools, f.alpha.ID, b.ID, "Asha", "9999999999")
	return f
}

func TestResolveLink(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	info, ok := f.svc.ResolveLink(ctx, f.alpha.ID)
	require.True(t, ok)
	assert.Equal(t, "Alpha", info.Name)
	assert.Equal(t, "http://edusmart.test/?schoolId="+f.alpha.ID, info.Link)

	for _, id := range []string{"", "  ", "unknown", "bad/id"} {
		info, ok = f.svc.ResolveLink(ctx, id)
		assert.False(t, ok, id)
		assert.Equal(t, LinkInfo{}, info, id)
	}
}

func TestAdminLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sess, err := f.svc.AdminLogin(ctx, "alpha", testutil.DefaultPassword, f.alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, session.RoleAdmin, sess.Role)
	assert.Equal(t, "alpha", sess.Username)
	assert.Equal(t, f.alpha.ID, sess.SchoolID)

	// without a link
	_, err = f.svc.AdminLogin(ctx, "alpha", testutil.DefaultPassword, "")
	assert.NoError(t, err)

	tests := []struct {
		name, username, password, link string
		wantErr                        error
	}{
		{"unknown username", "ghost", testutil.DefaultPassword, "", ErrInvalidCredentials},
		{"wrong password", "alpha", "nope", f.alpha.ID, ErrInvalidCredentials},
		{"another tenant link", "alpha", testutil.DefaultPassword, f.beta.ID, ErrTenantMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AdminLogin(ctx, tt.username, tt.password, tt.link)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStudentLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sess, err := f.svc.StudentLogin(ctx, f.alpha.ID, "asha", "9999999999", "")
	require.NoError(t, err)
	assert.Equal(t, session.RoleStudent, sess.Role)
	p, ok := sess.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, f.asha.StudentID, p.StudentID)
	assert.Equal(t, "Batch A", p.BatchName)

	_, err = f.svc.StudentLogin(ctx, "", "Asha", "9999999999", "")
	assert.ErrorIs(t, err, ErrMissingLink)
	_, err = f.svc.StudentLogin(ctx, f.beta.ID, "Asha", "9999999999", "")
	assert.ErrorIs(t, err, ErrStudentNotFound)

	require.NoError(t, f.schools.SetStudentPassword(ctx, f.asha, "4321"))
	_, err = f.svc.StudentLogin(ctx, f.alpha.ID, "Asha", "9999999999", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.StudentLogin(ctx, f.alpha.ID, "Asha", "9999999999", "4321")
	assert.NoError(t, err)
}

func TestSuperAdminUnlock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sess, err := f.svc.SuperAdminUnlock(ctx, core.NewTestConfig().SuperAdminKey)
	require.NoError(t, err)
	assert.True(t, sess.SuperAdmin)
	assert.Equal(t, session.RoleSuper, sess.Role)

	for _, key := range []string{"", "998356", "9983570"} {
		_, err = f.svc.SuperAdminUnlock(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidCredentials, key)
	}
}
