package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/edusmart/apps/api/echo"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/tests"
)

func Test_superApi(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)
	alpha := testutil.CreateTenant(t, app.schools, "Alpha", "alpha")
	beta := testutil.CreateTenant(t, app.schools, "Beta", "beta")
	b := testutil.CreateBatch(t, app.schools, alpha.ID, "Morning")
	testutil.AddStudent(t, app.schools, alpha.ID, b.ID, "Asha", "1111")
	token := app.superToken(t)

	rec := app.serve(newAuthRequest(http.MethodGet, "/v1/super/schools", token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []school.RegistryEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = app.serve(newAuthRequest(http.MethodGet, "/v1/super/schools?search=ALPHA", token))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, alpha.ID, entries[0].ID)
	assert.Equal(t, "alpha", entries[0].Username)
	assert.Equal(t, 1, entries[0].Batches)
	assert.Equal(t, 1, entries[0].Students)

	adminToken := app.adminToken(t, "alpha")
	app.run(t, []httpTest{
		{"rename", http.MethodPut, "/v1/super/schools/" + beta.ID, []byte(`{"name": "Beta Academy"}`), token, http.StatusOK, nil},
		{"rename unknown", http.MethodPut, "/v1/super/schools/nope", []byte(`{"name": "Nope"}`), token, http.StatusNotFound, nil},
		{"weak password", http.MethodPut, "/v1/super/admins/alpha/password", []byte(`{"password": "123456789"}`), token, http.StatusBadRequest, nil},
		{"password like username", http.MethodPut, "/v1/super/admins/alpha/password", []byte(`{"password": "alpha123"}`), token, http.StatusBadRequest, nil},
		{"unknown admin", http.MethodPut, "/v1/super/admins/gamma/password", []byte(`{"password": "N3w-pass!"}`), token, http.StatusNotFound, nil},
		{"reset password", http.MethodPut, "/v1/super/admins/alpha/password", []byte(`{"password": "N3w-pass!"}`), token, http.StatusOK, marshalObj(t, SuccessResponse{Success: "password updated"})},
		{"old password", http.MethodPost, "/v1/auth/admin", marshalObj(t, AdminLoginRequest{Username: "alpha", Password: testutil.DefaultPassword}), "", http.StatusUnauthorized, nil},
		{"new password", http.MethodPost, "/v1/auth/admin", marshalObj(t, AdminLoginRequest{Username: "alpha", Password: "N3w-pass!"}), "", http.StatusOK, nil},
		{"admin forbidden", http.MethodGet, "/v1/super/schools", nil, adminToken, http.StatusForbidden, marshalObj(t, errForbidden)},
		{"delete", http.MethodDelete, "/v1/super/schools/" + alpha.ID, nil, token, http.StatusNoContent, nil},
		{"delete again", http.MethodDelete, "/v1/super/schools/" + alpha.ID, nil, token, http.StatusNotFound, nil},
	})

	info, err := app.schools.GetInfo(ctx, beta.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beta Academy", info.Name)

	_, err = app.schools.GetAdmin(ctx, "alpha")
	assert.ErrorIs(t, err, school.ErrAdminNotFound, "the admin credential goes with the tenant")
	_, err = app.schools.GetBatch(ctx, alpha.ID, b.ID)
	assert.ErrorIs(t, err, school.ErrBatchNotFound)
}
