package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/trezcool/edusmart/apps/api/echo"
	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/services/email"
	"github.com/trezcool/edusmart/tests"
)

var (
	errMissingToken = httpErr{Error: "not authenticated"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// testApp is a server over a fresh in-memory store.
type testApp struct {
	conf     *core.Config
	server   *Server
	schools  *school.Service
	sessions *session.Service
	mailer   *emailsvc.ConsoleService
}

func newTestApp(t *testing.T, opts ...func(*Options)) *testApp {
	t.Helper()
	store := testutil.NewStore(t)
	schools, mailer := testutil.NewSchoolService(t, store)
	sessions := testutil.NewSessionService(schools)
	validate, translator := testutil.NewValidator()
	conf := core.NewTestConfig()

	o := &Options{
		Conf:           conf,
		Logger:         core.NopLogger{},
		DisableReqLogs: true,
		Schools:        schools,
		Sessions:       sessions,
		Portal:         portal.NewService(schools, sessions, conf, core.NopLogger{}),
		Validate:       validate,
		Translator:     translator,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &testApp{conf: conf, server: NewServer(o), schools: schools, sessions: sessions, mailer: mailer}
}

func (app *testApp) serve(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	app.server.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}

func (app *testApp) login(t *testing.T, path string, body interface{}) LoginResponse {
	t.Helper()
	rec := app.serve(newRequest(http.MethodPost, path, marshalObj(t, body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res
}

func (app *testApp) adminToken(t *testing.T, username string) string {
	return app.login(t, "/v1/auth/admin", AdminLoginRequest{Username: username, Password: testutil.DefaultPassword}).Token
}

func (app *testApp) studentToken(t *testing.T, schoolID, name, phone string) string {
	return app.login(t, "/v1/auth/student", StudentLoginRequest{SchoolID: schoolID, Name: name, Phone: phone}).Token
}

func (app *testApp) superToken(t *testing.T) string {
	return app.login(t, "/v1/auth/super", SuperLoginRequest{Key: app.conf.SuperAdminKey}).Token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return false, nil
}

// checkCodeAndData compares the status code and, when wantData is set, the JSON body.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %v", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
