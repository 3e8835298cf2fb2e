// Package testutil holds the fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/services/email"
	"github.com/trezcool/edusmart/storage/realtime/inmem"
	"github.com/trezcool/edusmart/storage/session/inmem"
)

// DefaultPassword satisfies the admin password policy for every fixture username.
const DefaultPassword = "Str0ng-pass!"

// Clock is a settable time source, safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// NewStore returns an in-memory store closed at the end of the test.
func NewStore(t *testing.T) core.Store {
	store := inmem.NewStore(core.NopLogger{})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func NewValidator() (*validator.Validate, ut.Translator) {
	translator := core.NewTranslator()
	return school.NewValidator(translator), translator
}

// NewSchoolService returns a service over store sending mails to the returned console mock.
func NewSchoolService(t *testing.T, store core.Store) (*school.Service, *emailsvc.ConsoleService) {
	conf := core.NewTestConfig()
	mailer := emailsvc.NewConsoleServiceMock(conf)
	return school.NewService(store, conf, mailer, core.NopLogger{}), mailer
}

// NewSessionService returns a session service over an in-memory repository, sharing the clock of schools.
func NewSessionService(schools *school.Service) *session.Service {
	return session.NewService(inmemsession.NewRepository(), schools, core.NewTestConfig())
}

func CreateTenant(t *testing.T, svc *school.Service, name, username string) school.Tenant {
	t.Helper()
	tenant, err := svc.Register(context.Background(), school.Registration{
		Name:     name,
		Owner:    "Owner of " + name,
		Phone:    "5550000",
		Plan:     school.PlanBasic,
		Username: username,
		Password: DefaultPassword,
	})
	if err != nil {
		t.Fatalf("CreateTenant() failed: %v", err)
	}
	return tenant
}

func CreateBatch(t *testing.T, svc *school.Service, schoolID, name string) school.Batch {
	t.Helper()
	b, err := svc.CreateBatch(context.Background(), schoolID, school.NewBatch{Name: name})
	if err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}
	return b
}

func AddStudent(t *testing.T, svc *school.Service, schoolID, batchID, name, phone string) school.StudentRef {
	t.Helper()
	s, err := svc.AddStudent(context.Background(), schoolID, batchID, school.NewStudent{Name: name, Phone: phone})
	if err != nil {
		t.Fatalf("AddStudent() failed: %v", err)
	}
	return school.StudentRef{SchoolID: schoolID, BatchID: batchID, StudentID: s.ID}
}
