// Package portal resolves the magic link tenant and signs admins, students and the super admin in.
package portal

import (
	"context"
	"crypto/subtle"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

var (
	// errors
	ErrInvalidCredentials = session.ErrInvalidCredentials
	ErrTenantMismatch     = errors.New("this admin does not belong to this coaching center link")
	ErrMissingLink        = errors.New("use the link shared by your coaching center")
	ErrStudentNotFound    = school.ErrStudentNotFound
)

// LinkInfo is what the entry page shows for a magic link.
type LinkInfo struct {
	SchoolID string `json:"schoolId,omitempty"`
	Name     string `json:"name,omitempty"`
	Link     string `json:"link,omitempty"`
}

type Service struct {
	schools  *school.Service
	sessions *session.Service
	conf     *core.Config
	logger   core.Logger
}

func NewService(schools *school.Service, sessions *session.Service, conf *core.Config, logger core.Logger) *Service {
	return &Service{schools: schools, sessions: sessions, conf: conf, logger: logger}
}

// ResolveLink looks the tenant of a magic link up. It is best effort: an empty, unknown or
// unreadable id yields the generic entry and false.
func (svc *Service) ResolveLink(ctx context.Context, schoolID string) (LinkInfo, bool) {
	schoolID = core.CleanString(schoolID)
	if schoolID == "" {
		return LinkInfo{}, false
	}
	info, err := svc.schools.GetInfo(ctx, schoolID)
	if err != nil {
		if !school.IsNotFound(err) {
			svc.logger.Warn("resolving magic link", err, &core.LogPerson{SchoolID: schoolID})
		}
		return LinkInfo{}, false
	}
	return LinkInfo{SchoolID: schoolID, Name: info.Name, Link: svc.conf.MagicLink(schoolID)}, true
}

// AdminLogin checks the admin credential. When the login comes through a magic link, the admin must
// belong to that tenant even with a correct password.
func (svc *Service) AdminLogin(ctx context.Context, username, password, linkSchoolID string) (session.Session, error) {
	admin, err := svc.schools.GetAdmin(ctx, username)
	if err != nil {
		if errors.Is(err, school.ErrAdminNotFound) {
			return session.Session{}, ErrInvalidCredentials
		}
		return session.Session{}, err
	}
	if admin.CheckPassword(password) != nil {
		return session.Session{}, ErrInvalidCredentials
	}
	if linkSchoolID = core.CleanString(linkSchoolID); linkSchoolID != "" && admin.SchoolID != linkSchoolID {
		svc.logger.Warn("admin login through another tenant link", &core.LogPerson{Username: admin.Username, SchoolID: linkSchoolID})
		return session.Session{}, ErrTenantMismatch
	}
	return svc.sessions.Create(ctx, session.Session{
		Role:     session.RoleAdmin,
		Username: admin.Username,
		SchoolID: admin.SchoolID,
	})
}

// StudentLogin finds the student by (name, phone) in the link tenant. A student who set a custom
// password must give it.
func (svc *Service) StudentLogin(ctx context.Context, linkSchoolID, name, phone, password string) (session.Session, error) {
	linkSchoolID = core.CleanString(linkSchoolID)
	if linkSchoolID == "" {
		return session.Session{}, ErrMissingLink
	}
	s, b, err := svc.schools.FindStudent(ctx, linkSchoolID, name, phone)
	if err != nil {
		return session.Session{}, err
	}
	if s.HasPassword() && s.CheckPassword(password) != nil {
		return session.Session{}, ErrInvalidCredentials
	}
	return svc.sessions.Create(ctx, session.Session{
		Role:     session.RoleStudent,
		SchoolID: linkSchoolID,
		Profiles: []session.Profile{session.ProfileOf(linkSchoolID, s, b)},
	})
}

// SuperAdminUnlock opens a super admin session when key is the configured master key.
func (svc *Service) SuperAdminUnlock(ctx context.Context, key string) (session.Session, error) {
	if !svc.CheckSuperAdminKey(key) {
		svc.logger.Warn("super admin unlock failed")
		return session.Session{}, ErrInvalidCredentials
	}
	return svc.sessions.Create(ctx, session.Session{Role: session.RoleSuper, SuperAdmin: true})
}

func (svc *Service) CheckSuperAdminKey(key string) bool {
	master := svc.conf.SuperAdminKey
	if master == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(master), []byte(key)) == 1
}
