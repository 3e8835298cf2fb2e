// Package session holds the server side state of a signed in admin, student or super admin.
//
// A student session may link several student profiles (siblings) of the same tenant; one of them
// is active at a time.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
	RoleSuper   = "super"
)

// Themes
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

var (
	// errors
	ErrNotFound        = errors.New("session not found")
	ErrProfileExists   = errors.New("this student is already added")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidTheme    = errors.New("theme must be light or dark")
	ErrNotStudent      = errors.New("not a student session")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

type (
	Profile struct {
		StudentID string `json:"studentId"`
		Name      string `json:"name"`
		Phone     string `json:"phone"`
		BatchID   string `json:"batchId"`
		BatchName string `json:"batchName"`
		SchoolID  string `json:"schoolId"`
	}

	Session struct {
		ID         string    `json:"id"`
		Role       string    `json:"role"`
		Username   string    `json:"username,omitempty"` // admins
		SchoolID   string    `json:"schoolId,omitempty"`
		Profiles   []Profile `json:"profiles,omitempty"` // students
		Active     int       `json:"active"`
		Theme      string    `json:"theme"`
		SuperAdmin bool      `json:"superAdmin,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
		ExpiresAt  time.Time `json:"expiresAt"`
	}

	// Repository persists sessions. Implementations live under storage/session.
	Repository interface {
		Save(ctx context.Context, sess Session) error
		// Get returns ErrNotFound when there is no such session.
		Get(ctx context.Context, id string) (Session, error)
		Delete(ctx context.Context, id string) error
		// DeleteExpired removes the sessions expired at now and returns how many were removed.
		DeleteExpired(ctx context.Context, now time.Time) (int, error)
	}
)

// ActiveProfile returns the active student profile.
func (s Session) ActiveProfile() (Profile, bool) {
	if s.Active < 0 || s.Active >= len(s.Profiles) {
		return Profile{}, false
	}
	return s.Profiles[s.Active], true
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasProfile reports whether a profile identified by (name, phone) is already linked.
func (s Session) HasProfile(name, phone string) bool {
	for _, p := range s.Profiles {
		if core.SameName(p.Name, name) && core.SamePhone(p.Phone, phone) {
			return true
		}
	}
	return false
}

// LogPerson identifies the session in log entries.
func (s Session) LogPerson() *core.LogPerson {
	person := &core.LogPerson{ID: s.ID, Username: s.Username, SchoolID: s.SchoolID}
	if p, ok := s.ActiveProfile(); ok {
		person.Username = p.Name
	}
	return person
}
