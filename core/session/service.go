package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
)

const defaultTTL = 7 * 24 * time.Hour

// Service manages the session lifecycle: create, read, update, clear on logout.
type Service struct {
	repo    Repository
	schools *school.Service
	ttl     time.Duration
	now     func() time.Time
}

func NewService(repo Repository, schools *school.Service, conf *core.Config) *Service {
	ttl := conf.Server.JWTExpirationDelta
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		repo:    repo,
		schools: schools,
		ttl:     ttl,
		now:     schools.Now,
	}
}

func (svc *Service) TTL() time.Duration {
	return svc.ttl
}

// Create stores sess under a new id.
func (svc *Service) Create(ctx context.Context, sess Session) (Session, error) {
	now := svc.now()
	sess.ID = core.NewID()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(svc.ttl)
	if sess.Theme == "" {
		sess.Theme = ThemeLight
	}
	if err := svc.repo.Save(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	return sess, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Session, error) {
	sess, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Expired(svc.now()) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (svc *Service) save(ctx context.Context, sess Session) (Session, error) {
	if err := svc.repo.Save(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	return sess, nil
}

// ProfileOf builds the profile of a student found in batch b.
func ProfileOf(schoolID string, s school.Student, b school.Batch) Profile {
	return Profile{
		StudentID: s.ID,
		Name:      s.Name,
		Phone:     s.Phone,
		BatchID:   b.ID,
		BatchName: b.Name,
		SchoolID:  schoolID,
	}
}

// AddProfile links the student identified by (name, phone) to a student session and makes it active.
// A student who set a custom password must give it, as on login. It fails with ErrProfileExists when
// that student is already linked, and with school.ErrStudentNotFound when no batch of the tenant has it.
func (svc *Service) AddProfile(ctx context.Context, id, name, phone, password string) (Session, error) {
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Role != RoleStudent {
		return Session{}, ErrNotStudent
	}
	if sess.HasProfile(name, phone) {
		return Session{}, ErrProfileExists
	}
	s, b, err := svc.schools.FindStudent(ctx, sess.SchoolID, name, phone)
	if err != nil {
		return Session{}, err
	}
	if s.HasPassword() && s.CheckPassword(password) != nil {
		return Session{}, ErrInvalidCredentials
	}
	sess.Profiles = append(sess.Profiles, ProfileOf(sess.SchoolID, s, b))
	sess.Active = len(sess.Profiles) - 1
	return svc.save(ctx, sess)
}

// Switch makes the profile at index active.
func (svc *Service) Switch(ctx context.Context, id string, index int) (Session, error) {
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if index < 0 || index >= len(sess.Profiles) {
		return Session{}, ErrProfileNotFound
	}
	sess.Active = index
	return svc.save(ctx, sess)
}

// UpdateProfile replaces the profile at index, after the student was re-resolved.
func (svc *Service) UpdateProfile(ctx context.Context, id string, index int, p Profile) (Session, error) {
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if index < 0 || index >= len(sess.Profiles) {
		return Session{}, ErrProfileNotFound
	}
	if sess.Profiles[index] == p {
		return sess, nil
	}
	sess.Profiles[index] = p
	return svc.save(ctx, sess)
}

func (svc *Service) SetTheme(ctx context.Context, id, theme string) (Session, error) {
	if theme != ThemeLight && theme != ThemeDark {
		return Session{}, ErrInvalidTheme
	}
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.Theme = theme
	return svc.save(ctx, sess)
}

// Logout clears the whole session: profiles, theme and flags.
func (svc *Service) Logout(ctx context.Context, id string) error {
	return errors.Wrap(svc.repo.Delete(ctx, id), "deleting session")
}

// DeleteExpired purges the expired sessions; run periodically.
func (svc *Service) DeleteExpired(ctx context.Context) (int, error) {
	n, err := svc.repo.DeleteExpired(ctx, svc.now())
	return n, errors.Wrap(err, "deleting expired sessions")
}
