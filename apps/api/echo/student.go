package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

type studentApi struct {
	schools  *school.Service
	sessions *session.Service
	logger   core.Logger
	validate *validator.Validate
}

func registerStudentAPI(g *echo.Group, s *Server) {
	api := studentApi{
		schools:  s.opts.Schools,
		sessions: s.opts.Sessions,
		logger:   s.opts.Logger,
		validate: s.opts.Validate,
	}
	live := profileFeed{schools: s.opts.Schools, sessions: s.opts.Sessions, logger: s.opts.Logger, validate: s.opts.Validate, translator: s.opts.Translator}

	sg := g.Group("/student", s.auth.authed(session.RoleStudent)...)
	sg.GET("/dashboard", api.dashboard)
	sg.GET("/profiles", api.profiles)
	sg.POST("/profiles", api.addProfile)
	sg.PUT("/profiles/active", api.switchProfile)
	sg.POST("/notifications/read", api.markRead)
	sg.PUT("/password", api.setPassword)
	sg.GET("/ws", live.serve)
}

func activeRef(sess session.Session) (school.StudentRef, error) {
	p, ok := sess.ActiveProfile()
	if !ok {
		return school.StudentRef{}, session.ErrProfileNotFound
	}
	return school.StudentRef{SchoolID: p.SchoolID, BatchID: p.BatchID, StudentID: p.StudentID}, nil
}

// Handlers

func (api *studentApi) dashboard(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	d, err := api.readDashboard(ctx.Request().Context(), sess)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

// readDashboard builds the dashboard out of plain reads. A profile whose student id is gone is
// looked up again by name and phone, and the session is updated when found.
func (api *studentApi) readDashboard(ctx context.Context, sess session.Session) (livesync.Dashboard, error) {
	now := api.schools.Now()
	d := livesync.Dashboard{Active: sess.Active, Profiles: make([]livesync.StudentView, 0, len(sess.Profiles))}
	for i, p := range sess.Profiles {
		view := livesync.StudentView{Profile: p, BatchName: p.BatchName}
		b, err := api.schools.GetBatch(ctx, p.SchoolID, p.BatchID)
		if err != nil && !school.IsNotFound(err) {
			return d, errors.Wrap(err, "reading profile batch")
		}
		s, ok := b.Student(p.StudentID)
		if !ok {
			if s, b, err = api.schools.FindStudent(ctx, p.SchoolID, p.Name, p.Phone); err == nil {
				ok = true
				view.Profile = session.ProfileOf(p.SchoolID, s, b)
				if _, err = api.sessions.UpdateProfile(ctx, sess.ID, i, view.Profile); err != nil {
					api.logger.Warn("updating re-resolved profile", err, sess.LogPerson())
				}
			} else if !school.IsNotFound(err) {
				return d, errors.Wrap(err, "resolving profile")
			}
		}
		if ok {
			view.Found = true
			view.Student = s.Public()
			view.BatchName = b.Name
			view.Timing = b.Timing
			view.Summary = school.StudentSummary(s, now)
		}
		d.Profiles = append(d.Profiles, view)
	}

	if active, ok := sess.ActiveProfile(); ok {
		notices, err := api.schools.Notices(ctx, active.SchoolID)
		if err != nil && !school.IsNotFound(err) {
			return d, errors.Wrap(err, "reading notices")
		}
		d.Notices = notices
	}
	if d.Notices == nil {
		d.Notices = []school.Notice{}
	}
	return d, nil
}

func (api *studentApi) profiles(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	profiles := sess.Profiles
	if profiles == nil {
		profiles = []session.Profile{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"profiles": profiles, "active": sess.Active})
}

func (api *studentApi) addProfile(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data ProfileRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProfileRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sess, err = api.sessions.AddProfile(ctx.Request().Context(), sess.ID, data.Name, data.Phone, data.Password)
	if err != nil {
		return errors.Wrap(err, "adding profile")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *studentApi) switchProfile(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data SwitchRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SwitchRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sess, err = api.sessions.Switch(ctx.Request().Context(), sess.ID, *data.Index)
	if err != nil {
		return errors.Wrap(err, "switching profile")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *studentApi) markRead(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	ref, err := activeRef(sess)
	if err != nil {
		return err
	}
	n, err := api.schools.MarkNotificationsRead(ctx.Request().Context(), ref)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, ReadResponse{Read: n})
}

func (api *studentApi) setPassword(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.StudentPassword
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentPassword")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	ref, err := activeRef(sess)
	if err != nil {
		return err
	}

	if err = api.schools.SetStudentPassword(ctx.Request().Context(), ref, data.Password); err != nil {
		return errors.Wrap(err, "setting student password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "password updated"})
}
