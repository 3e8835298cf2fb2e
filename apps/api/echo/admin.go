package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/console"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	rewritesvc "github.com/trezcool/edusmart/services/rewrite"
)

type adminApi struct {
	schools  *school.Service
	rewriter rewritesvc.Rewriter
	logger   core.Logger
	validate *validator.Validate
}

func registerAdminAPI(g *echo.Group, s *Server) {
	api := adminApi{
		schools:  s.opts.Schools,
		rewriter: s.opts.Rewriter,
		logger:   s.opts.Logger,
		validate: s.opts.Validate,
	}
	live := consoleFeed{schools: s.opts.Schools, logger: s.opts.Logger, validate: s.opts.Validate, translator: s.opts.Translator}

	ag := g.Group("/admin", s.auth.authed(session.RoleAdmin)...)
	ag.GET("/info", api.info)
	ag.PUT("/info", api.updateInfo)
	ag.GET("/ws", live.serve)

	bg := ag.Group("/batches")
	bg.GET("", api.batches)
	bg.POST("", api.createBatch)
	bg.GET("/:batchId", api.batch)
	bg.DELETE("/:batchId", api.deleteBatch)
	bg.PUT("/:batchId/timing", api.setTiming)
	bg.POST("/:batchId/attendance/present", api.markAllPresent)
	bg.POST("/:batchId/students", api.addStudent)

	sg := bg.Group("/:batchId/students/:studentId")
	sg.GET("", api.student)
	sg.DELETE("", api.removeStudent)
	sg.POST("/attendance", api.toggleAttendance)
	sg.POST("/fees", api.toggleFee)
	sg.PUT("/performance", api.setPerformance)
	sg.POST("/notifications", api.notify)

	ng := ag.Group("/notices")
	ng.GET("", api.notices)
	ng.POST("", api.postNotice)
	ng.POST("/rewrite", api.rewriteNotice)
	ng.DELETE("/:noticeId", api.deleteNotice)
}

func studentRef(ctx echo.Context, sess session.Session) school.StudentRef {
	return school.StudentRef{SchoolID: sess.SchoolID, BatchID: ctx.Param("batchId"), StudentID: ctx.Param("studentId")}
}

// Handlers

func (api *adminApi) info(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	info, err := api.schools.GetInfo(ctx.Request().Context(), sess.SchoolID)
	if err != nil {
		return errors.Wrap(err, "getting school info")
	}
	return ctx.JSON(http.StatusOK, school.Tenant{ID: sess.SchoolID, Info: info, Username: sess.Username})
}

func (api *adminApi) updateInfo(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.InfoUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to InfoUpdate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	info, err := api.schools.UpdateInfo(ctx.Request().Context(), sess.SchoolID, data)
	if err != nil {
		return errors.Wrap(err, "updating school info")
	}
	return ctx.JSON(http.StatusOK, school.Tenant{ID: sess.SchoolID, Info: info, Username: sess.Username})
}

// batches lists the batches with the attendance counts of ?date= (today by default).
func (api *adminApi) batches(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	date := ctx.QueryParam("date")
	if date == "" {
		date = school.DayOf(api.schools.Now()).String()
	} else if _, err = school.ParseDay(date); err != nil {
		return school.ErrInvalidDate
	}

	batches, err := api.schools.Batches(ctx.Request().Context(), sess.SchoolID)
	if err != nil {
		return errors.Wrap(err, "listing batches")
	}
	res := make([]BatchStats, 0, len(batches))
	for _, b := range batches {
		res = append(res, BatchStats{Batch: publicBatch(b), Stats: school.BatchDayStats(b, date)})
	}
	return ctx.JSON(http.StatusOK, res)
}

// publicBatch strips the student password hashes.
func publicBatch(b school.Batch) school.Batch {
	if len(b.Students) == 0 {
		return b
	}
	students := make(map[string]school.Student, len(b.Students))
	for id, s := range b.Students {
		students[id] = s.Public()
	}
	b.Students = students
	return b
}

func (api *adminApi) createBatch(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.NewBatch
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBatch")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	b, err := api.schools.CreateBatch(ctx.Request().Context(), sess.SchoolID, data)
	if err != nil {
		return errors.Wrap(err, "creating batch")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *adminApi) batch(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	b, err := api.schools.GetBatch(ctx.Request().Context(), sess.SchoolID, ctx.Param("batchId"))
	if err != nil {
		return errors.Wrap(err, "getting batch")
	}
	return ctx.JSON(http.StatusOK, publicBatch(b))
}

func (api *adminApi) deleteBatch(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	if err = api.schools.DeleteBatch(ctx.Request().Context(), sess.SchoolID, ctx.Param("batchId")); err != nil {
		return errors.Wrap(err, "deleting batch")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *adminApi) setTiming(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.TimingUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TimingUpdate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	timing := school.Timing{Start: data.Start, End: data.End}
	if err = api.schools.SetTiming(ctx.Request().Context(), sess.SchoolID, ctx.Param("batchId"), timing); err != nil {
		return errors.Wrap(err, "setting timing")
	}
	return ctx.JSON(http.StatusOK, timing)
}

func (api *adminApi) markAllPresent(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data AttendanceRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	n, err := api.schools.MarkAllPresent(ctx.Request().Context(), sess.SchoolID, ctx.Param("batchId"), data.Date)
	if err != nil {
		return errors.Wrap(err, "marking all present")
	}
	return ctx.JSON(http.StatusOK, MarkAllResponse{Marked: n})
}

func (api *adminApi) addStudent(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.NewStudent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.schools.AddStudent(ctx.Request().Context(), sess.SchoolID, ctx.Param("batchId"), data)
	if err != nil {
		return errors.Wrap(err, "adding student")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *adminApi) student(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	s, err := api.schools.GetStudent(ctx.Request().Context(), studentRef(ctx, sess))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"student": s.Public(),
		"summary": school.StudentSummary(s, api.schools.Now()),
	})
}

func (api *adminApi) removeStudent(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	if err = api.schools.RemoveStudent(ctx.Request().Context(), studentRef(ctx, sess)); err != nil {
		return errors.Wrap(err, "removing student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// toggleAttendance moves the student to the next status of the date; the transition into absent
// notifies the student.
func (api *adminApi) toggleAttendance(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data AttendanceRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	ref := studentRef(ctx, sess)
	s, err := api.schools.GetStudent(reqCtx, ref)
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	next := console.NextStatus(s.Status(data.Date))
	if _, err = api.schools.SetAttendance(reqCtx, ref, data.Date, next, true); err != nil {
		return errors.Wrap(err, "setting attendance")
	}
	return ctx.JSON(http.StatusOK, AttendanceResponse{Status: next})
}

func (api *adminApi) toggleFee(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data FeeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FeeRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	ref := studentRef(ctx, sess)
	s, err := api.schools.GetStudent(reqCtx, ref)
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	year := strconv.Itoa(data.Year)
	next := console.NextFeeStatus(s.FeeStatus(year, data.Month))
	if err = api.schools.SetFee(reqCtx, ref, year, data.Month, next); err != nil {
		return errors.Wrap(err, "setting fee")
	}
	return ctx.JSON(http.StatusOK, FeeResponse{Status: next})
}

func (api *adminApi) setPerformance(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data PerformanceRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PerformanceRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.schools.SetPerformance(ctx.Request().Context(), studentRef(ctx, sess), *data.Score); err != nil {
		return errors.Wrap(err, "setting performance")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *adminApi) notify(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data NotificationRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NotificationRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	id, err := api.schools.AddNotification(ctx.Request().Context(), studentRef(ctx, sess), data.Text, school.NotificationInfo)
	if err != nil {
		return errors.Wrap(err, "adding notification")
	}
	return ctx.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (api *adminApi) notices(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	notices, err := api.schools.Notices(ctx.Request().Context(), sess.SchoolID)
	if err != nil {
		return errors.Wrap(err, "listing notices")
	}
	items := make([]NoticeItem, 0, len(notices))
	for _, n := range notices {
		items = append(items, NoticeItem{ID: n.ID, Notice: n})
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *adminApi) postNotice(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data school.NewNotice
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNotice")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	data.Sender = sess.Username

	n, err := api.schools.PostNotice(ctx.Request().Context(), sess.SchoolID, data)
	if err != nil {
		return errors.Wrap(err, "posting notice")
	}
	return ctx.JSON(http.StatusCreated, NoticeItem{ID: n.ID, Notice: n})
}

// rewriteNotice polishes a draft; the draft comes back untouched when rewriting fails.
func (api *adminApi) rewriteNotice(ctx echo.Context) error {
	var data RewriteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RewriteRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, RewriteResponse{Content: api.rewriter.Rewrite(ctx.Request().Context(), data.Prompt)})
}

func (api *adminApi) deleteNotice(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	if err = api.schools.DeleteNotice(ctx.Request().Context(), sess.SchoolID, ctx.Param("noticeId")); err != nil {
		return errors.Wrap(err, "deleting notice")
	}
	return ctx.NoContent(http.StatusNoContent)
}
