package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

type superApi struct {
	schools  *school.Service
	logger   core.Logger
	validate *validator.Validate
}

func registerSuperAPI(g *echo.Group, s *Server) {
	api := superApi{
		schools:  s.opts.Schools,
		logger:   s.opts.Logger,
		validate: s.opts.Validate,
	}

	sg := g.Group("/super", s.auth.authed(session.RoleSuper)...)
	sg.GET("/schools", api.registry)
	sg.PUT("/schools/:schoolId", api.updateSchool)
	sg.DELETE("/schools/:schoolId", api.deleteSchool)
	sg.PUT("/admins/:username/password", api.resetAdminPassword)
}

// Handlers

// registry lists every tenant with its admin username, filtered by ?search=.
func (api *superApi) registry(ctx echo.Context) error {
	entries, err := api.schools.Registry(ctx.Request().Context(), ctx.QueryParam("search"))
	if err != nil {
		return errors.Wrap(err, "listing schools")
	}
	if entries == nil {
		entries = []school.RegistryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *superApi) updateSchool(ctx echo.Context) error {
	var data school.InfoUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to InfoUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	schoolID := ctx.Param("schoolId")
	info, err := api.schools.UpdateInfo(ctx.Request().Context(), schoolID, data)
	if err != nil {
		return errors.Wrap(err, "updating school info")
	}
	return ctx.JSON(http.StatusOK, school.Tenant{ID: schoolID, Info: info})
}

func (api *superApi) deleteSchool(ctx echo.Context) error {
	schoolID := ctx.Param("schoolId")
	if err := api.schools.DeleteTenant(ctx.Request().Context(), schoolID); err != nil {
		return errors.Wrap(err, "deleting school")
	}
	sess, _ := mustSession(ctx)
	api.logger.Info("school deleted", map[string]interface{}{"schoolId": schoolID}, sess.LogPerson())
	return ctx.NoContent(http.StatusNoContent)
}

func (api *superApi) resetAdminPassword(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	admin, err := api.schools.GetAdmin(reqCtx, ctx.Param("username"))
	if err != nil {
		return errors.Wrap(err, "getting admin")
	}

	data := school.AdminPassword{Username: admin.Username}
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AdminPassword")
	}
	if info, err := api.schools.GetInfo(reqCtx, admin.SchoolID); err == nil {
		data.SchoolName = info.Name
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.schools.SetAdminPassword(reqCtx, admin.Username, data.Password); err != nil {
		return errors.Wrap(err, "setting admin password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "password updated"})
}
