package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

type portalApi struct {
	conf     *core.Config
	schools  *school.Service
	sessions *session.Service
	portal   *portal.Service
	auth     *authenticator
	logger   core.Logger
	validate *validator.Validate
}

func registerPortalAPI(g *echo.Group, s *Server) {
	api := portalApi{
		conf:     s.opts.Conf,
		schools:  s.opts.Schools,
		sessions: s.opts.Sessions,
		portal:   s.opts.Portal,
		auth:     s.auth,
		logger:   s.opts.Logger,
		validate: s.opts.Validate,
	}
	links := linkApi{portal: s.opts.Portal, logger: s.opts.Logger}

	// un-authed endpoints
	lg := g.Group("/link", linkRateLimiter(api.conf, api.logger))
	lg.GET("", links.resolve)
	lg.GET("/qr", links.qrCode)

	g.POST("/register", api.register)
	ag := g.Group("/auth")
	ag.POST("/admin", api.adminLogin)
	ag.POST("/student", api.studentLogin)
	ag.POST("/super", api.superLogin)

	// authed endpoints
	ag.POST("/logout", api.logout, s.auth.authed()...)
	sg := g.Group("/session", s.auth.authed()...)
	sg.GET("", api.currentSession)
	sg.PUT("/theme", api.setTheme)
}

// Handlers

func (api *portalApi) register(ctx echo.Context) error {
	var data school.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tenant, err := api.schools.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering school")
	}
	api.logger.Info("school registered", &core.LogPerson{Username: tenant.Username, SchoolID: tenant.ID})
	return ctx.JSON(http.StatusCreated, RegisterResponse{Tenant: tenant, Link: api.conf.MagicLink(tenant.ID)})
}

func (api *portalApi) login(ctx echo.Context, sess session.Session) error {
	token, err := api.auth.GenerateToken(sess)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Session: sess})
}

func (api *portalApi) adminLogin(ctx echo.Context) error {
	var data AdminLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AdminLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.portal.AdminLogin(ctx.Request().Context(), data.Username, data.Password, data.SchoolID)
	if err != nil {
		return errors.Wrap(err, "authenticating admin")
	}
	return api.login(ctx, sess)
}

func (api *portalApi) studentLogin(ctx echo.Context) error {
	var data StudentLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.portal.StudentLogin(ctx.Request().Context(), data.SchoolID, data.Name, data.Phone, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating student")
	}
	return api.login(ctx, sess)
}

func (api *portalApi) superLogin(ctx echo.Context) error {
	var data SuperLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SuperLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.portal.SuperAdminUnlock(ctx.Request().Context(), data.Key)
	if err != nil {
		return errors.Wrap(err, "unlocking super admin")
	}
	return api.login(ctx, sess)
}

func (api *portalApi) logout(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	if err = api.sessions.Logout(ctx.Request().Context(), sess.ID); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *portalApi) currentSession(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *portalApi) setTheme(ctx echo.Context) error {
	sess, err := mustSession(ctx)
	if err != nil {
		return err
	}
	var data ThemeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ThemeRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sess, err = api.sessions.SetTheme(ctx.Request().Context(), sess.ID, data.Theme)
	if err != nil {
		return errors.Wrap(err, "setting theme")
	}
	return ctx.JSON(http.StatusOK, sess)
}
