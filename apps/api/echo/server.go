package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	rewritesvc "github.com/trezcool/edusmart/services/rewrite"
)

type Options struct {
	Conf           *core.Config
	Logger         core.Logger
	DisableReqLogs bool
	Schools        *school.Service
	Sessions       *session.Service
	Portal         *portal.Service
	Rewriter       rewritesvc.Rewriter
	Validate       *validator.Validate
	Translator     ut.Translator
}

type Server struct {
	opts     *Options
	app      *echo.Echo
	auth     *authenticator
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(opts *Options) *Server {
	if opts.Rewriter == nil {
		opts.Rewriter = rewritesvc.NopRewriter{}
	}
	s := &Server{
		opts:     opts,
		app:      echo.New(),
		auth:     newAuthenticator(opts.Conf, opts.Sessions),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	if !opts.Conf.TestMode {
		signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORS())
	s.app.Use(metricsMiddleware)

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)
	s.app.GET("/metrics", echo.WrapHandler(metricsHandler()))

	v1 := s.app.Group("/v1")
	registerPortalAPI(v1, s)
	registerAdminAPI(v1, s)
	registerStudentAPI(v1, s)
	registerSuperAPI(v1, s)
}

// Start blocks while serving; the error ending it is sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.opts.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the main goroutine to shut the server down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}

func (s *Server) health(ctx echo.Context) error {
	if _, err := s.opts.Schools.Store().Get(ctx.Request().Context(), school.AdminsPath); err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "build": s.opts.Conf.Build})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok", "build": s.opts.Conf.Build})
}
