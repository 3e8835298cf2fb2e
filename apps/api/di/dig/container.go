package dig_container

import (
	"context"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/edusmart/apps/api/echo"
	"github.com/trezcool/edusmart/apps/api/jobs"
	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
	emailsvc "github.com/trezcool/edusmart/services/email"
	logsvc "github.com/trezcool/edusmart/services/logger"
	rewritesvc "github.com/trezcool/edusmart/services/rewrite"
	"github.com/trezcool/edusmart/storage"
)

const connectTimeout = 30 * time.Second

type StoreLoggerParam struct {
	dig.In
	Logger core.Logger `name:"storeLogger"`
}

func newZap(conf *core.Config) (*zap.Logger, error) {
	return logsvc.NewZap(conf)
}

func newLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	return logsvc.NewRollbarLogger(zl, conf).Named("API")
}

func newStoreLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	return logsvc.NewRollbarLogger(zl, conf).Named("STORE")
}

// newStorage opens the configured store backend, migrating postgres first.
func newStorage(conf *core.Config, loggerParam StoreLoggerParam) (*storage.Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return storage.Open(ctx, conf, loggerParam.Logger, true /* migrate */)
}

func newStore(st *storage.Storage) core.Store {
	return st.Store
}

func newSessionRepository(st *storage.Storage, conf *core.Config) session.Repository {
	return st.SessionRepository(conf)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Schools    *school.Service
	Sessions   *session.Service
	Portal     *portal.Service
	Rewriter   rewritesvc.Rewriter
	Translator ut.Translator
	Validate   *validator.Validate
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Schools:    p.Schools,
		Sessions:   p.Sessions,
		Portal:     p.Portal,
		Rewriter:   p.Rewriter,
		Validate:   p.Validate,
		Translator: p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newStoreLogger, dig.Name("storeLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newStore))
	must(c.Provide(newSessionRepository))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(school.NewValidator))
	must(c.Provide(school.NewService))
	must(c.Provide(session.NewService))
	must(c.Provide(portal.NewService))
	must(c.Provide(rewritesvc.New))
	must(c.Provide(jobs.NewScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
