// Package jobs runs the periodic maintenance of the API process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/session"
)

type Scheduler struct {
	conf     *core.Config
	sessions *session.Service
	logger   core.Logger
	cron     *cron.Cron
}

func NewScheduler(conf *core.Config, sessions *session.Service, logger core.Logger) *Scheduler {
	return &Scheduler{
		conf:     conf,
		sessions: sessions,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger}))),
	}
}

// Start registers the jobs and runs them in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.conf.Server.SessionGCSpec, s.PurgeSessions); err != nil {
		return errors.Wrapf(err, "scheduling session purge %q", s.conf.Server.SessionGCSpec)
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PurgeSessions deletes the expired sessions.
func (s *Scheduler) PurgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("purging expired sessions", err)
		return
	}
	if n > 0 {
		s.logger.Info(fmt.Sprintf("purged %d expired sessions", n))
	}
}

// cronLogger reports cron panics and skips through core.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvMap(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvMap(keysAndValues))
}

func kvMap(keysAndValues []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}
