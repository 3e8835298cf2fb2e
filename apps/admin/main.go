package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
	logsvc "github.com/trezcool/edusmart/services/logger"
	"github.com/trezcool/edusmart/storage"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		panic(err)
	}
	defer func() { _ = zl.Sync() }()
	logger = logsvc.NewRollbarLogger(zl, conf).Named("ADMIN")

	// set up store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := storage.Open(ctx, conf, logger, false /* migrate */)
	cancel()
	errAndDie(err)
	defer func() { _ = st.Close() }()

	// start CLI
	translator := core.NewTranslator()
	cli := commandLine{
		schools:    school.NewService(st.Store, conf, nil, logger),
		validate:   school.NewValidator(translator),
		translator: translator,
		out:        os.Stdout,
	}
	if st.DB != nil {
		cli.db = st.DB.DB
	}
	if err := cli.run(os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
