// Package main runs the report API. Generation runs in this process unless
// CLOCKSHEET_QUEUE_MODE=asynq hands it to cmd/worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/app"
	"github.com/dharsanguruparan/ClockSheet/internal/config"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init")
	}
	defer a.Close()

	if err := app.RunServer(ctx, a); err != nil {
		log.WithError(err).Error("server stopped")
		a.Close()
		os.Exit(1)
	}
}
