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
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)
	if cfg.QueueMode != config.QueueAsynq {
		log.Fatal("the worker needs CLOCKSHEET_QUEUE_MODE=asynq")
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init")
	}
	defer a.Close()

	if err := app.RunWorker(ctx, a); err != nil {
		log.WithError(err).Error("worker stopped")
		a.Close()
		os.Exit(1)
	}
}
