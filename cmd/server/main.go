package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/injector"
)

func main() {
	path := flag.String("config", os.Getenv("AUTHORITY_CONFIG"), "path to a yaml, json or toml config file")
	flag.Parse()

	app, err := injector.InitializeApp(*path)
	if err != nil {
		log.Provide().Fatal("Failed to initialize runtime", log.String("config", *path), log.Error(err))
	}
	defer func() { _ = app.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := app.Runtime.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		app.Logger.Error("Runtime failed", log.Error(runErr))
	}
	if err := app.Runtime.Close(); err != nil {
		app.Logger.Error("Failed to close runtime", log.Error(err))
	}
	if runErr != nil {
		os.Exit(1)
	}
}
