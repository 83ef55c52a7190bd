// Package main boots the Kratos HTTP entrypoint for the storage registry.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"
	loginfra "github.com/bionicotaku/lingo-services-storage/internal/infrastructure/logger"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string

	id, _ = os.Hostname()
)

func newApp(logger log.Logger, hs *http.Server, meta configloader.ServiceMetadata) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(meta.Name),
		kratos.Version(meta.Version),
		kratos.Metadata(map[string]string{"environment": meta.Environment}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
		),
	)
}

func main() {
	// Parse command-line flags (currently only -conf).
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	confPath, err := configloader.ParseConfPath(fs, os.Args[1:])
	if err != nil {
		panic(err)
	}

	// Load bootstrap configuration, env overrides and service metadata.
	bundle, err := configloader.Build(configloader.Params{ConfPath: confPath, Name: Name, Version: Version})
	if err != nil {
		panic(err)
	}

	// Build the structured logger used by the entire application.
	loggerCfg := loginfra.ConfigFromMetadata(bundle.Service)
	loggr, err := loginfra.NewLogger(loggerCfg)
	if err != nil {
		panic(err)
	}
	helper := log.NewHelper(loggr)

	obsShutdown, err := observability.Init(context.Background(), bundle.ObsConfig,
		observability.WithLogger(loggr),
		observability.WithServiceName(loggerCfg.Service),
		observability.WithServiceVersion(loggerCfg.Version),
		observability.WithEnvironment(loggerCfg.Env),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		if obsShutdown == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(ctx); err != nil {
			helper.Warnf("shutdown observability: %v", err)
		}
	}()

	pgCfg := bundle.Bootstrap.Data.Postgres
	if pgCfg.MigrateOnStart {
		if _, err := database.Migrate(pgCfg.DSN, loggr); err != nil {
			panic(err)
		}
	}

	// Assemble repositories, object store, services and the HTTP server via Wire.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, cleanupApp, err := wireApp(ctx, bundle, loggr)
	if err != nil {
		panic(err)
	}
	defer cleanupApp()

	// Start the application and block until a stop signal is received.
	if err := app.Run(); err != nil {
		panic(err)
	}
}
