//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"context"

	"github.com/bionicotaku/lingo-services-storage/internal/controllers"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore/driver"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"
	"github.com/bionicotaku/lingo-services-storage/internal/server"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(context.Context, *configloader.Bundle, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		database.ProviderSet,
		driver.ProviderSet,
		repositories.ProviderSet,
		services.ProviderSet,
		controllers.ProviderSet,
		server.ProviderSet,
		wire.Bind(new(services.MediaFileRepo), new(*repositories.MediaFileRepository)),
		wire.Bind(new(services.DownloadSigner), new(objectstore.Store)),
		wire.Bind(new(controllers.MediaFileRegistry), new(*services.MediaFileService)),
		wire.Bind(new(controllers.UploadOrchestrator), new(*services.UploadService)),
		wire.Bind(new(server.ReadinessProbe), new(*database.ReadinessChecker)),
		newApp,
	))
}
