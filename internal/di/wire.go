//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/app"
)

func InitializeApp() (*app.App, func(), error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		RuntimeInfraSet,
		RepositorySet,
		ServiceSet,
		HTTPSet,
		AppSet,
	))
}

func InitializeMigrationRunner() (*MigrationRunner, func(), error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		provideOpenDB,
		NewMigrationRunner,
	))
}
