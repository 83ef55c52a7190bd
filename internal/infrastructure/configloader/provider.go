package configloader

import (
	txconfig "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

// ProviderSet exposes configuration-derived dependencies for Wire graphs.
var ProviderSet = wire.NewSet(
	ProvideServiceMetadata,
	ProvideBootstrap,
	ProvideServerConfig,
	ProvidePostgresConfig,
	ProvideStorageConfig,
	ProvideTxConfig,
)

// ProvideServiceMetadata returns the resolved ServiceMetadata from the bundle.
func ProvideServiceMetadata(b *Bundle) ServiceMetadata {
	if b == nil {
		return ServiceMetadata{}
	}
	return b.Service
}

// ProvideBootstrap exposes the strongly typed bootstrap configuration.
func ProvideBootstrap(b *Bundle) *Bootstrap {
	if b == nil {
		return &Bootstrap{}
	}
	return b.Bootstrap
}

// ProvideServerConfig returns the server section of the bootstrap configuration.
func ProvideServerConfig(bc *Bootstrap) ServerConfig {
	return bc.Server
}

// ProvidePostgresConfig returns the postgres section of the bootstrap configuration.
func ProvidePostgresConfig(bc *Bootstrap) PostgresConfig {
	return bc.Data.Postgres
}

// ProvideStorageConfig returns the storage section of the bootstrap configuration.
func ProvideStorageConfig(bc *Bootstrap) StorageConfig {
	return bc.Storage
}

// ProvideTxConfig exposes the transaction manager configuration.
func ProvideTxConfig(b *Bundle) txconfig.Config {
	if b == nil {
		return txconfig.Config{}
	}
	return b.TxConfig
}
