package database

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult 描述迁移后的 schema 版本。
type MigrationResult struct {
	Version uint
	Dirty   bool
	Applied bool
}

// Migrate 将嵌入的 SQL 迁移应用到 dsn 指向的数据库。已是最新版本时 Applied 为 false。
func Migrate(dsn string, logger log.Logger) (MigrationResult, error) {
	helper := log.NewHelper(logger)

	m, err := newMigrator(dsn)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	applied := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("apply migrations: %w", err)
		}
		applied = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("read migration version: %w", err)
	}
	helper.Infof("migrations applied: version=%d dirty=%v changed=%v", version, dirty, applied)
	return MigrationResult{Version: version, Dirty: dirty, Applied: applied}, nil
}

// MigrateDown 回滚全部迁移，仅供运维工具与测试使用。
func MigrateDown(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	dbURL, err := migrateURL(dsn)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

// migrateURL 将 postgres:// DSN 转换为 golang-migrate pgx5 驱动识别的 pgx5:// 形式。
func migrateURL(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres DSN: %w", err)
	}
	switch parsed.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("migrations require a URL-style postgres DSN, got scheme %q", parsed.Scheme)
	}
	parsed.Scheme = "pgx5"
	return parsed.String(), nil
}
