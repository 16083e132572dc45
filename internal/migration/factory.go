package migration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/config"
)

// ErrDatabaseDisabled 表示未配置 database.driver。
var ErrDatabaseDisabled = errors.New("database driver not configured")

// NewMigratorFromConfig creates a migrator for the revision database.
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from the database section.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	if dbCfg.Driver == "" {
		return nil, ErrDatabaseDisabled
	}
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		// Name 即文件路径
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL})
}

// ApplyPending 在网关启动时执行未应用的迁移，并关闭迁移专用连接。
func ApplyPending(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("failed to close migrator", zap.Error(cerr))
		}
	}()

	before, _, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if err := m.Up(ctx); err != nil {
		return err
	}
	after, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info("database migrations applied",
		zap.String("driver", dbCfg.Driver),
		zap.Uint("from_version", before),
		zap.Uint("to_version", after),
		zap.Bool("dirty", dirty))
	return nil
}
