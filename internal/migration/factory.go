package migration

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/internal/database"
)

// NewMigratorFromDatabaseConfig builds a migrator for the database the SQL
// snapshot store is configured with.
func NewMigratorFromDatabaseConfig(cfg database.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	dbURL, err := DatabaseURL(dbType, cfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
		Logger:       logger,
	})
}

// NewMigratorFromURL creates a migrator from an explicit database URL.
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
		Logger:       logger,
	})
}

// DatabaseURL derives the migration connection string from the store's
// database config. MySQL needs multi-statement support; SQLite goes through
// the sqlite3 driver and needs a file: URL.
func DatabaseURL(dbType DatabaseType, cfg database.Config) (string, error) {
	switch dbType {
	case DatabaseTypeSQLite:
		name := cfg.DSN
		if name == "" {
			name = cfg.Name
		}
		if name == "" {
			return "", fmt.Errorf("sqlite requires a database file name")
		}
		if strings.HasPrefix(name, "file:") {
			return name, nil
		}
		return "file:" + name + "?mode=rwc", nil
	case DatabaseTypeMySQL:
		cfg.Driver = database.DriverMySQL
		dsn, err := cfg.DataSourceName()
		if err != nil {
			return "", err
		}
		if strings.Contains(dsn, "multiStatements=") {
			return dsn, nil
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "multiStatements=true", nil
	case DatabaseTypePostgres:
		cfg.Driver = database.DriverPostgres
		return cfg.DataSourceName()
	}
	return "", fmt.Errorf("unsupported database type: %s", dbType)
}
