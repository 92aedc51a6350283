package migration

import (
	"fmt"
	"strings"

	"github.com/BaSui01/astrogeminibot/internal/database"
)

// NewMigratorFromDatabaseConfig creates a migrator for the ledger database.
func NewMigratorFromDatabaseConfig(dbCfg database.Config) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  NormalizeURL(dbType, dbCfg.DSN),
		TableName:    "schema_migrations",
	})
}

// NormalizeURL adds the MySQL DSN flags the migrations rely on.
func NormalizeURL(dbType DatabaseType, dsn string) string {
	if dbType != DatabaseTypeMySQL {
		return dsn
	}
	for _, flag := range []string{"multiStatements=true", "parseTime=true"} {
		if strings.Contains(dsn, flag) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + flag
	}
	return dsn
}
