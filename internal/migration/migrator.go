package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFiles embed.FS

// DatabaseType 账本数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
)

// dialect 一种方言的迁移目录与 golang-migrate 驱动构造
type dialect struct {
	dir    string
	driver func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		dir: "migrations/postgres",
		driver: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		dir: "migrations/mysql",
		driver: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
}

func lookupDialect(t DatabaseType) (dialect, error) {
	d, ok := dialects[t]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", t)
	}
	return d, nil
}

// MigrationStatus 单个迁移文件的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前 schema 版本的汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType
	// DatabaseURL postgres 为 URL，mysql 为 go-sql-driver DSN（需 multiStatements）
	DatabaseURL string
	// TableName 版本表，默认 schema_migrations
	TableName   string
	LockTimeout time.Duration
}

// Migrator 账本 schema 迁移操作
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps n>0 前进，n<0 回滚
	Steps(ctx context.Context, n int) error
	// Force 只改版本号并清除 dirty，不执行 SQL
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 🗄️ DefaultMigrator
// =============================================================================

// DefaultMigrator 基于 golang-migrate 的 Migrator
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
}

// NewMigrator 打开数据库并挂载内嵌迁移文件；失败时不遗留连接
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, err := lookupDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	table := cfg.TableName
	if table == "" {
		table = "schema_migrations"
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 15 * time.Second
	}

	db, err := sql.Open(string(cfg.DatabaseType), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DatabaseType, err)
	}
	m, err := attach(db, d, cfg.DatabaseType, table, lockTimeout)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return &DefaultMigrator{dbType: cfg.DatabaseType, migrate: m}, nil
}

func attach(db *sql.DB, d dialect, dbType DatabaseType, table string, lockTimeout time.Duration) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	target, err := d.driver(db, table)
	if err != nil {
		return nil, fmt.Errorf("database driver: %w", err)
	}
	src, err := sourceDriver(dbType)
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dbType), target)
	if err != nil {
		return nil, err
	}
	m.LockTimeout = lockTimeout
	return m, nil
}

// sourceDriver 指向方言目录的 iofs 迁移源
func sourceDriver(dbType DatabaseType) (source.Driver, error) {
	d, err := lookupDialect(dbType)
	if err != nil {
		return nil, err
	}
	return iofs.New(migrationFiles, d.dir)
}

// settle ErrNoChange 不算失败
func settle(op string, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("migration %s failed: %w", op, err)
}

func (m *DefaultMigrator) Up(context.Context) error      { return settle("up", m.migrate.Up()) }
func (m *DefaultMigrator) Down(context.Context) error    { return settle("down", m.migrate.Steps(-1)) }
func (m *DefaultMigrator) DownAll(context.Context) error { return settle("down all", m.migrate.Down()) }

func (m *DefaultMigrator) Steps(_ context.Context, n int) error {
	return settle("steps", m.migrate.Steps(n))
}

func (m *DefaultMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 尚未执行任何迁移时返回 0
func (m *DefaultMigrator) Version(context.Context) (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return v, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, current, dirty, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return buildStatus(files, current, dirty), nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	files, current, dirty, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return buildInfo(files, current, dirty), nil
}

func (m *DefaultMigrator) snapshot(ctx context.Context) ([]migrationFile, uint, bool, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, 0, false, err
	}
	return files, current, dirty, nil
}

// Close 同时关闭迁移源与数据库连接
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	srcErr, dbErr := m.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

// =============================================================================
// 📋 迁移文件清单
// =============================================================================

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 沿迁移源的版本链列出所有 up 迁移，名称取文件名中的标识部分
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	src, err := sourceDriver(dbType)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	v, err := src.First()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []migrationFile
	for {
		body, name, err := src.ReadUp(v)
		switch {
		case err == nil:
			_ = body.Close()
			files = append(files, migrationFile{version: v, name: name})
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read migration %d: %w", v, err)
		}

		v, err = src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations: %w", err)
		}
	}
}

func buildStatus(files []migrationFile, current uint, dirty bool) []MigrationStatus {
	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		out[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out
}

func buildInfo(files []migrationFile, current uint, dirty bool) *MigrationInfo {
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(files)}
	for _, f := range files {
		if f.version <= current {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info
}

// ParseDatabaseType 只接受有版本化迁移的方言；sqlite 账本走 gorm AutoMigrate
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}
