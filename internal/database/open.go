package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 支持的驱动
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config 账本数据库配置
type Config struct {
	Driver string     `yaml:"driver" json:"driver"`
	DSN    string     `yaml:"dsn" json:"dsn"`
	Pool   PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 本地 SQLite 文件，无需外部服务
func DefaultConfig() Config {
	return Config{Driver: DriverSQLite, DSN: "astrogeminibot.db", Pool: DefaultPoolConfig()}
}

var dialectors = map[string]func(dsn string) gorm.Dialector{
	"":             sqlite.Open,
	DriverSQLite:   sqlite.Open,
	DriverPostgres: postgres.Open,
	"postgresql":   postgres.Open,
	DriverMySQL:    mysql.Open,
}

// Dialector 驱动名大小写不敏感，空串视为 sqlite
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	open, ok := dialectors[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return open(dsn), nil
}

// Open 打开 GORM 连接；logger 开启 debug 时才输出 SQL
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	mode := gormlogger.Silent
	if logger != nil && logger.Core().Enabled(zap.DebugLevel) {
		mode = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(mode)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}
