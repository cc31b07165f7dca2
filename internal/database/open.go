package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🔌 方言选择
// =============================================================================

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	// DriverSQLite is the pure-Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo SQLite driver.
	DriverSQLite3 = "sqlite3"
)

// Config 数据库连接配置；DSN 非空时优先使用
type Config struct {
	Driver   string     `yaml:"driver" json:"driver"`
	DSN      string     `yaml:"dsn" json:"dsn"`
	Host     string     `yaml:"host" json:"host"`
	Port     int        `yaml:"port" json:"port"`
	User     string     `yaml:"user" json:"user"`
	Password string     `yaml:"password" json:"-"`
	Name     string     `yaml:"name" json:"name"`
	SSLMode  string     `yaml:"ssl_mode" json:"ssl_mode"`
	Pool     PoolConfig `yaml:"pool" json:"pool"`
}

// DataSourceName 构造驱动所需的 DSN
func (c Config) DataSourceName() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Driver {
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String(), nil
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Name), nil
	case DriverSQLite, DriverSQLite3:
		if c.Name == "" {
			return "", fmt.Errorf("sqlite requires a database file name")
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// Dialector 按驱动名返回 GORM 方言
func Dialector(c Config) (gorm.Dialector, error) {
	dsn, err := c.DataSourceName()
	if err != nil {
		return nil, err
	}
	switch c.Driver {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverSQLite3:
		return cgosqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
}

// Open 打开数据库并包装为 PoolManager
func Open(c Config, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", c.Driver, err)
	}
	return NewPoolManager(db, c.Pool, logger, opts...)
}
