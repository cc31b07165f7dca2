package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentrewind/internal/cache"
	"github.com/BaSui01/agentrewind/internal/database"
	"github.com/BaSui01/agentrewind/internal/server"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/runtime/groupchat"
)

// =============================================================================
// ✅ 验证
// =============================================================================

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		add("server.metrics_port %d out of range", c.Server.MetricsPort)
	} else if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		add("server.metrics_port must differ from server.http_port")
	}
	if c.Server.MaxConnections < 0 {
		add("server.max_connections must not be negative")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		add("server rate limit must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be within [0, 1]")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		add("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	switch c.Store.Type {
	case persistence.BackendMemory, persistence.BackendRedis, persistence.BackendSQL, persistence.BackendMongo:
	case persistence.BackendFile:
		if c.Store.FileDir == "" {
			add("store.file_dir is required for the file backend")
		}
	default:
		add("store.type %q is not one of memory, file, redis, sql, mongo", c.Store.Type)
	}
	if c.Store.TTL < 0 {
		add("store.ttl must not be negative")
	}
	if c.Store.Type == persistence.BackendSQL {
		if err := c.Database.PoolConfig().Validate(); err != nil {
			add("database: %v", err)
		}
	}
	if c.Capture.MaxConcurrency < 1 {
		add("capture.max_concurrency must be at least 1")
	}
	if err := c.GroupChatConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.JWT.Enabled() && len(c.JWT.Secret) < 32 {
		add("jwt.secret must be at least 32 bytes")
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation errors: %s", strings.ReplaceAll(err.Error(), "\n", "; "))
	}
	return nil
}

// =============================================================================
// 🔄 转换为各组件配置
// =============================================================================

// PoolConfig maps the database section onto the connection pool.
func (d DatabaseConfig) PoolConfig() database.PoolConfig {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = d.MaxOpenConns
	pool.MaxIdleConns = d.MaxIdleConns
	pool.ConnMaxLifetime = d.ConnMaxLifetime
	return pool
}

// DatabaseConfig returns the connection settings for the SQL store and the
// migrator.
func (c *Config) DatabaseConfig() database.Config {
	d := c.Database
	return database.Config{
		Driver:   d.Driver,
		DSN:      d.DSN,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Name:     d.Name,
		SSLMode:  d.SSLMode,
		Pool:     d.PoolConfig(),
	}
}

// CacheConfig returns the Redis client settings.
func (c *Config) CacheConfig() cache.Config {
	out := cache.DefaultConfig()
	out.Addr = c.Redis.Addr
	out.Password = c.Redis.Password
	out.DB = c.Redis.DB
	out.PoolSize = c.Redis.PoolSize
	out.MinIdleConns = c.Redis.MinIdleConns
	out.TLSEnabled = c.Redis.TLSEnabled
	if c.Redis.KeyPrefix != "" {
		out.KeyPrefix = c.Redis.KeyPrefix
	}
	return out
}

// PersistenceConfig returns the snapshot repository settings.
func (c *Config) PersistenceConfig() persistence.Config {
	return persistence.Config{
		Type:        c.Store.Type,
		FileDir:     c.Store.FileDir,
		TTL:         c.Store.TTL,
		AutoMigrate: c.Store.AutoMigrate,
		Redis:       c.CacheConfig(),
		Database:    c.DatabaseConfig(),
		Mongo: persistence.MongoConfig{
			URI:            c.Mongo.URI,
			Database:       c.Mongo.Database,
			ConnectTimeout: c.Mongo.ConnectTimeout,
		},
	}
}

// GroupChatConfig returns the reference team settings.
func (c *Config) GroupChatConfig() groupchat.Config {
	return groupchat.Config{
		TeamID:          c.GroupChat.TeamID,
		Participants:    append([]string(nil), c.GroupChat.Participants...),
		MaxMessages:     c.GroupChat.MaxMessages,
		TerminationText: c.GroupChat.TerminationText,
	}
}

// ServerConfig returns the HTTP server lifecycle settings.
func (c *Config) ServerConfig() server.Config {
	out := server.DefaultConfig()
	out.Addr = c.Server.Addr()
	out.ReadTimeout = c.Server.ReadTimeout
	out.WriteTimeout = c.Server.WriteTimeout
	out.IdleTimeout = c.Server.IdleTimeout
	out.ShutdownTimeout = c.Server.ShutdownTimeout
	out.MaxConnections = c.Server.MaxConnections
	out.TLSCertFile = c.Server.TLSCertFile
	out.TLSKeyFile = c.Server.TLSKeyFile
	return out
}
