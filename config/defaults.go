// =============================================================================
// 📦 AgentRewind 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/internal/cache"
	"github.com/BaSui01/agentrewind/internal/database"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/runtime/groupchat"
)

// DefaultConfig 返回默认配置：内存快照存储，不鉴权，遥测关闭
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Store:     DefaultStoreConfig(),
		Capture:   CaptureConfig{MaxConcurrency: history.DefaultCaptureConcurrency},
		GroupChat: DefaultGroupChatConfig(),
		JWT:       JWTConfig{Issuer: "agentrewind", Leeway: 30 * time.Second},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrewind",
		SampleRate:   0.1,
		Insecure:     true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	d := cache.DefaultConfig()
	return RedisConfig{
		Addr:         d.Addr,
		KeyPrefix:    d.KeyPrefix,
		PoolSize:     d.PoolSize,
		MinIdleConns: d.MinIdleConns,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	pool := database.DefaultPoolConfig()
	return DatabaseConfig{
		Driver:          database.DriverPostgres,
		Host:            "localhost",
		Port:            5432,
		User:            "agentrewind",
		Name:            "agentrewind",
		SSLMode:         "disable",
		MaxOpenConns:    pool.MaxOpenConns,
		MaxIdleConns:    pool.MaxIdleConns,
		ConnMaxLifetime: pool.ConnMaxLifetime,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	d := persistence.DefaultMongoConfig()
	return MongoConfig{URI: d.URI, Database: d.Database, ConnectTimeout: d.ConnectTimeout}
}

// DefaultStoreConfig 返回默认快照存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    persistence.BackendMemory,
		FileDir: "./data/snapshots",
	}
}

// DefaultGroupChatConfig 返回默认群聊配置
func DefaultGroupChatConfig() GroupChatConfig {
	d := groupchat.DefaultConfig()
	return GroupChatConfig{
		Participants:    d.Participants,
		MaxMessages:     d.MaxMessages,
		TerminationText: d.TerminationText,
	}
}
