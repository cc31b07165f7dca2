// Package cache wraps the Redis client used by the snapshot store.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Manager Redis 连接管理器，所有键都带统一前缀
type Manager struct {
	client *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config Redis 配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，不同部署共享同一 Redis 时用于隔离
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 拨号超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// 启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled"`

	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "agentrewind",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 连接 Redis 并验证可达
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	}
	if config.TLSEnabled {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis")),
		done:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis manager initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Bool("tls", config.TLSEnabled),
	)
	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Key 拼接带前缀的键
func (m *Manager) Key(parts ...string) string {
	if m.config.KeyPrefix == "" {
		return strings.Join(parts, ":")
	}
	return m.config.KeyPrefix + ":" + strings.Join(parts, ":")
}

func (m *Manager) ready() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Get 读取键值，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return nil, err
	}

	val, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Set 写入键值，ttl 为 0 时永不过期
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return err
	}

	if err := m.client.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Members 返回集合成员
func (m *Manager) Members(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return nil, err
	}

	members, err := m.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	return members, nil
}

// Tx 在 MULTI/EXEC 事务中执行 fn 排入的命令
func (m *Manager) Tx(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return err
	}

	if _, err := m.client.TxPipelined(ctx, fn); err != nil {
		m.logger.Error("redis transaction failed", zap.Error(err))
		return fmt.Errorf("redis transaction failed: %w", err)
	}
	return nil
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("redis delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.Ping(ctx).Err()
}

// Close 关闭连接并停止健康检查
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.logger.Info("closing redis manager")
	return m.client.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			m.logger.Debug("redis health check passed")
		}
		cancel()
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 连接池与键空间统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	Keys       int64  `json:"keys"`
}

// GetStats 返回统计信息
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready(); err != nil {
		return nil, err
	}

	keys, err := m.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis dbsize failed: %w", err)
	}
	pool := m.client.PoolStats()
	return &Stats{
		Hits:       pool.Hits,
		Misses:     pool.Misses,
		Timeouts:   pool.Timeouts,
		TotalConns: pool.TotalConns,
		IdleConns:  pool.IdleConns,
		Keys:       keys,
	}, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("redis manager is closed")
)

// IsCacheMiss 判断是否为键不存在
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
