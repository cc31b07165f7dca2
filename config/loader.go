// =============================================================================
// 📦 AgentRewind 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentrewind.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override, e.g.
// AGENTREWIND_STORE_TYPE=redis.
const DefaultEnvPrefix = "AGENTREWIND"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config is the complete process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Capture   CaptureConfig   `yaml:"capture" env:"CAPTURE"`
	GroupChat GroupChatConfig `yaml:"groupchat" env:"GROUPCHAT"`
	JWT       JWTConfig       `yaml:"jwt" env:"JWT"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	HTTPPort int    `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus /metrics 独立端口，0 表示不启动
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每个客户端 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空且未配置 JWT 时不鉴权
	APIKeys            []string `yaml:"api_keys" env:"API_KEYS"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	TLSCertFile        string   `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile         string   `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// MetricsAddr returns the metrics listen address.
func (s ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort)
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// Insecure 关闭 OTLP gRPC 的传输加密，本地 collector 使用
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// RedisConfig Redis 配置，store.type=redis 时使用
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLSEnabled   bool   `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig 数据库配置，store.type=sql 与 migrate 子命令使用
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite3
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置，store.type=mongo 时使用
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// StoreConfig 快照存储配置
type StoreConfig struct {
	// 后端: memory, file, redis, sql, mongo
	Type    string `yaml:"type" env:"TYPE"`
	FileDir string `yaml:"file_dir" env:"FILE_DIR"`
	// Redis 快照过期时间，0 表示永不过期
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
	AutoMigrate bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 启动时加载已有快照 / 关闭时保存全部分支
	LoadOnStart    bool `yaml:"load_on_start" env:"LOAD_ON_START"`
	SaveOnShutdown bool `yaml:"save_on_shutdown" env:"SAVE_ON_SHUTDOWN"`
}

// CaptureConfig 检查点采集配置
type CaptureConfig struct {
	// 单次采集并行序列化的 agent 上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// GroupChatConfig 内置轮询群聊配置
type GroupChatConfig struct {
	TeamID          string   `yaml:"team_id" env:"TEAM_ID"`
	Participants    []string `yaml:"participants" env:"PARTICIPANTS"`
	MaxMessages     int      `yaml:"max_messages" env:"MAX_MESSAGES"`
	TerminationText string   `yaml:"termination_text" env:"TERMINATION_TEXT"`
}

// JWTConfig JWT 鉴权配置，Secret 为空时关闭
type JWTConfig struct {
	Secret   string        `yaml:"secret" env:"SECRET"`
	Issuer   string        `yaml:"issuer" env:"ISSUER"`
	Audience string        `yaml:"audience" env:"AUDIENCE"`
	Leeway   time.Duration `yaml:"leeway" env:"LEEWAY"`
}

// Enabled reports whether bearer tokens are checked.
func (j JWTConfig) Enabled() bool { return j.Secret != "" }

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath returns the file the loader reads, if any.
func (l *Loader) ConfigPath() string { return l.configPath }

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile reads YAML over the defaults. A missing file keeps them.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(envKey)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载并验证配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
