package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Elastic   ElasticConfig
	Claude    ClaudeConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	WebSocket WebSocketConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  []string
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// ElasticConfig Elasticsearch 配置
type ElasticConfig struct {
	Host      string
	Username  string
	Password  string
	ChatIndex string
}

// ClaudeConfig Claude API 配置
type ClaudeConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout 生成超时（秒），超时后编排器使用固定回退文本
	Timeout int
}

// AuthConfig 认证配置
type AuthConfig struct {
	// AccessTokenTTL 访问令牌有效期（分钟）
	AccessTokenTTL int
	// RefreshTokenTTL 刷新令牌有效期（分钟）
	RefreshTokenTTL int
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	PerMinute int
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	// PingInterval 保活探测间隔（秒）
	PingInterval int
	// WriteTimeout 单次写超时（秒）
	WriteTimeout int
	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int64
}

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("CLAUDE_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "claude-relay")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", true)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.corsOrigins", []string{})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "claude_relay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	// Elastic
	v.SetDefault("elastic.host", "http://localhost:9200")
	v.SetDefault("elastic.chatIndex", "chat_history")

	// Claude
	v.SetDefault("claude.baseUrl", "https://api.anthropic.com")
	v.SetDefault("claude.model", "claude-3-7-sonnet-20250219")
	v.SetDefault("claude.maxTokens", 1024)
	v.SetDefault("claude.timeout", 20)

	// Auth
	v.SetDefault("auth.accessTokenTTL", 30)
	v.SetDefault("auth.refreshTokenTTL", 10080)

	// RateLimit
	v.SetDefault("ratelimit.perMinute", 60)

	// WebSocket
	v.SetDefault("websocket.pingInterval", 25)
	v.SetDefault("websocket.writeTimeout", 10)
	v.SetDefault("websocket.maxMessageSize", 65536)
}
