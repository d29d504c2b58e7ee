package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AuditFi/internal/chains"
)

// EnvPath 指定配置文件路径的环境变量名。
const EnvPath = "AUDITFI_CONFIG"

// DefaultPath 是未设置 EnvPath 时使用的配置文件位置。
var DefaultPath = filepath.Join("configs", "auditfi.json")

// Config 描述了 AuditFi 守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Wallet   WalletConfig   `json:"wallet"`
	Session  SessionConfig  `json:"session"`
	Events   EventsConfig   `json:"events"`
	Analysis AnalysisConfig `json:"analysis"`
	Registry RegistryConfig `json:"registry"`
	Storage  StorageConfig  `json:"storage"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址与超时。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
	NavigationWaitSeconds  int    `json:"navigation_wait_seconds"`
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// NavigationWait 返回导航长轮询的最长等待时间。
func (s ServerConfig) NavigationWait() time.Duration {
	return time.Duration(s.NavigationWaitSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string           `json:"level"`
	Format  string           `json:"format"`
	Outputs []string         `json:"outputs"`
	Audit   AuditLogSettings `json:"audit"`
}

// AuditLogSettings 控制钱包状态变更审计日志的落盘与轮转。
type AuditLogSettings struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// WalletConfig 描述钱包提供者与链注册表。
type WalletConfig struct {
	ProviderURL    string `json:"provider_url"`
	PollIntervalMS int    `json:"poll_interval_ms"`
	DefaultChainID uint64 `json:"default_chain_id"`
	ChainsFile     string `json:"chains_file"`
	ConnectPath    string `json:"connect_path"`
}

// PollInterval 返回账户与链轮询的间隔。
func (w WalletConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// SessionConfig 描述连接标记的存储方式，可选 memory 或 redis。
type SessionConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Key         string `json:"key"`
}

// EventsConfig 描述钱包状态变更事件的投递方式，可选 log、rabbitmq 或 none。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	URLEnv     string `json:"url_env"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Durable    bool   `json:"durable"`
}

// AnalysisConfig 描述合约分析服务的调用方式。
type AnalysisConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次分析请求的超时时间。
func (a AnalysisConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RegistryConfig 描述链上审计登记合约。ReportBaseURL 与报告 ID 拼接后作为链上的 reportURI。
type RegistryConfig struct {
	RPCURL          string `json:"rpc_url"`
	ContractAddress string `json:"contract_address"`
	ReportBaseURL   string `json:"report_base_url"`
}

// StorageConfig 描述审计报告的存储后端，可选 memory 或 mysql。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回 DefaultPath。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Server.NavigationWaitSeconds <= 0 {
		c.Server.NavigationWaitSeconds = 25
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join("data", "audit", "wallet.log")
		}
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	if c.Wallet.DefaultChainID == 0 {
		c.Wallet.DefaultChainID = chains.DefaultChainID
	}
	if c.Wallet.PollIntervalMS <= 0 {
		c.Wallet.PollIntervalMS = 2000
	}
	if c.Wallet.ConnectPath == "" {
		c.Wallet.ConnectPath = "/wallet"
	}
	if c.Wallet.ChainsFile != "" {
		c.Wallet.ChainsFile = resolve(baseDir, c.Wallet.ChainsFile)
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	c.Session.Redis.Password = fromEnv(c.Session.Redis.Password, c.Session.Redis.PasswordEnv)

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	c.Events.RabbitMQ.URL = fromEnv(c.Events.RabbitMQ.URL, c.Events.RabbitMQ.URLEnv)

	if c.Analysis.APIKeyEnv == "" {
		c.Analysis.APIKeyEnv = "MISTRAL_API_KEY"
	}
	c.Analysis.APIKey = fromEnv(c.Analysis.APIKey, c.Analysis.APIKeyEnv)

	c.Registry.ReportBaseURL = strings.TrimSuffix(strings.TrimSpace(c.Registry.ReportBaseURL), "/")

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	c.Storage.DSN = fromEnv(c.Storage.DSN, c.Storage.DSNEnv)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

// validate 检查驱动名称等枚举字段。
func (c *Config) validate() error {
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的会话驱动: %s", c.Session.Driver)
	}
	switch c.Events.Driver {
	case "log", "rabbitmq", "none":
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	switch c.Storage.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	if !strings.HasPrefix(c.Wallet.ConnectPath, "/") {
		return fmt.Errorf("connect_path 必须以 / 开头: %s", c.Wallet.ConnectPath)
	}
	return nil
}

// fromEnv 在直接填写的值为空时读取环境变量。
func fromEnv(value, env string) string {
	value = strings.TrimSpace(value)
	if value == "" && env != "" {
		value = strings.TrimSpace(os.Getenv(env))
	}
	return value
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
