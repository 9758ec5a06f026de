package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述 OpenIntent 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Workflow WorkflowConfig `json:"workflow"`
	Chains   ChainsConfig   `json:"chains"`
	Tokens   TokensConfig   `json:"tokens"`
	Skills   SkillsConfig   `json:"skills"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Parser   ParserConfig   `json:"parser"`
	Auth     AuthConfig     `json:"auth"`
	Alerting AlertingConfig `json:"alerting"`
	Plugins  PluginsConfig  `json:"plugins"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的落盘与轮转。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// WorkflowConfig 控制编排器的调度行为。
type WorkflowConfig struct {
	AutoExecute   bool `json:"auto_execute"`
	MaxRetries    int  `json:"max_retries"`
	StepTimeoutMS int  `json:"step_timeout_ms"`
	Verbose       bool `json:"verbose"`
	Simulation    bool `json:"simulation"`
	Workers       int  `json:"workers"`
}

// StepTimeout 返回单步执行超时。零值表示不限制。
func (c WorkflowConfig) StepTimeout() time.Duration {
	if c.StepTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.StepTimeoutMS) * time.Millisecond
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	File string `json:"file"`
}

// TokensConfig 指向代币目录文件。
type TokensConfig struct {
	File string `json:"file"`
}

// SkillsConfig 指向技能定义文件。
type SkillsConfig struct {
	File string `json:"file"`
}

// StorageConfig 统一描述执行归档等后端的连接信息。
type StorageConfig struct {
	ExecutionArchive ArchiveConfig `json:"execution_archive"`
}

// ArchiveConfig 描述终态执行记录的归档后端，当前支持 memory 与 mysql。
type ArchiveConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述执行分发队列，支持 memory、redis 与 rabbitmq 三种驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Capacity int            `json:"capacity"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ParserConfig 配置自然语言意图解析服务。
type ParserConfig struct {
	Provider string           `json:"provider"`
	HTTP     HTTPParserConfig `json:"http"`
}

// HTTPParserConfig 描述远端解析服务的调用方式。
type HTTPParserConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回解析调用超时时间。
func (c HTTPParserConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuthConfig 控制 API 的静态令牌鉴权。令牌列表为空时鉴权关闭。
type AuthConfig struct {
	Enabled bool     `json:"enabled"`
	Tokens  []string `json:"tokens"`
}

// AlertingConfig 控制执行失败告警的分发。
type AlertingConfig struct {
	Enabled  bool            `json:"enabled"`
	Webhooks []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个告警 Webhook 接收端。
type WebhookConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PluginsConfig 指向插件管理器的配置文件。留空表示不加载插件。
type PluginsConfig struct {
	File string `json:"file"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = 4
	}

	c.Chains.File = resolvePath(baseDir, c.Chains.File, "chains.yaml")
	c.Tokens.File = resolvePath(baseDir, c.Tokens.File, "tokens.yaml")
	c.Skills.File = resolvePath(baseDir, c.Skills.File, "skills.yaml")

	if c.Storage.ExecutionArchive.Driver == "" {
		c.Storage.ExecutionArchive.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "openintent:executions"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "openintent.executions"
	}

	if c.Parser.Provider == "" {
		c.Parser.Provider = "none"
	}

	if c.Plugins.File != "" && !filepath.IsAbs(c.Plugins.File) {
		c.Plugins.File = filepath.Join(baseDir, c.Plugins.File)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit", "audit.log")
	}
}

// resolvePath 将相对路径锚定到配置文件所在目录。
func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
