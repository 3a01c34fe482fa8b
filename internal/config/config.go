package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"Manof-Chain/pkg/logger"
)

// Config 描述了 agentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Clock      ClockConfig      `yaml:"clock"`
	Events     EventsConfig     `yaml:"events"`
	Index      IndexConfig      `yaml:"index"`
	Validation ValidationConfig `yaml:"validation"`
	Log        logger.Config    `yaml:"log"`
}

// ServerConfig 控制 API 服务与指标端点的监听地址。
type ServerConfig struct {
	Address        string `yaml:"address"`
	MetricsAddress string `yaml:"metrics_address"`
}

// AuthConfig 选择调用方身份的认证方式：signature 或 trusted。
type AuthConfig struct {
	Mode string `yaml:"mode"`
	// SignatureWindowSeconds 为签名时间戳允许的最大偏差。
	SignatureWindowSeconds int `yaml:"signature_window_seconds"`
}

// SignatureWindow 以 time.Duration 返回签名时间窗口。
func (a AuthConfig) SignatureWindow() time.Duration {
	return time.Duration(a.SignatureWindowSeconds) * time.Second
}

// LedgerConfig 描述记录存储后端与空间分配计费。
type LedgerConfig struct {
	Driver                 string           `yaml:"driver"`
	DSN                    string           `yaml:"dsn"`
	MaxOpenConns           int              `yaml:"max_open_conns"`
	MaxIdleConns           int              `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int              `yaml:"conn_max_lifetime_seconds"`
	Allocation             AllocationConfig `yaml:"allocation"`
}

// ConnMaxLifetime 返回连接最大生命周期。
func (l LedgerConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(l.ConnMaxLifetimeSeconds) * time.Second
}

// AllocationConfig 定义预留空间的计费规则，RentPerByte 为 0 时不收费。
type AllocationConfig struct {
	RentPerByte uint64 `yaml:"rent_per_byte"`
}

// ClockConfig 选择时间来源：system 使用本机时间，chain 使用最新区块时间戳。
type ClockConfig struct {
	Source string `yaml:"source"`
	RPCURL string `yaml:"rpc_url"`
}

// EventsConfig 描述记录事件的发布通道。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// IndexConfig 描述最新安全状态的二级索引。
type IndexConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// ValidationConfig 控制输入校验。默认关闭，此时只检查枚举取值与编码边界。
type ValidationConfig struct {
	Strict           bool  `yaml:"strict"`
	MaxAnalysisDepth uint8 `yaml:"max_analysis_depth"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse 解析 YAML 内容并填充默认值与环境变量覆盖。
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖敏感配置，避免写入配置文件。
func (c *Config) applyEnv(getenv func(string) string) {
	if dsn := strings.TrimSpace(getenv("MANOF_LEDGER_DSN")); dsn != "" {
		c.Ledger.DSN = dsn
	}
	if password := getenv("MANOF_REDIS_PASSWORD"); password != "" {
		c.Events.Redis.Password = password
		c.Index.Redis.Password = password
	}
	if url := strings.TrimSpace(getenv("MANOF_AMQP_URL")); url != "" {
		c.Events.RabbitMQ.URL = url
	}
	if rpc := strings.TrimSpace(getenv("MANOF_RPC_URL")); rpc != "" {
		c.Clock.RPCURL = rpc
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "signature"
	}
	if c.Auth.SignatureWindowSeconds <= 0 {
		c.Auth.SignatureWindowSeconds = 300
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Clock.Source == "" {
		c.Clock.Source = "system"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "manof:records"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "manof.records"
	}
	if c.Index.Driver == "" {
		c.Index.Driver = "memory"
	}
	if c.Index.Redis.Key == "" {
		c.Index.Redis.Key = "manof:security"
	}
	if c.Index.Redis.Address == "" {
		c.Index.Redis.Address = c.Events.Redis.Address
	}
	if c.Validation.MaxAnalysisDepth == 0 {
		c.Validation.MaxAnalysisDepth = 16
	}
}

// resolvePaths 将相对路径转换为相对于配置文件所在目录的路径。
func (c *Config) resolvePaths(baseDir string) {
	if c.Ledger.Driver == "sqlite" && c.Ledger.DSN != "" && !filepath.IsAbs(c.Ledger.DSN) && !strings.HasPrefix(c.Ledger.DSN, "file:") {
		c.Ledger.DSN = filepath.Join(baseDir, c.Ledger.DSN)
	}
	if c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
}

// Validate 检查驱动名称与必填项。
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "memory":
	case "mysql", "sqlite":
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return fmt.Errorf("ledger 驱动 %s 需要配置 dsn", c.Ledger.Driver)
		}
	default:
		return fmt.Errorf("未知的 ledger 驱动: %s", c.Ledger.Driver)
	}
	switch c.Clock.Source {
	case "system":
	case "chain":
		if strings.TrimSpace(c.Clock.RPCURL) == "" {
			return errors.New("chain 时钟需要配置 rpc_url")
		}
	default:
		return fmt.Errorf("未知的时钟来源: %s", c.Clock.Source)
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("redis 事件通道需要配置 address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件通道需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	switch c.Index.Driver {
	case "memory":
	case "redis":
		if c.Index.Redis.Address == "" {
			return errors.New("redis 索引需要配置 address")
		}
	default:
		return fmt.Errorf("未知的索引驱动: %s", c.Index.Driver)
	}
	return nil
}
