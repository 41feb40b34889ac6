package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"ExchangeMCP-Chain/internal/web3"
	"ExchangeMCP-Chain/pkg/logger"
)

// DefaultPath 是未设置 EXCHANGE_MCP_CONFIG 时尝试读取的配置文件。
const DefaultPath = "configs/exchange-mcp.json"

// Config 描述了服务在启动阶段需要加载的全部配置，启动后不再重新读取。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Ledger   LedgerConfig   `json:"ledger"`
	Storage  StorageConfig  `json:"storage"`
	Lock     LockConfig     `json:"signer_lock"`
	Events   EventsConfig   `json:"events"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 MCP 服务的传输方式与监听地址。AuthTokens 与 JWTSecret 只作用于 http 传输。
type ServerConfig struct {
	Name       string   `json:"name" env:"EXCHANGE_MCP_NAME"`
	Version    string   `json:"version" env:"EXCHANGE_MCP_VERSION"`
	Transport  string   `json:"transport" env:"EXCHANGE_MCP_TRANSPORT"`
	Address    string   `json:"address" env:"EXCHANGE_MCP_ADDRESS"`
	AuthTokens []string `json:"auth_tokens" env:"EXCHANGE_MCP_AUTH_TOKENS" envSeparator:","`
	JWTSecret  string   `json:"jwt_secret" env:"EXCHANGE_MCP_JWT_SECRET"`
	JWTIssuer  string   `json:"jwt_issuer" env:"EXCHANGE_MCP_JWT_ISSUER"`
}

// LedgerConfig 包含访问链节点、合约与签名者所需的信息。
type LedgerConfig struct {
	RPCURL                string `json:"rpc_url" env:"EXCHANGE_RPC_URL"`
	Deployment            string `json:"deployment" env:"EXCHANGE_DEPLOYMENT"`
	DeploymentsFile       string `json:"deployments_file" env:"EXCHANGE_DEPLOYMENTS_FILE"`
	PoolAddress           string `json:"pool_address" env:"EXCHANGE_POOL_ADDRESS"`
	TokenAddress          string `json:"token_address" env:"EXCHANGE_TOKEN_ADDRESS"`
	TokenDecimals         int    `json:"token_decimals" env:"EXCHANGE_TOKEN_DECIMALS"`
	BaseDecimals          int    `json:"base_decimals" env:"EXCHANGE_BASE_DECIMALS"`
	ChainID               int64  `json:"chain_id" env:"EXCHANGE_CHAIN_ID"`
	PrivateKey            string `json:"private_key" env:"EXCHANGE_PRIVATE_KEY"`
	KeystorePath          string `json:"keystore_path" env:"EXCHANGE_KEYSTORE_PATH"`
	KeystorePassword      string `json:"keystore_password" env:"EXCHANGE_KEYSTORE_PASSWORD"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds" env:"EXCHANGE_CONFIRM_TIMEOUT_SECONDS"`
}

// ConfirmTimeout 返回等待交易确认的超时时间，0 表示不设上限。
func (c LedgerConfig) ConfirmTimeout() time.Duration {
	if c.ConfirmTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// StorageConfig 描述工作流历史记录的存储后端。
type StorageConfig struct {
	Driver                 string `json:"driver" env:"EXCHANGE_HISTORY_DRIVER"`
	DSN                    string `json:"dsn" env:"EXCHANGE_HISTORY_DSN"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime 返回连接最长存活时间，0 表示使用默认值。
func (c StorageConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// LockConfig 描述签名者串行化锁的实现。
type LockConfig struct {
	Driver      string      `json:"driver" env:"EXCHANGE_LOCK_DRIVER"`
	TTLSeconds  int         `json:"ttl_seconds" env:"EXCHANGE_LOCK_TTL_SECONDS"`
	WaitSeconds int         `json:"wait_seconds" env:"EXCHANGE_LOCK_WAIT_SECONDS"`
	Redis       RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address" env:"EXCHANGE_REDIS_ADDRESS"`
	Password string `json:"password" env:"EXCHANGE_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"EXCHANGE_REDIS_DB"`
	Prefix   string `json:"prefix"`
}

// TTL 返回锁租约时长。
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Wait 返回写操作等待签名者锁的上限。
func (c LockConfig) Wait() time.Duration {
	return time.Duration(c.WaitSeconds) * time.Second
}

// EventsConfig 描述工作流事件的投递方式。
type EventsConfig struct {
	Driver   string         `json:"driver" env:"EXCHANGE_EVENTS_DRIVER"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" env:"EXCHANGE_RABBITMQ_URL"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// MetricsConfig 控制指标端点，地址为空时不启动。
type MetricsConfig struct {
	Address string `json:"address" env:"EXCHANGE_METRICS_ADDRESS"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	WebhookURL       string `json:"webhook_url" env:"EXCHANGE_ALERT_WEBHOOK_URL"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	FailureThreshold uint32 `json:"failure_threshold"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level          string   `json:"level" env:"EXCHANGE_LOG_LEVEL"`
	Format         string   `json:"format" env:"EXCHANGE_LOG_FORMAT"`
	OutputPaths    []string `json:"output_paths"`
	AuditEnabled   bool     `json:"audit_enabled" env:"EXCHANGE_AUDIT_ENABLED"`
	AuditPath      string   `json:"audit_path" env:"EXCHANGE_AUDIT_PATH"`
	AuditMaxSizeMB int      `json:"audit_max_size_mb"`
}

// LoggerConfig 转换为 pkg/logger 所需的结构。
func (c LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:   c.AuditEnabled,
			Path:      c.AuditPath,
			MaxSizeMB: c.AuditMaxSizeMB,
		},
	}
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" env:"EXCHANGE_DATA_DIR"`
}

// Load 依次读取 JSON 配置文件（路径为空时跳过）、环境变量覆盖，最后补全默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.applyDeployment(baseDir); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath 返回应当读取的配置文件路径：显式设置的路径优先，其次是存在的默认文件。
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// applyDeployment 从部署文件中补全未显式配置的链字段，显式配置与环境变量优先。
func (c *Config) applyDeployment(baseDir string) error {
	path := strings.TrimSpace(c.Ledger.DeploymentsFile)
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	c.Ledger.DeploymentsFile = path

	defs, err := web3.LoadDeployments(path)
	if err != nil {
		return err
	}
	name, dep, err := defs.Lookup(c.Ledger.Deployment)
	if err != nil {
		return err
	}
	c.Ledger.Deployment = name
	fillString(&c.Ledger.RPCURL, dep.RPCURL)
	fillString(&c.Ledger.PoolAddress, dep.PoolAddress)
	fillString(&c.Ledger.TokenAddress, dep.TokenAddress)
	if c.Ledger.ChainID == 0 {
		c.Ledger.ChainID = dep.ChainID
	}
	if c.Ledger.TokenDecimals == 0 {
		c.Ledger.TokenDecimals = dep.TokenDecimals
	}
	if c.Ledger.BaseDecimals == 0 {
		c.Ledger.BaseDecimals = dep.BaseDecimals
	}
	return nil
}

func fillString(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Name == "" {
		c.Server.Name = "ExchangeMCP"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Ledger.TokenDecimals == 0 {
		c.Ledger.TokenDecimals = 18
	}
	if c.Ledger.BaseDecimals == 0 {
		c.Ledger.BaseDecimals = 18
	}
	if c.Ledger.ConfirmTimeoutSeconds == 0 {
		c.Ledger.ConfirmTimeoutSeconds = 120
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = 300
	}
	if c.Lock.WaitSeconds <= 0 {
		c.Lock.WaitSeconds = 120
	}
	if c.Lock.Redis.Prefix == "" {
		c.Lock.Redis.Prefix = "exchange-mcp:signer:"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "exchange-mcp.workflows"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "workflow.outcome"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查枚举类字段的取值。链与签名者的完整性在建立连接时校验。
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("不支持的传输方式: %s", c.Server.Transport))
	}
	switch c.Storage.Driver {
	case "file", "memory", "mysql":
	default:
		errs = append(errs, fmt.Errorf("不支持的历史存储驱动: %s", c.Storage.Driver))
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.DSN) == "" {
		errs = append(errs, errors.New("mysql 历史存储需要配置 dsn"))
	}
	switch c.Lock.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("不支持的签名者锁驱动: %s", c.Lock.Driver))
	}
	if c.Lock.Driver == "redis" && strings.TrimSpace(c.Lock.Redis.Address) == "" {
		errs = append(errs, errors.New("redis 签名者锁需要配置 address"))
	}
	switch c.Events.Driver {
	case "none", "rabbitmq":
	default:
		errs = append(errs, fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver))
	}
	if c.Ledger.TokenDecimals < 0 || c.Ledger.BaseDecimals < 0 {
		errs = append(errs, errors.New("资产精度不能为负数"))
	}
	return errors.Join(errs...)
}
