// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置，进程启动时构造一次，再按引用传给各组件。
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Lock      LockConfig      `yaml:"lock"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Inventory InventoryConfig `yaml:"inventory"`
	Payment   PaymentConfig   `yaml:"payment"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Orders    OrdersConfig    `yaml:"orders"`
}

type ServiceConfig struct {
	Name           string   `yaml:"name"`
	Port           int      `yaml:"port"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type DatabaseConfig struct {
	// Driver 为 "memory" 或 "mysql"。
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool { return len(c.Addrs) > 0 }

type LockConfig struct {
	// Backend 为 "memory"、"redis" 或 "zookeeper"。
	Backend      string   `yaml:"backend"`
	TTL          Duration `yaml:"ttl"`
	WaitTimeout  Duration `yaml:"wait_timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

type ZookeeperConfig struct {
	Servers        []string `yaml:"servers"`
	SessionTimeout Duration `yaml:"session_timeout"`
	Root           string   `yaml:"root"`
}

// 库存扣减失败时的处理策略
const (
	InventoryPolicyRecord = "record"
	InventoryPolicyCancel = "cancel"
)

type InventoryConfig struct {
	BaseURL       string   `yaml:"base_url"`
	// ServiceName 非空且启用 Nacos 时，启动时通过服务发现解析 BaseURL
	ServiceName   string   `yaml:"service_name"`
	Timeout       Duration `yaml:"timeout"`
	FailurePolicy string   `yaml:"failure_policy"`
}

type PaymentConfig struct {
	SecretKey string   `yaml:"secret_key"`
	APIBase   string   `yaml:"api_base"`
	Currency  string   `yaml:"currency"`
	Timeout   Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	EventsTopic     string   `yaml:"events_topic"`
	PaymentTopic    string   `yaml:"payment_topic"`
	PaymentGroupID  string   `yaml:"payment_group_id"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
	WriteTimeout    Duration `yaml:"write_timeout"`
}

// Enabled 表示是否配置了 Kafka。
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type OrdersConfig struct {
	AdmissionRules []string `yaml:"admission_rules"`
}

// Duration 让 YAML 中可以写 "3s"、"250ms" 这样的字符串。
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default 返回本地开发可直接运行的配置。
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "order-service", Port: 8080, RequestTimeout: Duration(60 * time.Second)},
		Log:     LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			AutoMigrate:     true,
		},
		Redis: RedisConfig{CacheTTL: Duration(5 * time.Minute)},
		Lock: LockConfig{
			Backend:      "memory",
			TTL:          Duration(15 * time.Second),
			WaitTimeout:  Duration(5 * time.Second),
			PollInterval: Duration(50 * time.Millisecond),
		},
		Zookeeper: ZookeeperConfig{SessionTimeout: Duration(5 * time.Second), Root: "/order_locks"},
		Inventory: InventoryConfig{
			BaseURL:       "http://localhost:8000",
			Timeout:       Duration(3 * time.Second),
			FailurePolicy: InventoryPolicyRecord,
		},
		Payment: PaymentConfig{Currency: "usd", Timeout: Duration(10 * time.Second)},
		Kafka: KafkaConfig{
			EventsTopic:     "order-events",
			PaymentTopic:    "payment-results",
			PaymentGroupID:  "order-service-payments",
			DeadLetterTopic: "payment-results-dlt",
			WriteTimeout:    Duration(2 * time.Second),
		},
		Tracing: TracingConfig{JaegerEndpoint: "http://localhost:14268/api/traces"},
		Nacos:   NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
	}
}

// Load 读取 YAML 配置文件（path 为空或文件不存在时使用默认值），叠加环境变量并校验。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)
	if port := getEnv("HTTP_PORT", ""); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("config: HTTP_PORT: %w", err)
		}
		c.Service.Port = p
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Redis.Addrs = getEnvList("REDIS_ADDRS", c.Redis.Addrs)
	c.Lock.Backend = getEnv("LOCK_BACKEND", c.Lock.Backend)
	c.Zookeeper.Servers = getEnvList("ZK_SERVERS", c.Zookeeper.Servers)
	c.Inventory.BaseURL = getEnv("INVENTORY_BASE_URL", c.Inventory.BaseURL)
	c.Inventory.ServiceName = getEnv("INVENTORY_SERVICE_NAME", c.Inventory.ServiceName)
	c.Inventory.FailurePolicy = getEnv("INVENTORY_FAILURE_POLICY", c.Inventory.FailurePolicy)
	c.Payment.SecretKey = getEnv("STRIPE_SECRET_KEY", c.Payment.SecretKey)
	c.Payment.APIBase = getEnv("STRIPE_API_BASE", c.Payment.APIBase)
	c.Payment.Currency = getEnv("PAYMENT_CURRENCY", c.Payment.Currency)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	if v := getEnv("TRACING_ENABLED", ""); v != "" {
		c.Tracing.Enabled = v == "true" || v == "1"
	}
	c.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Nacos.ServerAddrs)
	c.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Group = getEnv("NACOS_GROUP", c.Nacos.Group)
	return nil
}

// Validate 检查配置的一致性，并规范化 MySQL DSN。
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("config: service.port %d out of range", c.Service.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql":
		dsn, err := normalizeDSN(c.Database.DSN)
		if err != nil {
			return err
		}
		c.Database.DSN = dsn
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("config: lock.backend redis requires redis.addrs")
		}
	case "zookeeper":
		if len(c.Zookeeper.Servers) == 0 {
			return fmt.Errorf("config: lock.backend zookeeper requires zookeeper.servers")
		}
	default:
		return fmt.Errorf("config: unknown lock.backend %q", c.Lock.Backend)
	}
	switch c.Inventory.FailurePolicy {
	case InventoryPolicyRecord, InventoryPolicyCancel:
	default:
		return fmt.Errorf("config: unknown inventory.failure_policy %q", c.Inventory.FailurePolicy)
	}
	if c.Inventory.BaseURL == "" {
		return fmt.Errorf("config: inventory.base_url is required")
	}
	if c.Inventory.Timeout <= 0 || c.Payment.Timeout <= 0 {
		return fmt.Errorf("config: gateway timeouts must be positive")
	}
	c.Payment.Currency = strings.ToLower(strings.TrimSpace(c.Payment.Currency))
	if len(c.Payment.Currency) != 3 {
		return fmt.Errorf("config: payment.currency %q is not an ISO 4217 code", c.Payment.Currency)
	}
	return nil
}

// normalizeDSN 强制 parseTime=true 且使用 UTC，保证 created_at 能被正确扫描。
func normalizeDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("config: database.dsn is required for mysql")
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("config: database.dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
