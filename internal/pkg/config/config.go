// internal/pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是 order-service 的完整配置，既可以来自本地 yaml 文件，也可以来自 Nacos 配置中心
type Config struct {
	App          AppConfig          `yaml:"app"`
	Tickets      TicketsConfig      `yaml:"tickets"`
	Notification NotificationConfig `yaml:"notification"`
	Payment      PaymentConfig      `yaml:"payment"`
	Infra        InfraConfig        `yaml:"infra"`
}

type AppConfig struct {
	ServiceName string `yaml:"serviceName"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	// Storage 可选 "memory" 或 "mysql"
	Storage string `yaml:"storage"`
	// NumberCache 可选 "memory" 或 "redis"
	NumberCache       string        `yaml:"numberCache"`
	ProcessingTimeout time.Duration `yaml:"processingTimeout"`
	// DomainCheckDelay 是域名校验唯一一次重试之前的等待时间
	DomainCheckDelay time.Duration `yaml:"domainCheckDelay"`
	// DomainTarget 是自定义域名的 CNAME 必须指向的主机
	DomainTarget string `yaml:"domainTarget"`
}

type TicketsConfig struct {
	// EligibilityRule 是一个 CEL 表达式，决定哪些购物车行会生成门票
	EligibilityRule string `yaml:"eligibilityRule"`
}

type NotificationConfig struct {
	// Transport 可选 "kafka" 或 "log"；log 只把通知写进日志，本地开发用
	Transport string `yaml:"transport"`
	Topic     string `yaml:"topic"`
}

type PaymentConfig struct {
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"groupId"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type ZookeeperConfig struct {
	Servers []string `yaml:"servers"`
	// ElectionPath 为空时不做队列属主选举（单进程部署）
	ElectionPath   string        `yaml:"electionPath"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"dataId"`
}

// Default 返回本地开发用的默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			ServiceName:       "order-service",
			Port:              8081,
			LogLevel:          "info",
			Storage:           "memory",
			NumberCache:       "memory",
			ProcessingTimeout: 30 * time.Second,
			DomainCheckDelay:  5 * time.Second,
			DomainTarget:      "shops.shopline.app",
		},
		Tickets: TicketsConfig{
			EligibilityRule: `item.productType in ["ticket", "voucher"]`,
		},
		Notification: NotificationConfig{Transport: "log", Topic: "notifications"},
		Payment:      PaymentConfig{Topic: "payment-status", GroupID: "order-service"},
		Infra: InfraConfig{
			Redis:     RedisConfig{Addr: "localhost:6379"},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP", DataID: "order-service.yaml"},
		},
	}
}

// Parse 在默认配置之上解析 yaml 文档
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse yaml config")
	}
	return cfg, cfg.Validate()
}

// Load 依次应用：默认值 -> yaml 文件（path 为空时跳过）-> 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Overlay 解析配置中心下发的 yaml 文档，环境变量仍然优先
func Overlay(data []byte) (*Config, error) {
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.App.Port = getEnvInt("PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.Storage = getEnv("STORAGE", c.App.Storage)
	c.App.NumberCache = getEnv("NUMBER_CACHE", c.App.NumberCache)
	c.Notification.Transport = getEnv("NOTIFICATION_TRANSPORT", c.Notification.Transport)
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addr = getEnv("REDIS_ADDR", c.Infra.Redis.Addr)
	c.Infra.Redis.Password = getEnv("REDIS_PASSWORD", c.Infra.Redis.Password)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if servers := getEnv("ZOOKEEPER_SERVERS", ""); servers != "" {
		c.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	c.Infra.Zookeeper.ElectionPath = getEnv("ZOOKEEPER_ELECTION_PATH", c.Infra.Zookeeper.ElectionPath)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.Addrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
}

// Validate 只检查会导致启动失败的组合
func (c *Config) Validate() error {
	switch c.App.Storage {
	case "memory":
	case "mysql":
		if _, err := mysql.ParseDSN(c.Infra.MySQL.DSN); err != nil {
			return errors.Wrap(err, "invalid mysql dsn")
		}
	default:
		return errors.Errorf("unknown storage %q", c.App.Storage)
	}
	switch c.App.NumberCache {
	case "memory":
	case "redis":
		if c.Infra.Redis.Addr == "" {
			return errors.New("redis number cache requires infra.redis.addr")
		}
	default:
		return errors.Errorf("unknown number cache %q", c.App.NumberCache)
	}
	switch c.Notification.Transport {
	case "log", "kafka":
	default:
		return errors.Errorf("unknown notification transport %q", c.Notification.Transport)
	}
	if c.App.Port <= 0 {
		return errors.Errorf("invalid port %d", c.App.Port)
	}
	return nil
}

var current atomic.Pointer[Config]

// Current 返回最近一次 Set 的配置；从未设置时返回默认配置
func Current() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

func Set(cfg *Config) {
	current.Store(cfg)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
