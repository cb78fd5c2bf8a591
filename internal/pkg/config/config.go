// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 预订参数的边界。越界的配置值会被钳到边界内而不是启动失败，
// 与其余 fail-open 策略保持一致。
const (
	MinHoldMinutes    = 1
	MaxHoldMinutes    = 60
	MinPerReservation = 1
	MaxPerReservation = 100

	defaultHoldMinutes       = 15
	defaultMaxPerReservation = 10
	defaultSweepInterval     = Duration(5 * time.Minute)
)

// Config 是 ticket-service 的全部配置。
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers      []string `yaml:"brokers"`
			PaymentTopic string   `yaml:"paymentTopic"`
			GroupID      string   `yaml:"groupId"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Catalog struct {
		// BaseURL 直连地址；留空时通过 Nacos 按 ServiceName 发现
		BaseURL     string `yaml:"baseUrl"`
		ServiceName string `yaml:"serviceName"`
	} `yaml:"catalog"`

	Reservation struct {
		HoldMinutes               int            `yaml:"holdMinutes"`
		MaxTicketsPerReservation  int            `yaml:"maxTicketsPerReservation"`
		CategoryMaxPerReservation map[string]int `yaml:"categoryMaxPerReservation"`
		SweepInterval             Duration       `yaml:"sweepInterval"`
	} `yaml:"reservation"`
}

// HoldDuration 返回钳制后的持有时长。
func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.Reservation.HoldMinutes) * time.Minute
}

// Load 读取 YAML 配置文件，套用环境变量覆盖，再钳制业务边界。
// path 为空或文件不存在时只用默认值加环境变量。
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.clamp()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Service.Name = "ticket-service"
	c.Service.Port = 8086
	c.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/eventix?charset=utf8mb4&parseTime=True&loc=UTC"
	c.Infra.Redis.Addr = "localhost:6379"
	c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	c.Infra.Kafka.PaymentTopic = "payment-status"
	c.Infra.Kafka.GroupID = "ticket-service-group"
	c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	c.Infra.Nacos.Group = "DEFAULT_GROUP"
	c.Catalog.ServiceName = "event-catalog-service"
	c.Reservation.HoldMinutes = defaultHoldMinutes
	c.Reservation.MaxTicketsPerReservation = defaultMaxPerReservation
	c.Reservation.SweepInterval = defaultSweepInterval
}

func (c *Config) applyEnv() {
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addr = getEnv("REDIS_ADDR", c.Infra.Redis.Addr)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Catalog.BaseURL = getEnv("CATALOG_BASE_URL", c.Catalog.BaseURL)
}

// clamp 把业务参数压回合法区间。
func (c *Config) clamp() {
	if c.Reservation.HoldMinutes < MinHoldMinutes {
		c.Reservation.HoldMinutes = MinHoldMinutes
	}
	if c.Reservation.HoldMinutes > MaxHoldMinutes {
		c.Reservation.HoldMinutes = MaxHoldMinutes
	}
	if c.Reservation.MaxTicketsPerReservation < MinPerReservation {
		c.Reservation.MaxTicketsPerReservation = MinPerReservation
	}
	if c.Reservation.MaxTicketsPerReservation > MaxPerReservation {
		c.Reservation.MaxTicketsPerReservation = MaxPerReservation
	}
	for cat, limit := range c.Reservation.CategoryMaxPerReservation {
		if limit < MinPerReservation {
			c.Reservation.CategoryMaxPerReservation[cat] = MinPerReservation
		}
		if limit > MaxPerReservation {
			c.Reservation.CategoryMaxPerReservation[cat] = MaxPerReservation
		}
	}
	if c.Reservation.SweepInterval <= 0 {
		c.Reservation.SweepInterval = defaultSweepInterval
	}
}

// getEnv 从环境变量中读取配置，未设置时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
