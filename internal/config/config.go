package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the process configuration. Every key can be overridden from
// the environment as DAIRYRUN_<SECTION>_<KEY>, e.g. DAIRYRUN_MYSQL_PASSWORD.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"` // debug | release
	NodeID int64  `mapstructure:"node_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SubscriptionEvent string `mapstructure:"subscription_event"`
	WalletEvent       string `mapstructure:"wallet_event"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type BusinessConfig struct {
	Timezone            string        `mapstructure:"timezone"`
	DispatchInterval    time.Duration `mapstructure:"dispatch_interval"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout"`
	MaxRetryCount       int           `mapstructure:"max_retry_count"`
	LowBalanceThreshold string        `mapstructure:"low_balance_threshold"`
	StatsCacheTTL       time.Duration `mapstructure:"stats_cache_ttl"`
}

// LowBalance parses LowBalanceThreshold.
func (b BusinessConfig) LowBalance() decimal.Decimal {
	d, err := decimal.NewFromString(b.LowBalanceThreshold)
	if err != nil {
		return decimal.NewFromInt(50)
	}
	return d
}

// Keys need a default for AutomaticEnv to reach them through Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.node_id", 1)
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "dairyrun")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.auto_migrate", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.subscription_event", "subscription_event")
	v.SetDefault("kafka.topic.wallet_event", "wallet_event")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "dairyrun")
	v.SetDefault("business.timezone", "Asia/Kolkata")
	v.SetDefault("business.dispatch_interval", "1h")
	v.SetDefault("business.sweep_interval", "15m")
	v.SetDefault("business.outbox_interval", "500ms")
	v.SetDefault("business.cycle_timeout", "2m")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.low_balance_threshold", "50")
	v.SetDefault("business.stats_cache_ttl", "30s")
}

// Load reads the YAML file at configPath, then .env and the environment.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DAIRYRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}
