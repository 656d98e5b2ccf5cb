package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/kafka"
	"github.com/JoeShih716/go-refund-ledger/pkg/logger"
	"github.com/JoeShih716/go-refund-ledger/pkg/mysql"
	"github.com/JoeShih716/go-refund-ledger/pkg/postgres"
	"github.com/JoeShih716/go-refund-ledger/pkg/redis"
)

// DefaultPath 預設設定檔路徑，可用 LEDGER_CONFIG 覆寫
const DefaultPath = "config/config.yaml"

// 儲存層驅動
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	// Driver: memory / mysql / postgres
	Driver string `yaml:"driver"`
	// Isolation: read_committed / repeatable_read / serializable (僅 SQL 儲存層)
	Isolation string `yaml:"isolation"`

	GRPC ServerConfig `yaml:"grpc"`
	HTTP ServerConfig `yaml:"http"`
	// ShutdownTimeout graceful shutdown 的最長等待時間
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log      logger.Config   `yaml:"log"`
	Memory   MemoryConfig    `yaml:"memory"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    RedisConfig     `yaml:"redis"`
	Kafka    KafkaConfig     `yaml:"kafka"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // 空字串表示不啟動
}

type MemoryConfig struct {
	// WALPath 空字串表示不持久化
	WALPath string `yaml:"wal_path"`
}

// RedisConfig 餘額快取與事件頻道，Addr 為空時停用
type RedisConfig struct {
	redis.Config `yaml:",inline"`
	KeyPrefix    string        `yaml:"key_prefix"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	// Channel 非空時以 Pub/Sub 發佈事件
	Channel string `yaml:"channel"`
}

// KafkaConfig Brokers 為空時停用
type KafkaConfig struct {
	kafka.Config `yaml:",inline"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load 載入設定
// 順序: .env (若存在) -> YAML 檔 -> 環境變數覆寫 -> 預設值 -> 驗證
//
// 參數:
//
//	path: 設定檔路徑，空字串時使用 LEDGER_CONFIG 或 DefaultPath；預設路徑不存在時只用預設值
//
// 回傳值:
//
//	*Config: 完整的設定
//	error: 檔案讀取 / 解析 / 驗證錯誤
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := true
	if path == "" {
		path = os.Getenv("LEDGER_CONFIG")
	}
	if path == "" {
		path = DefaultPath
		explicit = false
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆寫
// 空字串視為未設定；GRPC_ADDR / HTTP_ADDR / KAFKA_BROKERS 例外，設為空字串表示停用
func (c *Config) applyEnv() {
	setString(&c.Driver, "LEDGER_DRIVER")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	setOrDisable(&c.GRPC.Addr, "GRPC_ADDR")
	setOrDisable(&c.HTTP.Addr, "HTTP_ADDR")
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.GRPC.Addr == "" && c.HTTP.Addr == "" {
		c.GRPC.Addr = ":50051"
		c.HTTP.Addr = ":8080"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "ledger:"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "ledger.events"
	}
}

// Validate 檢查設定組合是否可用
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return errors.New("config: mysql driver requires mysql.host and mysql.db_name")
		}
	case DriverPostgres:
		if c.Postgres.URL == "" && (c.Postgres.Host == "" || c.Postgres.DBName == "") {
			return errors.New("config: postgres driver requires DATABASE_URL or postgres.host and postgres.db_name")
		}
	default:
		return fmt.Errorf("config: unknown driver %q", c.Driver)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setOrDisable(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
