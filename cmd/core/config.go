package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
	"github.com/JoeShih716/go-balance-ledger/pkg/mysql"
	"github.com/JoeShih716/go-balance-ledger/pkg/redis"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

// StoreType 帳務儲存後端
type StoreType string

const (
	// StoreMySQL Level 0: 所有狀態在 MySQL (InnoDB 列鎖)
	StoreMySQL StoreType = "mysql"
	// StoreMemory Level 1: 記憶體 + WAL，單機開發用
	StoreMemory StoreType = "memory"
)

type Config struct {
	Server ServerConfig  `yaml:"server"`
	Log    logger.Config `yaml:"log"`
	Ledger LedgerConfig  `yaml:"ledger"`
	MySQL  mysql.Config  `yaml:"mysql"`
	Redis  redis.Config  `yaml:"redis"`
	WAL    wal.Config    `yaml:"wal"`
	Kafka  kafka.Config  `yaml:"kafka"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LedgerConfig struct {
	Store     StoreType     `yaml:"store"`
	LockScope string        `yaml:"lock_scope"` // operation, account
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	LockTTL   time.Duration `yaml:"lock_ttl"`

	Currencies []CurrencyConfig `yaml:"currencies"`
	// ProvisionCurrencies 啟動時為每個幣別建立技術帳戶
	ProvisionCurrencies bool `yaml:"provision_currencies"`
	// EventBuffer 事件輸送帶容量 (僅在設定 kafka.brokers 時使用)
	EventBuffer int `yaml:"event_buffer"`
}

type CurrencyConfig struct {
	ID    int64  `yaml:"id"`
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Scale int32  `yaml:"scale"`
}

func (c LedgerConfig) domainCurrencies() []domain.Currency {
	out := make([]domain.Currency, 0, len(c.Currencies))
	for _, cur := range c.Currencies {
		out = append(out, domain.Currency{ID: cur.ID, Code: cur.Code, Name: cur.Name, Scale: cur.Scale})
	}
	return out
}

func (c LedgerConfig) currencyIDs() []int64 {
	ids := make([]int64, 0, len(c.Currencies))
	for _, cur := range c.Currencies {
		ids = append(ids, cur.ID)
	}
	return ids
}

// loadConfig 讀取 yaml，.env 與 LEDGER_* 環境變數覆寫機敏設定
func loadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfgData, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("LEDGER_STORE"); ok {
		cfg.Ledger.Store = StoreType(v)
	}
	if v, ok := os.LookupEnv("LEDGER_SERVER_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("LEDGER_MYSQL_HOST"); ok {
		cfg.MySQL.Host = v
	}
	if v, ok := os.LookupEnv("LEDGER_MYSQL_PASSWORD"); ok {
		cfg.MySQL.Password = v
	}
	if v, ok := os.LookupEnv("LEDGER_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("LEDGER_REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := os.LookupEnv("LEDGER_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
}

// setDefaults 補全預設值 (如果 yaml 沒寫)
func (cfg *Config) setDefaults() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":50051"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Ledger.Store == "" {
		cfg.Ledger.Store = StoreMySQL
	}
	if cfg.Ledger.CacheTTL == 0 {
		cfg.Ledger.CacheTTL = usecase.DefaultCacheTTL
	}
	if cfg.Ledger.LockTTL == 0 {
		cfg.Ledger.LockTTL = usecase.DefaultLockTTL
	}
	cfg.MySQL.SetDefaults()
	cfg.Redis.SetDefaults()
}

func (cfg *Config) validate() error {
	switch cfg.Ledger.Store {
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("invalid ledger.store %q", cfg.Ledger.Store)
	}
	if _, err := usecase.ParseLockScope(cfg.Ledger.LockScope); err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(cfg.Ledger.Currencies))
	for _, c := range cfg.Ledger.Currencies {
		if c.ID <= 0 || c.Code == "" {
			return fmt.Errorf("invalid currency %+v", c)
		}
		if c.Scale < 0 {
			return fmt.Errorf("currency %s: scale must be non-negative", c.Code)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate currency id %d", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
