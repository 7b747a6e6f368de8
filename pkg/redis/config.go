package redis

import "time"

// Config 定義 Redis 連線配置
type Config struct {
	Addr     string `yaml:"addr"`     // host:port
	Password string `yaml:"password"` // 密碼 (可由 LEDGER_REDIS_PASSWORD 覆寫)
	DB       int    `yaml:"db"`

	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// 連線重試
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// SetDefaults 補全預設值 (如果 yaml 沒寫)
func (c *Config) SetDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 50
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
}
