package config

import (
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL        string `mapstructure:"POSTGRES_URL"`
	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	ServerPort         string `mapstructure:"SERVER_PORT"`
	FastBaseURL        string `mapstructure:"FAST_BASE_URL"`
	AuthPhone          string `mapstructure:"AUTH_PHONE"`
	AuthPassword       string `mapstructure:"AUTH_PASSWORD"`
	SourceLabel        string `mapstructure:"SOURCE_LABEL"`
	ProxyURLs          string `mapstructure:"PROXY_URLS"`
	ProviderThreshold  int    `mapstructure:"PROVIDER_THRESHOLD"`
	TaskWorkers        int    `mapstructure:"TASK_WORKERS"`
	SourceTimeout      int    `mapstructure:"SOURCE_TIMEOUT"`
	CrawlIntervalHours int    `mapstructure:"CRAWL_INTERVAL_HOURS"`
	DeduplicationHours int    `mapstructure:"DEDUPLICATION_HOURS"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	// This allows configuration purely through environment variables in production
	_ = viper.ReadInConfig()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("FAST_BASE_URL", "https://app.ysbang.cn")
	viper.SetDefault("SOURCE_LABEL", "ysbang")
	viper.SetDefault("PROXY_URLS", "") // comma-separated, empty means direct
	viper.SetDefault("PROVIDER_THRESHOLD", 5)
	viper.SetDefault("TASK_WORKERS", 2)
	viper.SetDefault("SOURCE_TIMEOUT", 30) // in seconds
	viper.SetDefault("CRAWL_INTERVAL_HOURS", 24)
	viper.SetDefault("DEDUPLICATION_HOURS", 12)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
