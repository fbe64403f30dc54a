package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort    string        `mapstructure:"SERVER_PORT"`
	APIBaseURL    string        `mapstructure:"API_BASE_URL"`
	APITimeout    time.Duration `mapstructure:"API_TIMEOUT"`
	StorageURL    string        `mapstructure:"STORAGE_URL"`
	StorageBucket string        `mapstructure:"STORAGE_BUCKET"`
	StorageKey    string        `mapstructure:"STORAGE_KEY"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	GPSDAddr      string        `mapstructure:"GPSD_ADDR"`
	SampleEvery   time.Duration `mapstructure:"SAMPLE_INTERVAL"`
	FlushEvery    time.Duration `mapstructure:"FLUSH_INTERVAL"`
}

func Load() Config {
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_PORT", ":7070")
	viper.SetDefault("API_BASE_URL", "http://localhost:3000/api")
	viper.SetDefault("API_TIMEOUT", 15*time.Second)
	viper.SetDefault("STORAGE_URL", "http://localhost:9000/storage/v1")
	viper.SetDefault("STORAGE_BUCKET", "evidencias")
	viper.SetDefault("GPSD_ADDR", "localhost:2947")
	viper.SetDefault("SAMPLE_INTERVAL", 5*time.Second)
	viper.SetDefault("FLUSH_INTERVAL", 30*time.Second)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
