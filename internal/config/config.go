package config

import (
	"log"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"github.com/spendlens/spendlens-api/internal/secrets"
)

type ExecutorConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	MaxRunDuration   time.Duration `mapstructure:"max_run_duration"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type EncryptionConfig struct {
	CurrentKeyVersion int `mapstructure:"current_key_version"`
	// Keys maps version -> base64-encoded 32-byte AES key. Old versions stay
	// listed so credentials they encrypted remain readable after rotation.
	Keys map[string]string `mapstructure:"keys"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type Config struct {
	DatabaseURL string                    `mapstructure:"database_url"`
	ServerPort  string                    `mapstructure:"server_port"`
	JWTSecret   string                    `mapstructure:"jwt_secret"`
	JobsDir     string                    `mapstructure:"jobs_dir"`
	Executor    ExecutorConfig            `mapstructure:"executor"`
	Scheduler   SchedulerConfig           `mapstructure:"scheduler"`
	Encryption  EncryptionConfig          `mapstructure:"encryption"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.JobsDir == "" {
		config.JobsDir = "./jobs"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if len(config.Encryption.Keys) == 0 {
		log.Fatal("At least one encryption key must be set in the config file")
	}

	return &config
}

// Keyring builds the credential keyring from the configured key set.
func (c *Config) Keyring() (*secrets.Keyring, error) {
	keys := make(map[int]string, len(c.Encryption.Keys))
	for raw, encoded := range c.Encryption.Keys {
		version, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		keys[version] = encoded
	}
	return secrets.NewKeyring(keys, c.Encryption.CurrentKeyVersion)
}
