package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Storage backends
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageSecret = "secret"
)

// Config holds the token store configuration
type Config struct {
	Token   TokenConfig   `yaml:"token"`
	Cookie  CookieConfig  `yaml:"cookie"`
	Storage StorageConfig `yaml:"storage"`
	Refresh RefreshConfig `yaml:"refresh"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TokenConfig selects where the initial token is read from
type TokenConfig struct {
	Cookie          string        `yaml:"cookie"`
	LocalStorageKey string        `yaml:"localStorageKey"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	Persist         bool          `yaml:"persist"`
}

// CookieConfig holds the cookie jar the cookie source reads from
type CookieConfig struct {
	URL     string `yaml:"url"`
	JarPath string `yaml:"jarPath"`
}

// StorageConfig holds the persistent storage backend configuration
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	File    FileConfig   `yaml:"file"`
	Redis   RedisConfig  `yaml:"redis"`
	Secret  SecretConfig `yaml:"secret"`
}

// FileConfig holds the JSON file storage configuration
type FileConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the Redis storage configuration
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// SecretConfig holds the Kubernetes secret storage configuration
type SecretConfig struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
}

// RefreshConfig holds the HTTP refresh endpoint configuration
type RefreshConfig struct {
	URL       string        `yaml:"url"`
	Method    string        `yaml:"method"`
	TokenPath string        `yaml:"tokenPath"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		Token: TokenConfig{
			Cookie:          "XSRF-TOKEN",
			RefreshInterval: 60 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			File: FileConfig{
				Path: "token-store.json",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Secret: SecretConfig{
				Namespace: "default",
			},
		},
		Refresh: RefreshConfig{
			Method:    "POST",
			TokenPath: "token",
			Timeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Address: "0",
		},
	}

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Override with environment variables
	if cookie := os.Getenv("TOKEN_STORE_COOKIE"); cookie != "" {
		cfg.Token.Cookie = cookie
	}

	if key := os.Getenv("TOKEN_STORE_LOCAL_STORAGE_KEY"); key != "" {
		cfg.Token.LocalStorageKey = key
	}

	if interval := os.Getenv("TOKEN_STORE_REFRESH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_STORE_REFRESH_INTERVAL: %w", err)
		}
		cfg.Token.RefreshInterval = d
	}

	if refreshURL := os.Getenv("TOKEN_STORE_REFRESH_URL"); refreshURL != "" {
		cfg.Refresh.URL = refreshURL
	}

	if addr := os.Getenv("TOKEN_STORE_REDIS_ADDR"); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}

	// Validate
	if cfg.Token.RefreshInterval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive")
	}

	if cfg.Token.LocalStorageKey != "" {
		switch cfg.Storage.Backend {
		case StorageFile:
			if cfg.Storage.File.Path == "" {
				return nil, fmt.Errorf("file storage path is required")
			}
		case StorageRedis:
			if cfg.Storage.Redis.Addr == "" {
				return nil, fmt.Errorf("redis address is required")
			}
		case StorageSecret:
			if cfg.Storage.Secret.Name == "" {
				return nil, fmt.Errorf("secret name is required")
			}
		default:
			return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
		}
	} else if cfg.Cookie.URL == "" {
		return nil, fmt.Errorf("cookie URL is required when no local storage key is set")
	}

	return cfg, nil
}
