package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level application configuration
type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
	VaultConfig    VaultConfig    `json:"vault"`
	MarketConfig   MarketConfig   `json:"market"`
	SettingsConfig SettingsConfig `json:"settings"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	BcryptCost          int           `json:"bcrypt_cost"`
	MinPasswordLength   int           `json:"min_password_length"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// VaultConfig holds HashiCorp Vault settings for broker credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// MarketConfig holds market data provider settings
type MarketConfig struct {
	Synthetic      bool          `json:"synthetic"` // Deterministic data, no external calls
	FinnhubAPIKey  string        `json:"finnhub_api_key"`
	FinnhubBaseURL string        `json:"finnhub_base_url"`
	DefaultSymbol  string        `json:"default_symbol"`
	PollInterval   time.Duration `json:"poll_interval"`
	CandleCacheTTL time.Duration `json:"candle_cache_ttl"`
	QuoteCacheTTL  time.Duration `json:"quote_cache_ttl"`
}

// SettingsConfig holds settings-store persistence options
type SettingsConfig struct {
	KeyPrefix string `json:"key_prefix"` // Storage key prefix for per-user envelopes
	FilePath  string `json:"file_path"`  // File store location when Redis is disabled
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// Load reads configuration from config.json (if present) and applies
// environment variable overrides on top.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 15)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 15)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Auth config - secrets always come from the environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)
	cfg.AuthConfig.BcryptCost = getEnvIntOrDefault("AUTH_BCRYPT_COST", 12)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 8)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", "false") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", "insight")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", "insight")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", "disable")

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "insight/broker-credentials")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Market config
	cfg.MarketConfig.Synthetic = getEnvOrDefault("MARKET_SYNTHETIC", "false") == "true"
	cfg.MarketConfig.FinnhubAPIKey = getEnvOrDefault("FINNHUB_API_KEY", cfg.MarketConfig.FinnhubAPIKey)
	cfg.MarketConfig.FinnhubBaseURL = getEnvOrDefault("FINNHUB_BASE_URL", "https://finnhub.io/api/v1")
	cfg.MarketConfig.DefaultSymbol = getEnvOrDefault("MARKET_DEFAULT_SYMBOL", "NIFTY")
	cfg.MarketConfig.PollInterval = getEnvDurationOrDefault("MARKET_POLL_INTERVAL", 5*time.Second)
	cfg.MarketConfig.CandleCacheTTL = getEnvDurationOrDefault("MARKET_CANDLE_CACHE_TTL", 60*time.Second)
	cfg.MarketConfig.QuoteCacheTTL = getEnvDurationOrDefault("MARKET_QUOTE_CACHE_TTL", 5*time.Second)

	// Settings store config
	cfg.SettingsConfig.KeyPrefix = getEnvOrDefault("SETTINGS_KEY_PREFIX", "settings:store")
	cfg.SettingsConfig.FilePath = getEnvOrDefault("SETTINGS_FILE_PATH", "insight-settings.json")

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

// Validate checks configuration consistency and collects all problems
func (c *Config) Validate() error {
	var problems []string

	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port %d", c.ServerConfig.Port))
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		problems = append(problems, "auth enabled but AUTH_JWT_SECRET is not set")
	}
	if c.MarketConfig.PollInterval < time.Second {
		problems = append(problems, "market poll interval must be at least 1s")
	}
	if !c.MarketConfig.Synthetic && c.MarketConfig.FinnhubAPIKey == "" {
		// No provider credentials means synthetic data is the only option
		c.MarketConfig.Synthetic = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %v", problems)
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
