// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Auth        AuthConfig
	AWS         AWSConfig
	Chain       ChainConfig
	Purchase    PurchaseConfig
	Content     ContentConfig
	Summary     SummaryConfig
	Email       EmailConfig
	I18n        I18nConfig
	Search      SearchConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
	RatePerSecond  int
	RateBurst      int
	AuthPerMinute  int
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	Tracing      bool
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
}

type AuthConfig struct {
	AppName         string
	SignatureWindow time.Duration
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
}

type ChainConfig struct {
	RPCURL              string
	ChainID             int64
	ContractAddress     string
	RelayerPrivateKey   string
	TokenDecimals       int32
	ExplorerBaseURL     string
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

type PurchaseConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type ContentConfig struct {
	GatewayURL   string
	CacheSize    int
	CacheTTL     time.Duration
	FetchTimeout time.Duration
}

type SummaryConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	MaxChars int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

type SearchConfig struct {
	DebounceQuiet time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RatePerSecond:  getEnvAsInt("RATE_LIMIT_RPS", 10),
			RateBurst:      getEnvAsInt("RATE_LIMIT_BURST", 20),
			AuthPerMinute:  getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "dataset_marketplace"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "datamarket.sqlite"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
			Tracing:      getEnvAsBool("DB_TRACING", false),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168),
		},
		Auth: AuthConfig{
			AppName:         getEnv("AUTH_APP_NAME", "DataMarket"),
			SignatureWindow: getEnvAsDuration("AUTH_SIGNATURE_WINDOW", 5*time.Minute),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "datamarket-assets"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
		},
		Chain: ChainConfig{
			RPCURL:              getEnv("CHAIN_RPC_URL", ""),
			ChainID:             int64(getEnvAsInt("CHAIN_ID", 80002)),
			ContractAddress:     getEnv("CHAIN_MARKETPLACE_CONTRACT", ""),
			RelayerPrivateKey:   getEnv("CHAIN_RELAYER_PRIVATE_KEY", ""),
			TokenDecimals:       int32(getEnvAsInt("CHAIN_TOKEN_DECIMALS", 18)),
			ExplorerBaseURL:     getEnv("CHAIN_EXPLORER_URL", "https://amoy.polygonscan.com"),
			PollInterval:        getEnvAsDuration("CHAIN_POLL_INTERVAL", 5*time.Second),
			ConfirmationTimeout: getEnvAsDuration("CHAIN_CONFIRMATION_TIMEOUT", 10*time.Minute),
		},
		Purchase: PurchaseConfig{
			MaxRetries:     getEnvAsInt("TX_MAX_RETRIES", 3),
			InitialBackoff: getEnvAsDuration("TX_RETRY_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     getEnvAsDuration("TX_RETRY_MAX_BACKOFF", 10*time.Second),
		},
		Content: ContentConfig{
			GatewayURL:   getEnv("IPFS_GATEWAY_URL", "https://ipfs.io"),
			CacheSize:    getEnvAsInt("IPFS_CACHE_SIZE", 512),
			CacheTTL:     getEnvAsDuration("IPFS_CACHE_TTL", 30*time.Minute),
			FetchTimeout: getEnvAsDuration("IPFS_FETCH_TIMEOUT", 10*time.Second),
		},
		Summary: SummaryConfig{
			Endpoint: getEnv("SUMMARY_ENDPOINT", ""),
			APIKey:   getEnv("SUMMARY_API_KEY", ""),
			Model:    getEnv("SUMMARY_MODEL", "gpt-4o-mini"),
			Timeout:  getEnvAsDuration("SUMMARY_TIMEOUT", 20*time.Second),
			MaxChars: getEnvAsInt("SUMMARY_MAX_CHARS", 280),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@datamarket.io"),
			FromName:     getEnv("FROM_NAME", "DataMarket"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
		Search: SearchConfig{
			DebounceQuiet: getEnvAsDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Purchase.MaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}

	if c.Chain.RPCURL != "" && c.Chain.ContractAddress == "" {
		return fmt.Errorf("CHAIN_MARKETPLACE_CONTRACT is required when CHAIN_RPC_URL is set")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
