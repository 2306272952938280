package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/tma-auth-gateway/internal/shared"
)

// Identity provider backends
const (
	BackendFirebase = "firebase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server           ServerConfig
	Telegram         TelegramConfig
	IdentityProvider IdentityProviderConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	Audit            AuditConfig
	Observability    ObservabilityConfig
	CORS             CORSConfig
	Environment      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// TelegramConfig holds the mini app bot settings.
type TelegramConfig struct {
	BotToken string
	// MaxAuthAge rejects init data older than this. Zero disables the check.
	MaxAuthAge time.Duration
}

// IdentityProviderConfig selects and configures the account backend.
type IdentityProviderConfig struct {
	Backend    string
	Timeout    time.Duration
	MaxRetries int
	Firebase   FirebaseConfig
	Issuer     IssuerConfig
}

// FirebaseConfig holds Firebase service account settings
type FirebaseConfig struct {
	ProjectID            string
	ClientEmail          string
	PrivateKey           string
	ServiceAccountBase64 string
	TokenTTL             time.Duration
	BaseURL              string
	TokenURL             string
}

// IssuerConfig configures the local HS256 token issuer used by the postgres
// and memory backends.
type IssuerConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// RedisConfig holds the subject cache connection. Empty Addr disables it.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SubjectTTL time.Duration
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	WorkerCount int
	BatchSize   int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// CORSConfig holds the allowed browser origins of the mini app.
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Telegram: TelegramConfig{
			// BOT_TOKEN is accepted for older deployments
			BotToken:   getEnv("TELEGRAM_BOT_TOKEN", getEnv("BOT_TOKEN", "")),
			MaxAuthAge: getEnvAsDuration("TELEGRAM_MAX_AUTH_AGE", 0),
		},
		IdentityProvider: IdentityProviderConfig{
			Backend:    strings.ToLower(getEnv("IDP_BACKEND", BackendFirebase)),
			Timeout:    getEnvAsDuration("IDP_TIMEOUT", 10*time.Second),
			MaxRetries: getEnvAsInt("IDP_MAX_RETRIES", 2),
			Firebase: FirebaseConfig{
				ProjectID:            getEnv("FIREBASE_PROJECT_ID", ""),
				ClientEmail:          getEnv("FIREBASE_CLIENT_EMAIL", ""),
				PrivateKey:           getEnv("FIREBASE_PRIVATE_KEY", ""),
				ServiceAccountBase64: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON_BASE64", ""),
				TokenTTL:             getEnvAsDuration("FIREBASE_TOKEN_TTL", time.Hour),
				BaseURL:              getEnv("FIREBASE_AUTH_BASE_URL", ""),
				TokenURL:             getEnv("FIREBASE_TOKEN_URL", ""),
			},
			Issuer: IssuerConfig{
				SigningKey: getEnv("TOKEN_SIGNING_KEY", ""),
				Issuer:     getEnv("TOKEN_ISSUER", "tma-auth-gateway"),
				Audience:   getEnv("TOKEN_AUDIENCE", ""),
				TokenTTL:   getEnvAsDuration("TOKEN_TTL", time.Hour),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			SubjectTTL: getEnvAsDuration("SUBJECT_CACHE_TTL", 24*time.Hour),
		},
		Audit: AuditConfig{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
			BatchSize:   getEnvAsInt("AUDIT_BATCH_SIZE", 50),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set.
// Every failure is a shared ConfigError.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return shared.ConfigError("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.MaxAuthAge < 0 {
		return shared.ConfigError("TELEGRAM_MAX_AUTH_AGE must not be negative")
	}

	idp := c.IdentityProvider
	switch idp.Backend {
	case BackendFirebase:
		fb := idp.Firebase
		if fb.ServiceAccountBase64 == "" {
			if fb.ProjectID == "" || fb.ClientEmail == "" || fb.PrivateKey == "" {
				return shared.ConfigError("firebase backend requires FIREBASE_SERVICE_ACCOUNT_JSON_BASE64 or FIREBASE_PROJECT_ID, FIREBASE_CLIENT_EMAIL and FIREBASE_PRIVATE_KEY")
			}
		}
		if fb.TokenTTL <= 0 || fb.TokenTTL > time.Hour {
			return shared.ConfigError("FIREBASE_TOKEN_TTL must be between 1s and 1h")
		}
	case BackendPostgres, BackendMemory:
		if len(idp.Issuer.SigningKey) < 32 {
			return shared.ConfigError("%s backend requires TOKEN_SIGNING_KEY of at least 32 bytes", idp.Backend)
		}
		if idp.Issuer.TokenTTL <= 0 {
			return shared.ConfigError("TOKEN_TTL must be positive")
		}
	default:
		return shared.ConfigError("unknown IDP_BACKEND %q", idp.Backend)
	}

	if idp.Backend == BackendPostgres && !c.Database.Enabled() {
		return shared.ConfigError("postgres backend requires DATABASE_URL or DB_HOST")
	}
	if idp.Backend == BackendMemory && c.IsProduction() {
		return shared.ConfigError("memory backend is not allowed in production")
	}
	if idp.Timeout <= 0 {
		return shared.ConfigError("IDP_TIMEOUT must be positive")
	}
	if idp.MaxRetries < 0 || idp.MaxRetries > 10 {
		return shared.ConfigError("IDP_MAX_RETRIES must be between 0 and 10")
	}

	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return shared.ConfigError("database user is required")
		}
		if c.Database.Database == "" {
			return shared.ConfigError("database name is required")
		}
	}

	if c.Audit.Enabled && (c.Audit.BufferSize <= 0 || c.Audit.WorkerCount <= 0 || c.Audit.BatchSize <= 0) {
		return shared.ConfigError("audit buffer, worker and batch sizes must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return shared.ConfigError("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// The database is optional unless the postgres backend is selected.
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: getEnv("DATABASE_URL", ""),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:       getEnvAsBool("DB_INIT_SCHEMA", true),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "tma_auth")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
