// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database      DatabaseConfig      `json:"database"`
	Server        ServerConfig        `json:"server"`
	JWT           JWTConfig           `json:"jwt"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Cache         CacheConfig         `json:"cache"`
	Identities    []SenderIdentity    `json:"identities"`
	Throttle      ThrottleConfig      `json:"throttle"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	FollowUp      FollowUpConfig      `json:"follow_up"`
	Qualification QualificationConfig `json:"qualification"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
	ProxyHeader     string        `json:"proxy_header"`
}

type JWTConfig struct {
	SecretKey string        `json:"secret_key"`
	TokenTTL  time.Duration `json:"token_ttl"`
	Issuer    string        `json:"issuer"`
	Audience  string        `json:"audience"`
}

type LoggingConfig struct {
	Level         string `json:"level"`
	Format        string `json:"format"`
	Output        string `json:"output"` // stdout, file
	FilePath      string `json:"file_path"`
	MaxSizeMB     int    `json:"max_size_mb"`
	MaxBackups    int    `json:"max_backups"`
	MaxAgeDays    int    `json:"max_age_days"`
	Compress      bool   `json:"compress"`
	SchedulerPath string `json:"scheduler_path"`
}

type MetricsConfig struct {
	EnablePrometheus bool   `json:"enable_prometheus"`
	PrometheusPath   string `json:"prometheus_path"`
}

type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	RedisURL        string        `json:"redis_url"`
	RedisDB         int           `json:"redis_db"`
	RedisPrefix     string        `json:"redis_prefix"`
	DomainHealthTTL time.Duration `json:"domain_health_ttl"`
}

// SenderIdentity is one configured outbound address with its transport
// credentials. Identities are owned by configuration and read-only at runtime.
type SenderIdentity struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FromName     string `json:"from_name"`
	Domain       string `json:"domain"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
}

type ThrottleConfig struct {
	WindowLimit int           `json:"window_limit"`
	Window      time.Duration `json:"window"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxJitter   time.Duration `json:"max_jitter"`
}

type SchedulerConfig struct {
	ClaimInterval  time.Duration `json:"claim_interval"`
	ClaimBatchSize int           `json:"claim_batch_size"`
	SendTimeout    time.Duration `json:"send_timeout"`
}

type FollowUpConfig struct {
	ScanInterval time.Duration `json:"scan_interval"`
	ScanLimit    int           `json:"scan_limit"`
	MinDelay     time.Duration `json:"min_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

type QualificationConfig struct {
	MinTestSends      int     `json:"min_test_sends"`
	MinInboxPlacement float64 `json:"min_inbox_placement"`
	BounceWindow      int     `json:"bounce_window"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	identities, err := loadIdentities()
	if err != nil {
		return nil, err
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "coldflow"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
		},
		JWT: JWTConfig{
			SecretKey: getEnvString("JWT_SECRET_KEY", ""),
			TokenTTL:  getEnvDuration("JWT_TOKEN_TTL", 24*time.Hour),
			Issuer:    getEnvString("JWT_ISSUER", "coldflow"),
			Audience:  getEnvString("JWT_AUDIENCE", "coldflow-api"),
		},
		Logging: LoggingConfig{
			Level:         getEnvString("LOG_LEVEL", "info"),
			Format:        getEnvString("LOG_FORMAT", "text"),
			Output:        getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:      getEnvString("LOG_FILE_PATH", "logs/coldflow.log"),
			MaxSizeMB:     getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups:    getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays:    getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:      getEnvBool("LOG_COMPRESS", true),
			SchedulerPath: getEnvString("LOG_SCHEDULER_PATH", "logs/scheduler.log"),
		},
		Metrics: MetricsConfig{
			EnablePrometheus: getEnvBool("METRICS_ENABLE_PROMETHEUS", true),
			PrometheusPath:   getEnvString("METRICS_PROMETHEUS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", true),
			RedisURL:        getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:         getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:     getEnvString("CACHE_REDIS_PREFIX", "coldflow"),
			DomainHealthTTL: getEnvDuration("CACHE_DOMAIN_HEALTH_TTL", 1*time.Hour),
		},
		Identities: identities,
		Throttle: ThrottleConfig{
			WindowLimit: getEnvInt("THROTTLE_WINDOW_LIMIT", 10),
			Window:      getEnvDuration("THROTTLE_WINDOW", 60*time.Second),
			BaseDelay:   getEnvDuration("THROTTLE_BASE_DELAY", 2*time.Second),
			MaxJitter:   getEnvDuration("THROTTLE_MAX_JITTER", 3*time.Second),
		},
		Scheduler: SchedulerConfig{
			ClaimInterval:  getEnvDuration("SCHEDULER_CLAIM_INTERVAL", 1*time.Minute),
			ClaimBatchSize: getEnvInt("SCHEDULER_CLAIM_BATCH_SIZE", 100),
			SendTimeout:    getEnvDuration("SCHEDULER_SEND_TIMEOUT", 2*time.Minute),
		},
		FollowUp: FollowUpConfig{
			ScanInterval: getEnvDuration("FOLLOW_UP_SCAN_INTERVAL", 1*time.Hour),
			ScanLimit:    getEnvInt("FOLLOW_UP_SCAN_LIMIT", 200),
			MinDelay:     getEnvDuration("FOLLOW_UP_MIN_DELAY", 5*time.Minute),
			MaxDelay:     getEnvDuration("FOLLOW_UP_MAX_DELAY", 10*time.Minute),
		},
		Qualification: QualificationConfig{
			MinTestSends:      getEnvInt("QUALIFICATION_MIN_TEST_SENDS", 5),
			MinInboxPlacement: getEnvFloat("QUALIFICATION_MIN_INBOX_PLACEMENT", 95.0),
			BounceWindow:      getEnvInt("QUALIFICATION_BOUNCE_WINDOW", 100),
		},
	}

	return cfg, nil
}

// loadIdentities parses the SENDER_IDENTITIES environment variable, a JSON
// array of identity objects.
func loadIdentities() ([]SenderIdentity, error) {
	raw := os.Getenv("SENDER_IDENTITIES")
	if raw == "" {
		return nil, nil
	}
	var identities []SenderIdentity
	if err := json.Unmarshal([]byte(raw), &identities); err != nil {
		return nil, fmt.Errorf("failed to parse SENDER_IDENTITIES: %w", err)
	}
	for i, id := range identities {
		if id.ID == "" || id.Email == "" {
			return nil, fmt.Errorf("SENDER_IDENTITIES[%d] is missing id or email", i)
		}
		if identities[i].SMTPPort == 0 {
			identities[i].SMTPPort = 587
		}
		if identities[i].Domain == "" {
			if at := strings.LastIndex(id.Email, "@"); at >= 0 {
				identities[i].Domain = id.Email[at+1:]
			}
		}
	}
	return identities, nil
}

// IdentityByID returns the configured identity with the given id
func (c *ProductionConfig) IdentityByID(id string) (SenderIdentity, bool) {
	for _, identity := range c.Identities {
		if identity.ID == id {
			return identity, true
		}
	}
	return SenderIdentity{}, false
}

// loadEnvFile loads key=value pairs from a .env file when present
func loadEnvFile() error {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []string

	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}

	if cfg.JWT.SecretKey == "" {
		errs = append(errs, "JWT_SECRET_KEY is required")
	}
	if len(cfg.JWT.SecretKey) > 0 && len(cfg.JWT.SecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 characters long")
	}

	if len(cfg.Identities) == 0 {
		errs = append(errs, "SENDER_IDENTITIES must configure at least one identity")
	}

	if cfg.Throttle.WindowLimit <= 0 {
		errs = append(errs, "THROTTLE_WINDOW_LIMIT must be positive")
	}
	if cfg.Throttle.Window <= 0 {
		errs = append(errs, "THROTTLE_WINDOW must be positive")
	}

	if cfg.FollowUp.MinDelay <= 0 || cfg.FollowUp.MaxDelay < cfg.FollowUp.MinDelay {
		errs = append(errs, "FOLLOW_UP_MIN_DELAY and FOLLOW_UP_MAX_DELAY must be positive with max >= min")
	}

	if cfg.Qualification.MinTestSends <= 0 {
		errs = append(errs, "QUALIFICATION_MIN_TEST_SENDS must be positive")
	}
	if cfg.Qualification.MinInboxPlacement <= 0 || cfg.Qualification.MinInboxPlacement > 100 {
		errs = append(errs, "QUALIFICATION_MIN_INBOX_PLACEMENT must be within (0, 100]")
	}
	if cfg.Qualification.BounceWindow <= 0 {
		errs = append(errs, "QUALIFICATION_BOUNCE_WINDOW must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
