package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const minJWTSecretLength = 32

type Config struct {
	Port             string
	MetricsPort      string
	BaseURL          string
	DatabaseURL      string
	RedisURL         string
	TrustedProxies   []string
	TOTPIssuer       string
	PasswordResetTTL time.Duration
	JWT              JWTConfig
	Log              LogConfig
	Email            EmailConfig
	Admin            AdminConfig
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type LogConfig struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

// AdminConfig controls the bootstrap administrator created at startup.
type AdminConfig struct {
	Init      bool
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	cfg := Config{
		Port:             getenvDefault("PORT", "8080"),
		MetricsPort:      getenvDefault("METRICS_PORT", "9090"),
		BaseURL:          getenvDefault("APP_BASE_URL", "http://localhost:5173"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         getenvDefault("REDIS_URL", "redis://localhost:6379"),
		TrustedProxies:   parseList(os.Getenv("TRUSTED_PROXIES")),
		TOTPIssuer:       getenvDefault("TOTP_ISSUER", "Property Management"),
		PasswordResetTTL: parseDuration(os.Getenv("PASSWORD_RESET_TTL"), time.Hour),
	}

	cfg.JWT = JWTConfig{
		Secret:     clean(os.Getenv("JWT_SECRET")),
		Expiration: parseDuration(os.Getenv("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     getenvDefault("JWT_ISSUER", "property-management"),
	}

	cfg.Log = LogConfig{
		File:       getenvDefault("LOG_FILE", "logs/server.log"),
		Level:      getenvDefault("LOG_LEVEL", "info"),
		MaxSizeMB:  parseInt(os.Getenv("LOG_MAX_SIZE_MB"), 50),
		MaxBackups: parseInt(os.Getenv("LOG_MAX_BACKUPS"), 5),
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     parseInt(clean(getenvDefault("EMAIL_SERVER_PORT", "587")), 587),
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	cfg.Admin = AdminConfig{
		Init:      parseBoolDefault(os.Getenv("INIT_ADMIN"), true),
		Email:     getenvDefault("ADMIN_EMAIL", "admin@property.com"),
		Password:  getenvDefault("ADMIN_PASSWORD", "Admin@123"),
		FirstName: getenvDefault("ADMIN_FIRST_NAME", "System"),
		LastName:  getenvDefault("ADMIN_LAST_NAME", "Administrator"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.JWT.Secret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.JWT.Expiration <= 0 {
		return fmt.Errorf("JWT_EXPIRATION must be positive")
	}
	if c.PasswordResetTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_TTL must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	return parseBoolDefault(val, false)
}

func parseBoolDefault(val string, def bool) bool {
	if val == "" {
		return def
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return def
	}
	return n
}

// parseDuration accepts Go duration strings ("90m") or a plain number of
// milliseconds ("86400000").
func parseDuration(val string, def time.Duration) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
