package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/internal/matcher"
	"github.com/keypay/keypay/pkg/validation"
)

const (
	StorePocketBase = "pocketbase"
	StorePostgres   = "postgres"

	DefaultPayAddress   = "TNo5GoG5bV2ahj6XjS7rBwrA4WVhqEmNU9"
	DefaultUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

type Config struct {
	Development bool
	// API configuration
	APIPort            int
	CORSAllowedOrigins []string
	// AdminToken authenticates admin calls when the store is Postgres
	AdminToken string

	// Store configuration
	StoreBackend string

	PocketBaseURL           string
	PocketBaseAdminEmail    string
	PocketBaseAdminPassword string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string

	// Payment configuration
	PayAddress             string
	BasePrice              string
	WalletConfigURL        string
	WalletRefreshMinutes   int
	OrderExpireMinutes     int
	OrderReuseMinutes      int
	MatchPolicy            string
	PollIntervalSeconds    int
	ExpireIntervalSeconds  int
	QRServiceURL           string
	RemoteVerifyURL        string
	RemoteVerifyPath       string
	ExplorerTimeoutSeconds int

	// Explorer configuration
	USDTContract string
	TronGridURL  string
	TronscanURL  string
	TronAPIKey   string

	// SMTP configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string
	AdminEmail   string

	// Notification configuration
	TelegramBotToken    string
	TelegramAdminChatID int64
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:        getEnvAsBool("DEVELOPMENT", false),
		APIPort:            getEnvAsInt("API_PORT", 8080),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AdminToken:         getEnv("ADMIN_TOKEN", ""),

		StoreBackend:            getEnv("STORE_BACKEND", StorePocketBase),
		PocketBaseURL:           getEnv("POCKETBASE_URL", "http://127.0.0.1:8090"),
		PocketBaseAdminEmail:    getEnv("POCKETBASE_ADMIN_EMAIL", ""),
		PocketBaseAdminPassword: getEnv("POCKETBASE_ADMIN_PASSWORD", ""),

		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "keypay"),

		PayAddress:             getEnv("PAY_ADDRESS", DefaultPayAddress),
		BasePrice:              getEnv("BASE_PRICE", "2"),
		WalletConfigURL:        getEnv("WALLET_CONFIG_URL", ""),
		WalletRefreshMinutes:   getEnvAsInt("WALLET_REFRESH_MINUTES", 10),
		OrderExpireMinutes:     getEnvAsInt("ORDER_EXPIRE_MINUTES", 20),
		OrderReuseMinutes:      getEnvAsInt("ORDER_REUSE_MINUTES", 5),
		MatchPolicy:            getEnv("MATCH_POLICY", string(matcher.Tolerance)),
		PollIntervalSeconds:    getEnvAsInt("POLL_INTERVAL_SECONDS", 60),
		ExpireIntervalSeconds:  getEnvAsInt("EXPIRE_INTERVAL_SECONDS", 60),
		QRServiceURL:           getEnv("QR_SERVICE_URL", "https://api.qrserver.com/v1/create-qr-code/"),
		RemoteVerifyURL:        getEnv("REMOTE_VERIFY_URL", ""),
		RemoteVerifyPath:       getEnv("REMOTE_VERIFY_PATH", "/api/verify-order"),
		ExplorerTimeoutSeconds: getEnvAsInt("EXPLORER_TIMEOUT_SECONDS", 15),

		USDTContract: getEnv("USDT_CONTRACT", DefaultUSDTContract),
		TronGridURL:  getEnv("TRONGRID_URL", "https://api.trongrid.io"),
		TronscanURL:  getEnv("TRONSCAN_URL", "https://apilist.tronscanapi.com"),
		TronAPIKey:   getEnv("TRON_PRO_API_KEY", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPSender:   getEnv("SMTP_SENDER", ""),
		AdminEmail:   getEnv("ADMIN_EMAIL", ""),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChatID: getEnvAsInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePocketBase:
		if _, err := url.ParseRequestURI(c.PocketBaseURL); err != nil {
			return fmt.Errorf("invalid POCKETBASE_URL: %w", err)
		}
	case StorePostgres:
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.AdminToken == "" {
			return fmt.Errorf("ADMIN_TOKEN is required with the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if err := validation.ValidateAddress(c.PayAddress); err != nil {
		return fmt.Errorf("invalid PAY_ADDRESS: %w", err)
	}
	if err := validation.ValidateAddress(c.USDTContract); err != nil {
		return fmt.Errorf("invalid USDT_CONTRACT: %w", err)
	}
	if _, err := validation.ParseAmount(c.BasePrice); err != nil {
		return fmt.Errorf("invalid BASE_PRICE: %w", err)
	}
	if _, err := matcher.ParsePolicy(c.MatchPolicy); err != nil {
		return fmt.Errorf("invalid MATCH_POLICY: %w", err)
	}

	for name, v := range map[string]int{
		"ORDER_EXPIRE_MINUTES":     c.OrderExpireMinutes,
		"ORDER_REUSE_MINUTES":      c.OrderReuseMinutes,
		"POLL_INTERVAL_SECONDS":    c.PollIntervalSeconds,
		"EXPIRE_INTERVAL_SECONDS":  c.ExpireIntervalSeconds,
		"WALLET_REFRESH_MINUTES":   c.WalletRefreshMinutes,
		"EXPLORER_TIMEOUT_SECONDS": c.ExplorerTimeoutSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT %d", c.APIPort)
	}
	if c.StoreBackend == StorePocketBase && c.pocketBaseOnAPIPort() {
		return fmt.Errorf("API_PORT %d is already used by POCKETBASE_URL %s", c.APIPort, c.PocketBaseURL)
	}
	if err := validateVerifyPath(c.RemoteVerifyPath); err != nil {
		return fmt.Errorf("invalid REMOTE_VERIFY_PATH: %w", err)
	}
	return nil
}

// pocketBaseOnAPIPort reports whether a local PocketBase listens on the API port.
func (c *Config) pocketBaseOnAPIPort() bool {
	u, err := url.Parse(c.PocketBaseURL)
	if err != nil || u.Port() != strconv.Itoa(c.APIPort) {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}

// validateVerifyPath accepts an empty path (alias disabled) or a static
// absolute path outside the versioned API.
func validateVerifyPath(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%q must start with /", path)
	}
	if strings.ContainsAny(path, ":*?# ") {
		return fmt.Errorf("%q must be a static path", path)
	}
	if path == "/api/v1" || strings.HasPrefix(path, "/api/v1/") {
		return fmt.Errorf("%q collides with the /api/v1 routes", path)
	}
	return nil
}

// BasePriceDecimal returns the validated base price.
func (c *Config) BasePriceDecimal() decimal.Decimal {
	d, err := validation.ParseAmount(c.BasePrice)
	if err != nil {
		return decimal.NewFromInt(2)
	}
	return d
}

// Policy returns the validated match policy.
func (c *Config) Policy() matcher.Policy {
	p, err := matcher.ParsePolicy(c.MatchPolicy)
	if err != nil {
		return matcher.Tolerance
	}
	return p
}

func (c *Config) OrderExpiry() time.Duration {
	return time.Duration(c.OrderExpireMinutes) * time.Minute
}

func (c *Config) OrderReuseWindow() time.Duration {
	return time.Duration(c.OrderReuseMinutes) * time.Minute
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) ExpireInterval() time.Duration {
	return time.Duration(c.ExpireIntervalSeconds) * time.Second
}

func (c *Config) WalletRefreshInterval() time.Duration {
	return time.Duration(c.WalletRefreshMinutes) * time.Minute
}

func (c *Config) ExplorerTimeout() time.Duration {
	return time.Duration(c.ExplorerTimeoutSeconds) * time.Second
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt64(name string, defaultValue int64) int64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(name string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(name)
	if !exists {
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
