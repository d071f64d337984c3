// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ideinstein/leadbridge/pkg/auth"
	"github.com/ideinstein/leadbridge/pkg/constants"
)

// Config holds every runtime setting of the lead service
type Config struct {
	Port    string
	GinMode string

	LogLevel string
	LogFile  string

	DB DBConfig

	CRM  CRMConfig
	Docs DocsConfig

	MaxUploadBytes int64
	MaxAttachments int
	MappingFile    string
	AllowedOrigins []string
	MinFillTime    time.Duration

	Admin AdminConfig

	DeliveryInterval   time.Duration
	DeliveryBatch      int
	MaxDeliveryAttempt int
	RetryBackoff       time.Duration
	CleanupSchedule    string
	Retention          time.Duration
}

// DBConfig describes the MySQL-compatible database holding pending submissions
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// CRMConfig holds OAuth client credentials and API location of the CRM vendor
type CRMConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccountsURL  string
	APIURL       string // empty: use api_domain from the token response
	APIVersion   string
	AuthScheme   string
	EarlyExpiry  time.Duration
}

// DocsConfig configures the document-storage vendor
type DocsConfig struct {
	APIURL    string
	ParentID  string // empty: store files locally in UploadDir
	UploadDir string
}

// AdminConfig configures the admin API login
type AdminConfig struct {
	Email        string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

// Load reads .env (when present) and the process environment
func Load() (*Config, error) {
	// A missing .env is normal in deployed environments
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Port:     getEnv("PORT", constants.DefaultPort),
		GinMode:  os.Getenv("GIN_MODE"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "leadbridge"),
		},
		CRM: CRMConfig{
			ClientID:     os.Getenv("CRM_CLIENT_ID"),
			ClientSecret: os.Getenv("CRM_CLIENT_SECRET"),
			RefreshToken: os.Getenv("CRM_REFRESH_TOKEN"),
			AccountsURL:  strings.TrimRight(getEnv("CRM_ACCOUNTS_URL", constants.DefaultCRMAccountsURL), "/"),
			APIURL:       strings.TrimRight(os.Getenv("CRM_API_URL"), "/"),
			APIVersion:   getEnv("CRM_API_VERSION", constants.DefaultCRMAPIVersion),
			AuthScheme:   getEnv("CRM_AUTH_SCHEME", constants.DefaultCRMAuthScheme),
			EarlyExpiry:  getDuration("TOKEN_EARLY_EXPIRY", constants.DefaultTokenEarlyExpiry, &errs),
		},
		Docs: DocsConfig{
			APIURL:    strings.TrimRight(getEnv("DOCS_API_URL", constants.DefaultDocsAPIURL), "/"),
			ParentID:  os.Getenv("DOCS_PARENT_ID"),
			UploadDir: getEnv("UPLOAD_DIR", constants.DefaultUploadDir),
		},
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", constants.DefaultMaxUploadBytes, &errs)),
		MaxAttachments: getInt("MAX_ATTACHMENTS", constants.DefaultMaxAttachments, &errs),
		MappingFile:    os.Getenv("MAPPING_FILE"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		MinFillTime:    getDuration("MIN_FILL_DURATION", constants.DefaultMinFillDuration, &errs),
		Admin: AdminConfig{
			Email:        strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			JWTSecret:    os.Getenv("JWT_SECRET"),
			TokenTTL:     getDuration("ADMIN_TOKEN_TTL", constants.DefaultAdminTokenTTL, &errs),
		},
		DeliveryInterval:   getDuration("DELIVERY_INTERVAL", constants.DefaultDeliveryInterval, &errs),
		DeliveryBatch:      getInt("DELIVERY_BATCH", constants.DefaultDeliveryBatch, &errs),
		MaxDeliveryAttempt: getInt("MAX_DELIVERY_ATTEMPTS", constants.DefaultMaxDeliveryAttempt, &errs),
		RetryBackoff:       getDuration("RETRY_BACKOFF", constants.DefaultRetryBackoff, &errs),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", constants.DefaultCleanupSchedule),
		Retention:          getDuration("RETENTION", constants.DefaultRetention, &errs),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error
	if c.CRM.ClientID == "" {
		errs = append(errs, errors.New("CRM_CLIENT_ID is required"))
	}
	if c.CRM.ClientSecret == "" {
		errs = append(errs, errors.New("CRM_CLIENT_SECRET is required"))
	}
	if c.CRM.RefreshToken == "" {
		errs = append(errs, errors.New("CRM_REFRESH_TOKEN is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.MaxAttachments < 0 {
		errs = append(errs, errors.New("MAX_ATTACHMENTS must not be negative"))
	}
	if c.DeliveryInterval <= 0 {
		errs = append(errs, errors.New("DELIVERY_INTERVAL must be positive"))
	}
	if c.DeliveryBatch <= 0 {
		errs = append(errs, errors.New("DELIVERY_BATCH must be positive"))
	}
	if c.MaxDeliveryAttempt <= 0 {
		errs = append(errs, errors.New("MAX_DELIVERY_ATTEMPTS must be positive"))
	}
	if c.Admin.Email != "" && c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when ADMIN_EMAIL is set"))
	}
	if c.Admin.PasswordHash != "" && !auth.IsBcryptHash(c.Admin.PasswordHash) {
		errs = append(errs, errors.New("ADMIN_PASSWORD_HASH must be a bcrypt hash (see cmd/hashpw)"))
	}
	return errors.Join(errs...)
}

// AdminEnabled reports whether the admin API can authenticate anyone
func (c *Config) AdminEnabled() bool {
	return c.Admin.Email != "" && c.Admin.PasswordHash != "" && c.Admin.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
