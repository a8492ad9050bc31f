package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPHost          string        `env:"DASMA_HTTP_HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"PORT" envDefault:"3001" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `env:"DASMA_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"DASMA_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"DASMA_HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout       time.Duration `env:"DASMA_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"DASMA_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	LogLevel  string `env:"DASMA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DASMA_LOG_FORMAT" envDefault:"json" validate:"oneof=json pretty"`

	// APIKey guards the messaging and notify routes; empty disables the check.
	APIKey string `env:"DASMA_API_KEY"`
	// Rejected keys per client IP before 429; 0 disables the throttle.
	APIKeyMaxFailures   int           `env:"DASMA_API_KEY_MAX_FAILURES" envDefault:"20" validate:"gte=0"`
	APIKeyFailureWindow time.Duration `env:"DASMA_API_KEY_FAILURE_WINDOW" envDefault:"5m"`

	CORSAllowedOrigins   []string `env:"DASMA_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"DASMA_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"DASMA_CORS_MAX_AGE" envDefault:"600"`

	DatabaseURL        string `env:"DASMA_DATABASE_URL"`
	DBSchema           string `env:"DASMA_DB_SCHEMA" envDefault:"public"`
	DBMaxConns         int32  `env:"DASMA_DB_MAX_CONNS" envDefault:"10" validate:"gte=1"`
	DBMinConns         int32  `env:"DASMA_DB_MIN_CONNS" envDefault:"0" validate:"gte=0,ltefield=DBMaxConns"`
	ReadinessRequireDB bool   `env:"DASMA_READINESS_REQUIRE_DB"`

	WASessionPath        string        `env:"DASMA_WA_SESSION_PATH" envDefault:"./.wa-session" validate:"required"`
	WABrowserPath        string        `env:"DASMA_WA_BROWSER_PATH"`
	WADefaultCountryCode string        `env:"DASMA_WA_DEFAULT_COUNTRY_CODE" validate:"omitempty,numeric,max=4"`
	WASendTimeout        time.Duration `env:"DASMA_WA_SEND_TIMEOUT" envDefault:"20s"`
	WADeviceName         string        `env:"DASMA_WA_DEVICE_NAME" envDefault:"Dasma"`

	Locale         string        `env:"DASMA_LOCALE" envDefault:"sq" validate:"oneof=sq en"`
	AppBaseURL     string        `env:"DASMA_APP_BASE_URL" validate:"omitempty,url"`
	NotifyDeepLink string        `env:"DASMA_NOTIFY_DEEP_LINK" envDefault:"/guests"`
	DedupWindow    time.Duration `env:"DASMA_NOTIFY_DEDUP_WINDOW" envDefault:"5m"`
	NotifyTimeout  time.Duration `env:"DASMA_NOTIFY_TIMEOUT" envDefault:"30s"`

	ResendAPIKey  string   `env:"RESEND_API_KEY"`
	SMTPHost      string   `env:"SMTP_HOST"`
	SMTPPort      int      `env:"SMTP_PORT" envDefault:"587" validate:"min=1,max=65535"`
	SMTPUser      string   `env:"SMTP_USER"`
	SMTPPassword  string   `env:"SMTP_PASSWORD"`
	EmailFrom     string   `env:"DASMA_EMAIL_FROM"`
	ExtraEmails   []string `env:"DASMA_NOTIFY_EXTRA_EMAILS" envSeparator:"," validate:"dive,email"`
	FallbackEmail string   `env:"DASMA_NOTIFY_FALLBACK_EMAIL" validate:"omitempty,email"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY" validate:"required_with=VAPIDPrivateKey"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY" validate:"required_with=VAPIDPublicKey"`
	VAPIDSubject    string `env:"VAPID_SUBJECT" envDefault:"mailto:njoftime@dasma.app"`

	InboxAllowedOrigins []string `env:"DASMA_INBOX_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`
	InboxOriginRequired bool     `env:"DASMA_INBOX_ORIGIN_REQUIRED"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads an optional .env file, parses the environment and validates
// the result.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return ParseConfig()
}

// ParseConfig parses and validates Config from the current environment only.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.ExtraEmails = trimAll(cfg.ExtraEmails)
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)
	cfg.InboxAllowedOrigins = trimAll(cfg.InboxAllowedOrigins)

	if err := configValidator.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.Port))
}

// DeepLink resolves the notification link against the public base URL.
func (c Config) DeepLink() string {
	link := strings.TrimSpace(c.NotifyDeepLink)
	if link == "" || strings.Contains(link, "://") {
		return link
	}
	base := strings.TrimSuffix(strings.TrimSpace(c.AppBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimPrefix(link, "/")
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
