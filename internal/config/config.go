package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTTTL          time.Duration `mapstructure:"JWT_TTL"`
	PublicBaseURL   string        `mapstructure:"PUBLIC_BASE_URL"`
	DefaultTimezone string        `mapstructure:"DEFAULT_TIMEZONE"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `mapstructure:"STRIPE_PRICE_ID"`

	WhatsAppGraphURL    string `mapstructure:"WHATSAPP_GRAPH_URL"`
	WhatsAppAPIVersion  string `mapstructure:"WHATSAPP_API_VERSION"`
	WhatsAppAppSecret   string `mapstructure:"WHATSAPP_APP_SECRET"`
	WhatsAppVerifyToken string `mapstructure:"WHATSAPP_VERIFY_TOKEN"`

	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	SMTPFromName  string `mapstructure:"SMTP_FROM_NAME"`
	SMTPFromEmail string `mapstructure:"SMTP_FROM_EMAIL"`

	LLMAPIKey        string        `mapstructure:"LLM_API_KEY"`
	LLMBaseURL       string        `mapstructure:"LLM_BASE_URL"`
	LLMModel         string        `mapstructure:"LLM_MODEL"`
	AssistantTimeout time.Duration `mapstructure:"ASSISTANT_TIMEOUT"`

	S3Bucket   string `mapstructure:"S3_BUCKET"`
	S3Region   string `mapstructure:"S3_REGION"`
	S3Endpoint string `mapstructure:"S3_ENDPOINT"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	ConsentTokenTTL   time.Duration `mapstructure:"CONSENT_TOKEN_TTL"`
	ConsentSigningKey string        `mapstructure:"CONSENT_SIGNING_KEY"`
	ReminderCron      string        `mapstructure:"REMINDER_CRON"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"JWT_SECRET", "JWT_TTL", "PUBLIC_BASE_URL", "DEFAULT_TIMEZONE",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_PRICE_ID",
	"WHATSAPP_GRAPH_URL", "WHATSAPP_API_VERSION", "WHATSAPP_APP_SECRET", "WHATSAPP_VERIFY_TOKEN",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM_NAME", "SMTP_FROM_EMAIL",
	"LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL", "ASSISTANT_TIMEOUT",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"CONSENT_TOKEN_TTL", "CONSENT_SIGNING_KEY", "REMINDER_CRON",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("DEFAULT_TIMEZONE", "Europe/Madrid")
	v.SetDefault("WHATSAPP_GRAPH_URL", "https://graph.facebook.com")
	v.SetDefault("WHATSAPP_API_VERSION", "v20.0")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_NAME", "ClinicDesk")
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("ASSISTANT_TIMEOUT", "30s")
	v.SetDefault("S3_REGION", "eu-west-1")
	v.SetDefault("KAFKA_TOPIC", "clinicdesk.events")
	v.SetDefault("CONSENT_TOKEN_TTL", "72h")
	v.SetDefault("REMINDER_CRON", "0 18 * * *")

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode (ENV=development); unauthenticated requests act as admin")
	}

	return cfg, nil
}

// splitList normalises comma separated env values that viper leaves as a
// single element.
func splitList(current []string, raw string) []string {
	if len(current) > 1 {
		return current
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the configured default time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.DefaultTimezone)
}

// Validate checks that the configuration is safe to run. Outside development
// the session and consent signing keys are mandatory.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a valid IANA zone: %w", c.DefaultTimezone, err)
	}

	if !c.IsDev() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development")
		}
		if c.ConsentSigningKey == "" {
			return fmt.Errorf("CONSENT_SIGNING_KEY is required outside development")
		}
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.ConsentTokenTTL <= 0 {
		return fmt.Errorf("CONSENT_TOKEN_TTL must be positive")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

// StripeEnabled reports whether subscription billing is configured.
func (c *Config) StripeEnabled() bool { return c.StripeSecretKey != "" }

// SMTPEnabled reports whether outbound email is configured.
func (c *Config) SMTPEnabled() bool { return c.SMTPHost != "" && c.SMTPFromEmail != "" }

// LLMEnabled reports whether the assistant has a model provider.
func (c *Config) LLMEnabled() bool { return c.LLMAPIKey != "" }

// S3Enabled reports whether blobs go to object storage instead of memory.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

// KafkaEnabled reports whether domain events are published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }
