package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var log = logging.Logger("config")

// EscrowPolicy carries every business constant the escrow services depend on.
type EscrowPolicy struct {
	CommissionRate     decimal.Decimal
	MinAmount          decimal.Decimal
	MaxAmount          decimal.Decimal
	Currency           string
	AutoReleaseDays    int
	DisputeWindowDays  int
	PaymentWindow      time.Duration
	MilestoneTolerance decimal.Decimal
	KYCMinConfidence   float64
}

func DefaultEscrowPolicy() EscrowPolicy {
	return EscrowPolicy{
		CommissionRate:     decimal.RequireFromString("0.025"),
		MinAmount:          decimal.NewFromInt(1000),
		MaxAmount:          decimal.NewFromInt(10_000_000),
		Currency:           "XAF",
		AutoReleaseDays:    14,
		DisputeWindowDays:  7,
		PaymentWindow:      72 * time.Hour,
		MilestoneTolerance: decimal.RequireFromString("0.01"),
		KYCMinConfidence:   0.8,
	}
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type PayOSConfig struct {
	ClientID    string
	ApiKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
}

type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

type Config struct {
	Port         string
	AppBaseURL   string
	PostgresURL  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string
	JWTSecret    string
	JWTTTL       time.Duration
	ResetTTL     time.Duration
	LogLevel     string

	SMTP SMTPConfig

	PaymentProvider          string
	PayOS                    PayOSConfig
	MobileMoneyWebhookSecret string

	Escrow EscrowPolicy
	Retry  RetryPolicy

	SweepInterval    time.Duration
	ReminderInterval time.Duration
}

// Load reads .env when present and builds the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debugw("no .env file loaded", "err", err)
	}

	policy := DefaultEscrowPolicy()
	policy.CommissionRate = getDecimal("ESCROW_COMMISSION_RATE", policy.CommissionRate)
	policy.MinAmount = getDecimal("MIN_ESCROW_AMOUNT", policy.MinAmount)
	policy.MaxAmount = getDecimal("MAX_ESCROW_AMOUNT", policy.MaxAmount)
	policy.AutoReleaseDays = getInt("AUTO_RELEASE_DAYS", policy.AutoReleaseDays)
	policy.DisputeWindowDays = getInt("DISPUTE_TIMEOUT_DAYS", policy.DisputeWindowDays)
	policy.KYCMinConfidence = getFloat("KYC_MIN_CONFIDENCE", policy.KYCMinConfidence)

	cfg := &Config{
		Port:         getEnvWithDefault("PORT", "8080"),
		AppBaseURL:   getEnvWithDefault("APP_BASE_URL", "http://localhost:8080"),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnvWithDefault("KAFKA_TOPIC", "escrow.events"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTTTL:       getDuration("JWT_TTL", 24*time.Hour),
		ResetTTL:     getDuration("PASSWORD_RESET_TTL", 30*time.Minute),
		LogLevel:     getEnvWithDefault("LOG_LEVEL", "info"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		PaymentProvider: strings.ToLower(getEnvWithDefault("PAYMENT_PROVIDER", "sandbox")),
		PayOS: PayOSConfig{
			ClientID:    os.Getenv("PAYOS_CLIENT_ID"),
			ApiKey:      os.Getenv("PAYOS_API_KEY"),
			ChecksumKey: os.Getenv("PAYOS_CHECKSUM_KEY"),
			ReturnURL:   os.Getenv("PAYOS_RETURN_URL"),
			CancelURL:   os.Getenv("PAYOS_CANCEL_URL"),
		},
		MobileMoneyWebhookSecret: os.Getenv("MOBILE_MONEY_WEBHOOK_SECRET"),
		Escrow:                   policy,
		Retry: RetryPolicy{
			MaxAttempts: getInt("PAYMENT_MAX_ATTEMPTS", 5),
			Base:        getDuration("PAYMENT_RETRY_BASE", time.Minute),
		},
		SweepInterval:    getDuration("SWEEP_INTERVAL", 5*time.Minute),
		ReminderInterval: getDuration("REMINDER_INTERVAL", time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return &FieldError{Key: "JWT_SECRET", Msg: "must be set"}
	}
	if c.Escrow.CommissionRate.IsNegative() || c.Escrow.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &FieldError{Key: "ESCROW_COMMISSION_RATE", Msg: "must be in [0, 1)"}
	}
	if c.Escrow.MinAmount.GreaterThan(c.Escrow.MaxAmount) {
		return &FieldError{Key: "MIN_ESCROW_AMOUNT", Msg: "greater than MAX_ESCROW_AMOUNT"}
	}
	if c.Retry.MaxAttempts < 1 {
		return &FieldError{Key: "PAYMENT_MAX_ATTEMPTS", Msg: "must be at least 1"}
	}
	switch c.PaymentProvider {
	case "sandbox":
	case "payos":
		if c.PayOS.ClientID == "" || c.PayOS.ApiKey == "" || c.PayOS.ChecksumKey == "" {
			return &FieldError{Key: "PAYOS_CLIENT_ID", Msg: "payOS credentials missing"}
		}
	default:
		return &FieldError{Key: "PAYMENT_PROVIDER", Msg: "unknown provider " + c.PaymentProvider}
	}
	return nil
}

type FieldError struct {
	Key string
	Msg string
}

func (e *FieldError) Error() string { return "config " + e.Key + ": " + e.Msg }

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnw("invalid integer, using default", "key", key, "value", v)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnw("invalid float, using default", "key", key, "value", v)
		return def
	}
	return f
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Warnw("invalid decimal, using default", "key", key, "value", v)
		return def
	}
	return d
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnw("invalid duration, using default", "key", key, "value", v)
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
