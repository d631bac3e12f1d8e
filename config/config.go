package config

import (
	"errors"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Storage  StorageConfig
	Email    EmailConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string

	// DevAdminUserID is granted the admin role in memory mode
	DevAdminUserID string
}

// DatabaseConfig holds the two credentials of the managed store. URL is the
// service-role DSN; PublicURL is the row-level-security scoped DSN.
type DatabaseConfig struct {
	URL       string
	PublicURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	TopicOrder        string
	NotificationGroup string
	CommissionGroup   string
}

type ObservabilityConfig struct {
	ServiceName    string
	LogLevel       string
	JaegerEndpoint string
	// TraceSampleRatio is the fraction of new traces recorded, in [0,1]
	TraceSampleRatio float64
	SentryDSN        string
}

type AuthConfig struct {
	JWTSecret string
}

type PaymentsConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	Currency             string
	SuccessURL           string
	CancelURL            string
}

type StorageConfig struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicURLBase string
	UseSSL        bool
}

type EmailConfig struct {
	APIURL     string
	APIKey     string
	From       string
	AdminEmail string
}

type BusinessConfig struct {
	MaxUploadBytes      int64
	LowStockThreshold   int
	IdempotencyTTLHours int
}

// MemoryMode reports whether the service runs without a database.
func (c *Config) MemoryMode() bool {
	return c.Database.URL == ""
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	maxUpload, _ := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "5242880"), 10, 64)
	lowStock, _ := strconv.Atoi(getEnv("LOW_STOCK_THRESHOLD", "10"))
	idemTTL, _ := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_HOURS", "24"))
	useSSL, _ := strconv.ParseBool(getEnv("STORAGE_USE_SSL", "true"))
	sampleRatio, err := strconv.ParseFloat(getEnv("TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil {
		sampleRatio = 1
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),

			DevAdminUserID: getEnv("DEV_ADMIN_USER_ID", ""),
		},
		Database: DatabaseConfig{
			URL:       os.Getenv("DATABASE_URL"),
			PublicURL: os.Getenv("DATABASE_PUBLIC_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:        getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			NotificationGroup: getEnv("KAFKA_NOTIFICATION_GROUP", "isla-notifications"),
			CommissionGroup:   getEnv("KAFKA_COMMISSION_GROUP", "isla-commissions"),
		},
		Observ: ObservabilityConfig{
			ServiceName:      getEnv("SERVICE_NAME", "isla-market"),
			LogLevel:         getEnv("LOG_LEVEL", ""),
			JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			TraceSampleRatio: sampleRatio,
			SentryDSN:        getEnv("SENTRY_DSN", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Payments: PaymentsConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:             getEnv("STRIPE_CURRENCY", "usd"),
			SuccessURL:           getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
			CancelURL:            getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/cart"),
		},
		Storage: StorageConfig{
			Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
			Region:        getEnv("STORAGE_REGION", "auto"),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY_ID", ""),
			SecretKey:     getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
			Bucket:        getEnv("STORAGE_BUCKET", "isla-market"),
			PublicURLBase: strings.TrimRight(getEnv("STORAGE_PUBLIC_URL", ""), "/"),
			UseSSL:        useSSL,
		},
		Email: EmailConfig{
			APIURL:     getEnv("EMAIL_API_URL", ""),
			APIKey:     getEnv("EMAIL_API_KEY", ""),
			From:       getEnv("EMAIL_FROM", "Isla Market <pedidos@islamarket.com>"),
			AdminEmail: getEnv("ADMIN_EMAIL", ""),
		},
		Business: BusinessConfig{
			MaxUploadBytes:      maxUpload,
			LowStockThreshold:   lowStock,
			IdempotencyTTLHours: idemTTL,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, memory_mode=%t", cfg.Server.Env, cfg.Server.Port, cfg.MemoryMode())
	return cfg
}

// Validate checks the options that must be present before serving traffic.
// Memory mode only needs the auth secret.
func (c *Config) Validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if !c.MemoryMode() {
		required := map[string]string{
			"STRIPE_SECRET_KEY":         c.Payments.StripeSecretKey,
			"STRIPE_WEBHOOK_SECRET":     c.Payments.StripeWebhookSecret,
			"STORAGE_ENDPOINT":          c.Storage.Endpoint,
			"STORAGE_ACCESS_KEY_ID":     c.Storage.AccessKey,
			"STORAGE_SECRET_ACCESS_KEY": c.Storage.SecretKey,
			"STORAGE_PUBLIC_URL":        c.Storage.PublicURLBase,
		}
		for _, key := range sortedKeys(required) {
			if required[key] == "" {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	if r := c.Observ.TraceSampleRatio; r < 0 || r > 1 {
		return errors.New("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	return nil
}

// Status reports which secrets are configured, never their values.
func (c *Config) Status() map[string]bool {
	return map[string]bool{
		"database":               c.Database.URL != "",
		"database_public":        c.Database.PublicURL != "",
		"auth_jwt_secret":        c.Auth.JWTSecret != "",
		"stripe_secret_key":      c.Payments.StripeSecretKey != "",
		"stripe_publishable_key": c.Payments.StripePublishableKey != "",
		"stripe_webhook_secret":  c.Payments.StripeWebhookSecret != "",
		"storage_credentials":    c.Storage.AccessKey != "" && c.Storage.SecretKey != "",
		"storage_public_url":     c.Storage.PublicURLBase != "",
		"email_api":              c.Email.APIURL != "" && c.Email.APIKey != "",
		"sentry":                 c.Observ.SentryDSN != "",
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
