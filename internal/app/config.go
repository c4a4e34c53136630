package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// StorageDriver выбирает реализацию хранилища заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverMongo    StorageDriver = "mongo"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает все настройки запуска. Значения по умолчанию задаёт
// DefaultConfig, переменные окружения их перекрывают.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	ServiceName     string        `env:"SERVICE_NAME"`
	Brand           string        `env:"BRAND"`
	Currency        string        `env:"CURRENCY"`

	// ZoneFees - стоимость доставки по зоне: "Greater Freetown=40,Western Rural=60".
	ZoneFees map[string]float64 `env:"DELIVERY_ZONE_FEES" envSeparator:"," envKeyValSeparator:"="`

	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`
	AdminPhone  string   `env:"ADMIN_PHONE"`

	StorageDriver  StorageDriver `env:"STORAGE_DRIVER"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT"`
	ReceiptTimeout time.Duration `env:"RECEIPT_TIMEOUT"`

	Mongo    MongoConfig    `envPrefix:"MONGO_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	SMTP     SMTPConfig     `envPrefix:"SMTP_"`
	WhatsApp WhatsAppConfig `envPrefix:"WHATSAPP_"`
	Upload   UploadConfig   `envPrefix:"UPLOAD_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	HTTP     HTTPConfig

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type MongoConfig struct {
	URI      string `env:"URI"`
	Database string `env:"DATABASE"`
}

type PostgresConfig struct {
	DSN         string `env:"DSN"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`
}

type SMTPConfig struct {
	Host     string        `env:"HOST"`
	Port     int           `env:"PORT"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	From     string        `env:"FROM"`
	TLS      string        `env:"TLS"`
	Timeout  time.Duration `env:"TIMEOUT"`
}

type WhatsAppConfig struct {
	BaseURL          string        `env:"BASE_URL"`
	Token            string        `env:"TOKEN"`
	PhoneNumberID    string        `env:"PHONE_NUMBER_ID"`
	Template         string        `env:"TEMPLATE"`
	TemplateLanguage string        `env:"TEMPLATE_LANGUAGE"`
	Timeout          time.Duration `env:"TIMEOUT"`
}

type UploadConfig struct {
	BaseURL   string        `env:"BASE_URL"`
	CloudName string        `env:"CLOUD_NAME"`
	Preset    string        `env:"PRESET"`
	Folder    string        `env:"FOLDER"`
	MaxBytes  int           `env:"MAX_BYTES"`
	Timeout   time.Duration `env:"TIMEOUT"`
}

type KafkaConfig struct {
	Brokers  []string      `env:"BROKERS" envSeparator:","`
	Topic    string        `env:"TOPIC"`
	ClientID string        `env:"CLIENT_ID"`
	Timeout  time.Duration `env:"TIMEOUT"`
}

type HTTPConfig struct {
	AdminToken     string        `env:"ADMIN_TOKEN"`
	JWTSecret      string        `env:"ADMIN_JWT_SECRET"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// DefaultZoneFees - тарифы доставки, если DELIVERY_ZONE_FEES не задан.
func DefaultZoneFees() map[string]float64 {
	return map[string]float64{"Greater Freetown": 40}
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 10 * time.Second,
		ServiceName:     "storefront",
		Brand:           "Storefront",
		Currency:        "SLE",
		ZoneFees:        DefaultZoneFees(),
		StorageDriver:   StorageDriverMemory,
		StoreTimeout:    5 * time.Second,
		ReceiptTimeout:  10 * time.Second,
		Mongo:           MongoConfig{Database: "storefront"},
		Postgres:        PostgresConfig{AutoMigrate: true},
		SMTP:            SMTPConfig{Port: 587, TLS: "starttls", Timeout: 15 * time.Second},
		WhatsApp: WhatsAppConfig{
			BaseURL:          "https://graph.facebook.com/v19.0",
			TemplateLanguage: "en_US",
			Timeout:          10 * time.Second,
		},
		Upload: UploadConfig{
			BaseURL:  "https://api.cloudinary.com/v1_1",
			Folder:   "payment-proofs",
			MaxBytes: 5 << 20,
			Timeout:  20 * time.Second,
		},
		Kafka: KafkaConfig{ClientID: "storefront", Timeout: 5 * time.Second},
		HTTP: HTTPConfig{
			RateLimitRPS:   1,
			RateLimitBurst: 5,
			MaxBodyBytes:   8 << 20,
			RequestTimeout: 60 * time.Second,
		},
	}
}

// LoadConfig читает .env-файлы (отсутствующие пропускаются) и переменные окружения
// поверх DefaultConfig. Без аргументов пробует ./.env.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		// Load не перезаписывает уже выставленные переменные окружения.
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.StorageDriver))))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for mongo storage"))
		}
	case StorageDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	for zone, fee := range c.ZoneFees {
		if fee < 0 {
			errs = append(errs, fmt.Errorf("delivery fee for zone %q must be non-negative", zone))
		}
	}
	if c.WhatsApp.Token != "" && c.WhatsApp.PhoneNumberID == "" {
		errs = append(errs, errors.New("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_TOKEN is set"))
	}
	return errors.Join(errs...)
}
