package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"stock-service/internal/pkg/database"

	"go.uber.org/zap"
)

type Config struct {
	Env         string
	Port        string
	MetricsAddr string
	DB          DB
	Stock       Stock
	Redis       Redis
	Kafka       Kafka
	Cleanup     Cleanup
	Otel        Otel
}

type DB struct {
	database.Config
	// только serializable; более слабые уровни отклоняются при старте
	Isolation string
	// native | isolation
	RowLock string
}

type Stock struct {
	ReservationTTL    time.Duration
	CriticalThreshold int32
	// повторы собственной транзакции при конфликте сериализации
	TxAttempts int
	// только для development: выполнять операции без транзакции, если backend её не поддерживает
	AllowUnlocked bool
}

type Redis struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	DedupWindow time.Duration
}

type Kafka struct {
	Brokers       []string
	TopicLowStock string
}

type Cleanup struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

type Otel struct {
	Endpoint string
	Insecure bool
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func Load(log *zap.Logger) *Config {
	env := getEnvDefault("ENV", "production")
	return &Config{
		Env:         env,
		Port:        getEnv("APP_PORT", log),
		MetricsAddr: getEnvDefault("METRICS_ADDR", ":9090"),
		DB: DB{
			Config: database.Config{
				Driver:          getEnvDefault("DB_DRIVER", database.DriverPostgres),
				Host:            getEnv("DB_HOST", log),
				Port:            getEnv("DB_PORT", log),
				User:            getEnv("DB_USER", log),
				Password:        getEnv("DB_PASSWORD", log),
				Name:            getEnv("DB_NAME", log),
				SSLMode:         getEnvDefault("DB_SSLMODE", "disable"),
				MaxOpenConns:    atoiDefault(os.Getenv("DB_MAX_OPEN_CONNS"), 25),
				MaxIdleConns:    atoiDefault(os.Getenv("DB_MAX_IDLE_CONNS"), 5),
				ConnMaxLifetime: parseDurationWithDays(getEnvDefault("DB_CONN_MAX_LIFETIME", "30m")),
			},
			Isolation: getEnvDefault("DB_ISOLATION", "serializable"),
			RowLock:   getEnvDefault("DB_ROW_LOCK", "native"),
		},
		Stock: Stock{
			ReservationTTL:    parseDurationWithDays(getEnvDefault("STOCK_RESERVATION_TTL", "15m")),
			CriticalThreshold: int32(atoiDefault(os.Getenv("STOCK_CRITICAL_THRESHOLD"), 5)),
			TxAttempts:        atoiDefault(os.Getenv("STOCK_TX_ATTEMPTS"), 3),
			AllowUnlocked:     env == "development" && os.Getenv("STOCK_ALLOW_UNLOCKED") == "true",
		},
		Redis: Redis{
			Enabled:     os.Getenv("REDIS_ENABLED") == "true",
			Addr:        getEnvDefault("REDIS_ADDR", "localhost:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          atoiDefault(os.Getenv("REDIS_DB"), 0),
			DedupWindow: parseDurationWithDays(getEnvDefault("ALERT_DEDUP_WINDOW", "1h")),
		},
		Kafka: Kafka{
			Brokers:       splitAndTrim(os.Getenv("KAFKA_BROKERS")),
			TopicLowStock: getEnvDefault("KAFKA_TOPIC_LOW_STOCK", "stock.low"),
		},
		Cleanup: Cleanup{
			Enabled:   getEnvDefault("CLEANUP_ENABLED", "true") == "true",
			Interval:  parseDurationWithDays(getEnvDefault("CLEANUP_INTERVAL", "10m")),
			BatchSize: atoiDefault(os.Getenv("CLEANUP_BATCH_SIZE"), 500),
		},
		Otel: Otel{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		},
	}
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

func parseDurationWithDays(s string) time.Duration {
	if strings.HasSuffix(s, "d") {
		daysStr := strings.TrimSuffix(s, "d")
		days, err := time.ParseDuration(daysStr + "h")
		if err != nil {
			log.Printf("Ошибка парсинга TTL: %v", err)
			return 0
		}
		return time.Duration(24) * days
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return duration
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		pt := strings.TrimSpace(p)
		if pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
