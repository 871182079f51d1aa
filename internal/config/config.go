package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	StoreDriver string
	JWTSecret   string

	BusinessTimezone     string
	SlotDaysAhead        int
	SlotLeadTime         time.Duration
	LiveMinutesPerTicket int

	QueueListTieBreak     string
	QueuePositionTieBreak string

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OutboxStream    string
	OutboxSchedule  string
	OutboxBatchSize int
	OutboxSettle    time.Duration

	LogLevel  string
	LogFormat string

	OTelEndpoint string
	OTelInsecure bool
}

// Load reads the environment. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		StoreDriver: readString("STORE_DRIVER", "postgres"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		BusinessTimezone:     readString("BUSINESS_TIMEZONE", "Asia/Kolkata"),
		SlotDaysAhead:        readInt("SLOT_DAYS_AHEAD", 7),
		SlotLeadTime:         readDurationMinutes("SLOT_LEAD_MINUTES", 120),
		LiveMinutesPerTicket: readInt("LIVE_MINUTES_PER_TICKET", 5),

		QueueListTieBreak:     readString("QUEUE_LIST_TIE_BREAK", "newest"),
		QueuePositionTieBreak: readString("QUEUE_POSITION_TIE_BREAK", "oldest"),

		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 60),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 20),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),

		OutboxStream:    readString("OUTBOX_STREAM", "dispatch.events"),
		OutboxSchedule:  readString("OUTBOX_SCHEDULE", "@every 5s"),
		OutboxBatchSize: readInt("OUTBOX_BATCH_SIZE", 100),
		OutboxSettle:    readDurationSeconds("OUTBOX_SETTLE_SECONDS", 2),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogFormat: readString("LOG_FORMAT", "text"),

		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure: readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value < 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
