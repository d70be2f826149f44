package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"slot-booking/reservation"
)

const LOCAL_DB_PATH string = "./database/events.json"

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr     string
	StoreBackend string
	LocalDBPath  string
	Mongo        MongoConfig
	Redis        RedisConfig
	Postgres     PostgresConfig
	Booking      reservation.Config
	SignKey      string
	TelegramBot  string
	LogLevel     slog.Level
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

func GetSecret(key string) (string, error) {
	val, exist := os.LookupEnv(key)
	if exist {
		return val, nil
	}
	return "", fmt.Errorf("no env variable with key %v", key)
}

// LoadEnvFile loads a .env file into the environment when one exists.
func LoadEnvFile(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load reads configuration from the environment. Values from a .env file in
// the working directory are loaded first and never override real variables.
func Load() (*Config, error) {
	LoadEnvFile()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":80")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("LOCAL_DB_PATH", LOCAL_DB_PATH)

	v.SetDefault("MONGODB_CONNSTRING", "")
	v.SetDefault("MONGODB_DATABASE", "booking-service")

	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "eventbooking")
	v.SetDefault("DB_SSLMODE", "disable")

	retry := reservation.DefaultRetryConfig()
	v.SetDefault("BOOKING_STRATEGY", reservation.StrategyTransactional.String())
	v.SetDefault("RETRY_ATTEMPTS", retry.Attempts)
	v.SetDefault("RETRY_DELAY", retry.Delay)
	v.SetDefault("RETRY_BACKOFF", retry.Backoff)
	v.SetDefault("BOOKING_TIMEOUT", 10*time.Second)

	v.SetDefault("SIGN", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

func FromViper(v *viper.Viper) (*Config, error) {
	strategy, err := reservation.ParseStrategy(v.GetString("BOOKING_STRATEGY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:     v.GetString("HTTP_ADDR"),
		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),
		LocalDBPath:  v.GetString("LOCAL_DB_PATH"),
		Mongo: MongoConfig{
			URI:      v.GetString("MONGODB_CONNSTRING"),
			Database: v.GetString("MONGODB_DATABASE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_URL"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Booking: reservation.Config{
			Strategy: strategy,
			Retry: reservation.RetryConfig{
				Attempts: v.GetInt("RETRY_ATTEMPTS"),
				Delay:    v.GetDuration("RETRY_DELAY"),
				Backoff:  v.GetFloat64("RETRY_BACKOFF"),
			},
			Timeout: v.GetDuration("BOOKING_TIMEOUT"),
		},
		SignKey:     v.GetString("SIGN"),
		TelegramBot: v.GetString("TELEGRAM_BOT_TOKEN"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendMongo, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == BackendMongo && c.Mongo.URI == "" {
		return fmt.Errorf("cannot find connection string for DB in the environment")
	}
	if c.Booking.Retry.Attempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.Booking.Retry.Attempts)
	}
	if c.SignKey == "" {
		return fmt.Errorf("no env variable with key SIGN")
	}
	return nil
}
