package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration
type Config struct {
	HTTPAddr string

	// Database
	DBDriver       string // "postgres" or "sqlite"
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	SQLitePath     string
	ConnectRetries int
	AutoMigrate    bool

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool

	// Bootstrap
	BooksFile     string
	SeedStrict    bool
	DefaultReader DefaultReader

	// Store circuit breaker
	BreakerFailures int
	BreakerTimeout  time.Duration

	LogLevel       string
	LogDevelopment bool
}

// DefaultReader is the reader inserted when the reader table is empty
type DefaultReader struct {
	Name      string
	Surname   string
	Email     string
	Password  string
	BirthYear int
}

// Load reads a .env file if one exists and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg, err := databaseFromEnv()
	if err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.BooksFile = os.Getenv("BOOKS_FILE")
	if _, ok := os.LookupEnv("BOOKS_FILE"); !ok {
		cfg.BooksFile = "data/books.txt"
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.DefaultReader = DefaultReader{
		Name:     getEnv("DEFAULT_READER_NAME", "Ivan"),
		Surname:  getEnv("DEFAULT_READER_SURNAME", "Petrov"),
		Email:    getEnv("DEFAULT_READER_EMAIL", "ivan_ptrov@gmail.com"),
		Password: getEnv("DEFAULT_READER_PASSWORD", "password"),
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}

	if cfg.AutoMigrate, err = getBool("DB_AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}
	if cfg.SeedStrict, err = getBool("SEED_STRICT", false); err != nil {
		return nil, err
	}
	if cfg.DefaultReader.BirthYear, err = getInt("DEFAULT_READER_BIRTH_YEAR", 1990); err != nil {
		return nil, err
	}
	if cfg.BreakerFailures, err = getInt("STORE_BREAKER_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerTimeout, err = getDuration("STORE_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogDevelopment, err = getBool("LOG_DEVELOPMENT", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Tools that never serve
// sessions (migrations, the operator CLI) use it instead of Load.
func LoadDatabase() (*Config, error) {
	_ = godotenv.Load()
	return databaseFromEnv()
}

func databaseFromEnv() (*Config, error) {
	cfg := &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "postgres"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "program"),
		DBPassword: getEnv("DB_PASSWORD", "test"),
		DBName:     getEnv("DB_NAME", "library"),
		SQLitePath: getEnv("SQLITE_PATH", "library.db"),
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", cfg.DBDriver)
	}

	var err error
	if cfg.ConnectRetries, err = getInt("DB_CONNECT_RETRIES", 10); err != nil {
		return nil, err
	}
	if cfg.ConnectRetries < 1 {
		return nil, fmt.Errorf("DB_CONNECT_RETRIES must be at least 1")
	}
	return cfg, nil
}

// PostgresDSN builds the DSN for the postgres driver
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
