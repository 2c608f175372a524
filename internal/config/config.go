package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string // empty runs on in-memory stores
	JWTSecret   string

	// whatsapp, telegram or http
	AutomationBackend string
	AutomationURL     string
	AutomationTimeout time.Duration
	DevicesDir        string

	PostInterval time.Duration
	PostBurst    int
	APIRate      float64
	APIBurst     int

	DefaultTimezone string
	LogLevel        string
	LogJSON         bool

	AdminUsername string
	AdminPassword string
}

// LoadEnv reads .env into the process environment. A missing file is not
// an error; the returned error is only meant for a warning.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load builds the config from the environment.
func Load() *Config {
	return &Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		JWTSecret:   getenv("JWT_SECRET", ""),

		AutomationBackend: strings.ToLower(getenv("AUTOMATION_BACKEND", "whatsapp")),
		AutomationURL:     getenv("AUTOMATION_URL", "http://localhost:9000"),
		AutomationTimeout: getenvDuration("AUTOMATION_TIMEOUT", 2*time.Minute),
		DevicesDir:        getenv("DEVICES_DIR", "devices"),

		// Defaults: one post every 20s after a burst of 3
		PostInterval: getenvDuration("POST_INTERVAL", 20*time.Second),
		PostBurst:    getenvInt("POST_BURST", 3),
		APIRate:      getenvFloat("API_RATE", 5),
		APIBurst:     getenvInt("API_BURST", 20),

		DefaultTimezone: getenv("DEFAULT_TIMEZONE", "Asia/Jakarta"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogJSON:         getenvBool("LOG_JSON", false),

		AdminUsername: getenv("ADMIN_USERNAME", "root"),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),
	}
}

// Validate rejects configs the service cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.AutomationBackend {
	case "whatsapp", "telegram", "http":
	default:
		return fmt.Errorf("AUTOMATION_BACKEND %q is not one of whatsapp, telegram, http", c.AutomationBackend)
	}
	if c.AutomationBackend == "http" && c.AutomationURL == "" {
		return fmt.Errorf("AUTOMATION_URL is required for the http backend")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

// Location is the zone used for users without one.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
