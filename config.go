package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port      string `yaml:"port"`
	DBHost    string `yaml:"db_host"`
	DBPort    string `yaml:"db_port"`
	DBName    string `yaml:"db_name"`
	DBUser    string `yaml:"db_user"`
	DBPass    string `yaml:"db_pass"`
	DBEngine  string `yaml:"db_engine"` // "postgresql", "pgx", "mysql", "sqlite", "sqlite-pure"
	DBPath    string `yaml:"db_path"`   // For SQLite
	DBSSLMode string `yaml:"db_ssl_mode"`

	GraphQLEndpoint    string        `yaml:"graphql_endpoint"`
	GraphQLAdminSecret string        `yaml:"graphql_admin_secret"`
	GraphQLTimeout     time.Duration `yaml:"graphql_timeout"`
	GeocoderURL        string        `yaml:"geocoder_url"`

	DefaultLanguage string        `yaml:"default_language"`
	TimeZone        string        `yaml:"time_zone"`
	QRScanTimeout   time.Duration `yaml:"qr_scan_timeout"`
	MaxCaptureBytes int           `yaml:"max_capture_bytes"`
	RecordCacheSize int           `yaml:"record_cache_size"`
	RecordCacheTTL  time.Duration `yaml:"record_cache_ttl"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	RequireAuth    bool     `yaml:"require_auth"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Port:            "8080",
		DBHost:          "localhost",
		DBPort:          "5432",
		DBName:          "dynaform",
		DBUser:          "dynaform",
		DBPass:          "dynaform",
		DBEngine:        "postgresql",
		DBSSLMode:       "prefer",
		GraphQLTimeout:  30 * time.Second,
		GeocoderURL:     "https://nominatim.openstreetmap.org",
		DefaultLanguage: "en",
		TimeZone:        "UTC",
		QRScanTimeout:   defaultQRScanTimeout,
		MaxCaptureBytes: 20 << 20,
		RecordCacheSize: 128,
		RecordCacheTTL:  defaultRecordCacheTTL,
		AllowedOrigins:  []string{"*"},
		LogLevel:        "info",
		LogFormat:       "json",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
	}
}

// loadConfig layers defaults, an optional YAML file and environment variables,
// in that order.
func loadConfig(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.DBHost = getEnv("DB_HOST", config.DBHost)
	config.DBPort = getEnv("DB_PORT", config.DBPort)
	config.DBName = getEnv("DB_NAME", config.DBName)
	config.DBUser = getEnv("DB_USER", config.DBUser)
	config.DBPass = getEnv("DB_PASS", config.DBPass)
	config.DBEngine = strings.ToLower(getEnv("DB_ENGINE", config.DBEngine))
	config.DBPath = getEnv("DB_PATH", config.DBPath)
	config.DBSSLMode = getEnv("DB_SSL_MODE", config.DBSSLMode)

	config.GraphQLEndpoint = getEnv("GRAPHQL_ENDPOINT", config.GraphQLEndpoint)
	config.GraphQLAdminSecret = getEnv("GRAPHQL_ADMIN_SECRET", config.GraphQLAdminSecret)
	config.GeocoderURL = getEnv("GEOCODER_URL", config.GeocoderURL)
	config.DefaultLanguage = getEnv("DEFAULT_LANGUAGE", config.DefaultLanguage)
	config.TimeZone = getEnv("TIME_ZONE", config.TimeZone)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.LogFormat = getEnv("LOG_FORMAT", config.LogFormat)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	var err error
	if config.GraphQLTimeout, err = getEnvDuration("GRAPHQL_TIMEOUT", config.GraphQLTimeout); err != nil {
		return nil, err
	}
	if config.QRScanTimeout, err = getEnvDuration("QR_SCAN_TIMEOUT", config.QRScanTimeout); err != nil {
		return nil, err
	}
	if config.MaxCaptureBytes, err = getEnvInt("MAX_CAPTURE_BYTES", config.MaxCaptureBytes); err != nil {
		return nil, err
	}
	if config.RecordCacheSize, err = getEnvInt("RECORD_CACHE_SIZE", config.RecordCacheSize); err != nil {
		return nil, err
	}
	if config.RecordCacheTTL, err = getEnvDuration("RECORD_CACHE_TTL", config.RecordCacheTTL); err != nil {
		return nil, err
	}
	if config.RequireAuth, err = getEnvBool("REQUIRE_AUTH", config.RequireAuth); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.DBEngine {
	case "postgresql", "postgres", "pgx", "mysql", "mariadb", "sqlite", "sqlite3", "sqlite-pure", "modernc":
	default:
		return fmt.Errorf("unsupported database engine: %s", c.DBEngine)
	}
	if isSQLite(c.DBEngine) && c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required for engine %s", c.DBEngine)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
