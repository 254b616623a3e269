package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dosmangos/internal/core"
	"dosmangos/internal/currency"
)

type Config struct {
	// HTTP Server
	Port           string
	WriteRateLimit int // write requests per client per minute

	// Database
	SQLiteDBPath string

	// AMQP, optional: empty URL disables event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	ExportBackend       string // sheets, memory, or empty to pick from the spreadsheet id
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Exchange rates
	OpenExchangeRatesAPIKey string
	OpenExchangeRatesURL    string
	AmbitoURL               string
	RatesSchedule           string

	// Place search and location
	SearchDebounce          time.Duration
	LocationTimeout         time.Duration
	DefaultLatitude         float64
	DefaultLongitude        float64
	LocationServicesEnabled bool
	NominatimURL            string

	DefaultCurrency string
	LogLevel        string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		WriteRateLimit: getEnvInt("WRITE_RATE_LIMIT", 60),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/dosmangos.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "dosmangos"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transaction_events"),

		ExportBackend:       getEnv("EXPORT_BACKEND", ""),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", ""),

		OpenExchangeRatesAPIKey: getEnv("OPENEXCHANGERATES_API_KEY", ""),
		OpenExchangeRatesURL:    getEnv("OPENEXCHANGERATES_URL", "https://openexchangerates.org/api"),
		AmbitoURL:               getEnv("AMBITO_URL", "https://mercados.ambito.com"),
		RatesSchedule:           getEnv("RATES_SCHEDULE", "0 0 * * *"),

		SearchDebounce:          getEnvDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		LocationTimeout:         getEnvDuration("LOCATION_TIMEOUT", 30*time.Second),
		DefaultLatitude:         getEnvFloat("DEFAULT_LATITUDE", -34.6037),
		DefaultLongitude:        getEnvFloat("DEFAULT_LONGITUDE", -58.3816),
		LocationServicesEnabled: getEnvBool("LOCATION_SERVICES_ENABLED", true),
		NominatimURL:            getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),

		DefaultCurrency: currency.Normalize(getEnv("DEFAULT_CURRENCY", "USD")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// DefaultCoordinate is the position reported by the fixed location manager.
func (c *Config) DefaultCoordinate() core.Coordinate {
	return core.Coordinate{Latitude: c.DefaultLatitude, Longitude: c.DefaultLongitude}
}

// SheetsEnabled reports whether the Google Sheets export is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate collects every configuration problem into one error.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.WriteRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid write rate limit %d: must be at least 1", c.WriteRateLimit))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.ExportBackend {
	case "", "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when EXPORT_BACKEND is sheets")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be 'sheets' or 'memory'", c.ExportBackend))
	}

	if _, err := cron.ParseStandard(c.RatesSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rates schedule '%s': %v", c.RatesSchedule, err))
	}

	for name, raw := range map[string]string{
		"NOMINATIM_URL":         c.NominatimURL,
		"OPENEXCHANGERATES_URL": c.OpenExchangeRatesURL,
		"AMBITO_URL":            c.AmbitoURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be an absolute URL", name, raw))
		}
	}

	if c.SearchDebounce < 0 || c.SearchDebounce > 5*time.Second {
		errors = append(errors, fmt.Sprintf("invalid search debounce %v: must be between 0 and 5s", c.SearchDebounce))
	}
	if c.LocationTimeout < time.Second || c.LocationTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid location timeout %v: must be between 1s and 5m", c.LocationTimeout))
	}
	if !c.DefaultCoordinate().Valid() {
		errors = append(errors, fmt.Sprintf("invalid default coordinate %v,%v", c.DefaultLatitude, c.DefaultLongitude))
	}
	if !currency.IsValidCode(c.DefaultCurrency) {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter ISO code", c.DefaultCurrency))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
