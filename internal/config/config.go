package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
)

type AppConfig struct {
	Port     string `validate:"required,numeric"`
	LogLevel string `validate:"oneof=trace debug info warn error"`

	// Market index source.
	MarketSymbol       string `validate:"required"`
	MarketBaseURL      string `validate:"omitempty,url"`
	MarketTimezone     string `validate:"required"`
	MarketLookbackDays int    `validate:"gte=0,lte=3650"`
	MarketPrefetch     bool

	// Weather sources. WeatherAPIKey enables the WeatherAPI.com fallback.
	WeatherBaseURL  string `validate:"omitempty,url"`
	WeatherTimezone string `validate:"required"`
	WeatherAPIKey   string

	// OrderTimezone is the zone in which order timestamps become dates.
	OrderTimezone  string `validate:"required"`
	CoordPrecision int    `validate:"gte=0,lte=6"`
	Geo            enrich.GeoBounds

	FetchTimeout time.Duration `validate:"gt=0"`
	FetchWorkers int           `validate:"gte=1,lte=256"`
	SourceRPS    float64       `validate:"gte=0"`
	SourceBurst  int           `validate:"gte=1"`
	RunTimeout   time.Duration `validate:"gte=0"`

	MarketRange quality.Bounds
	TempRange   quality.Bounds
	PrecipRange quality.Bounds
	FatalChecks []string

	// In-memory run history retention.
	StoreMaxHistory int           // max number of runs kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of runs (0 = unlimited)

	InputPath      string
	OutputPath     string
	DatabaseURL    string
	RedisAddr      string
	RedisTTL       time.Duration `validate:"gte=0"`
	EnrichInterval time.Duration `validate:"gte=0"`
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))

	cfg.MarketSymbol = getenvDefault("MARKET_SYMBOL", "^GSPC")
	cfg.MarketBaseURL = os.Getenv("MARKET_BASE_URL")
	cfg.MarketTimezone = getenvDefault("MARKET_TIMEZONE", "America/New_York")
	cfg.MarketLookbackDays = getenvInt("MARKET_LOOKBACK_DAYS", enrich.DefaultLookbackDays)
	cfg.MarketPrefetch = getenvBool("MARKET_PREFETCH", true)

	cfg.WeatherBaseURL = os.Getenv("WEATHER_BASE_URL")
	cfg.WeatherTimezone = getenvDefault("WEATHER_TIMEZONE", "America/Sao_Paulo")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")

	cfg.OrderTimezone = getenvDefault("ORDER_TIMEZONE", "UTC")
	cfg.CoordPrecision = getenvInt("COORD_PRECISION", 2)
	cfg.Geo = enrich.GeoBounds{
		LatMin: getenvFloat("GEO_LAT_MIN", -90),
		LatMax: getenvFloat("GEO_LAT_MAX", 90),
		LonMin: getenvFloat("GEO_LON_MIN", -180),
		LonMax: getenvFloat("GEO_LON_MAX", 180),
	}

	if cfg.FetchTimeout, err = getenvDuration("FETCH_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	cfg.FetchWorkers = getenvInt("FETCH_WORKERS", 8)
	cfg.SourceRPS = getenvFloat("SOURCE_RPS", 5)
	cfg.SourceBurst = getenvInt("SOURCE_BURST", 5)
	if cfg.RunTimeout, err = getenvDuration("RUN_TIMEOUT", "30m"); err != nil {
		return nil, err
	}

	cfg.MarketRange = quality.Bounds{Min: getenvFloat("MARKET_MIN", 0), Max: getenvFloat("MARKET_MAX", 1e6)}
	cfg.TempRange = quality.Bounds{Min: getenvFloat("TEMP_MIN", -60), Max: getenvFloat("TEMP_MAX", 60)}
	cfg.PrecipRange = quality.Bounds{Min: getenvFloat("PRECIP_MIN", 0), Max: getenvFloat("PRECIP_MAX", 500)}
	cfg.FatalChecks = splitList(getenvDefault("FATAL_CHECKS", quality.CheckRowCount+","+quality.CheckReferentialIntegrity))

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 50)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	cfg.InputPath = os.Getenv("INPUT_PATH")
	cfg.OutputPath = getenvDefault("OUTPUT_PATH", "seller_order_enriched.jsonl")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisTTL, err = getenvDuration("REDIS_TTL", "720h"); err != nil {
		return nil, err
	}
	if cfg.EnrichInterval, err = getenvDuration("ENRICH_INTERVAL", "0"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, timezone names and check names.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, tz := range []string{c.MarketTimezone, c.WeatherTimezone, c.OrderTimezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	known := map[string]bool{
		quality.CheckNotNullCritical: true, quality.CheckTotalOrderValue: true,
		quality.CheckMarketRange: true, quality.CheckTemperatureRange: true,
		quality.CheckPrecipitationRange: true, quality.CheckRowCount: true,
		quality.CheckReferentialIntegrity: true, quality.CheckOrderIDUnique: true,
	}
	for _, name := range c.FatalChecks {
		if !known[name] {
			return fmt.Errorf("invalid FATAL_CHECKS: unknown check %q", name)
		}
	}
	return nil
}

// Quality returns the validator configuration.
func (c *AppConfig) Quality() quality.Config {
	return quality.Config{
		MarketRange: c.MarketRange,
		TempRange:   c.TempRange,
		PrecipRange: c.PrecipRange,
		Geo:         c.Geo,
		Fatal:       c.FatalChecks,
	}
}

// Location loads a validated timezone name.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
