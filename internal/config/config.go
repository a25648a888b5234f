// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPriceTrackerURL = "https://www.pokemonpricetracker.com/api/v2"
	DefaultTCGCSVURL       = "https://tcgcsv.com"

	// PokemonCategoryID is the TCGplayer category for the Pokemon TCG
	PokemonCategoryID = 3
)

type Config struct {
	Env              string
	Port             string
	FrontendDistPath string
	CORSOrigins      []string

	Database     DatabaseConfig
	PriceTracker PriceTrackerConfig
	Archive      ArchiveConfig
	Cache        CacheConfig

	// ScrapeBaseURL serves the flat fallback history; empty disables the path
	ScrapeBaseURL   string
	SyntheticPrices bool
}

type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string
	URL    string
}

type PriceTrackerConfig struct {
	APIKey            string
	BaseURL           string
	DailyLimit        int
	RequestsPerSecond float64
}

type ArchiveConfig struct {
	// BaseURL points at a remote pricing store; empty reads the local database
	BaseURL      string
	TCGCSVURL    string
	CategoryID   int
	GroupIDs     []int
	SyncInterval time.Duration
	SyncHour     int
}

type CacheConfig struct {
	Size          int
	LiveTTL       time.Duration
	ScrapeTTL     time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads .env (if present) and then the process environment.
// Existing environment variables win over .env values.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		FrontendDistPath: os.Getenv("FRONTEND_DIST_PATH"),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:   getEnv("DB_PATH", "./card_pricing.db"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		PriceTracker: PriceTrackerConfig{
			APIKey:            os.Getenv("PPT_API_KEY"),
			BaseURL:           strings.TrimRight(getEnv("PPT_BASE_URL", DefaultPriceTrackerURL), "/"),
			DailyLimit:        p.intVar("PPT_DAILY_LIMIT", 20000),
			RequestsPerSecond: p.floatVar("PPT_REQUESTS_PER_SECOND", 5),
		},
		Archive: ArchiveConfig{
			BaseURL:      strings.TrimRight(os.Getenv("ARCHIVE_BASE_URL"), "/"),
			TCGCSVURL:    strings.TrimRight(getEnv("TCGCSV_BASE_URL", DefaultTCGCSVURL), "/"),
			CategoryID:   p.intVar("TCGCSV_CATEGORY_ID", PokemonCategoryID),
			GroupIDs:     p.intList("TCGCSV_GROUP_IDS"),
			SyncInterval: p.durationVar("ARCHIVE_SYNC_INTERVAL", 24*time.Hour),
			SyncHour:     p.intVar("ARCHIVE_SYNC_HOUR", 21),
		},
		Cache: CacheConfig{
			Size:          p.intVar("CACHE_SIZE", 1000),
			LiveTTL:       p.durationVar("LIVE_CACHE_TTL", 5*time.Minute),
			ScrapeTTL:     p.durationVar("SCRAPE_CACHE_TTL", 30*time.Minute),
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       p.intVar("REDIS_DB", 0),
		},
		ScrapeBaseURL:   strings.TrimRight(os.Getenv("SCRAPE_BASE_URL"), "/"),
		SyntheticPrices: p.boolVar("SYNTHETIC_PRICES", false),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.PriceTracker.DailyLimit <= 0 {
		return fmt.Errorf("PPT_DAILY_LIMIT must be positive, got %d", c.PriceTracker.DailyLimit)
	}
	if c.PriceTracker.RequestsPerSecond <= 0 {
		return fmt.Errorf("PPT_REQUESTS_PER_SECOND must be positive, got %v", c.PriceTracker.RequestsPerSecond)
	}
	if c.Archive.SyncHour < 0 || c.Archive.SyncHour > 23 {
		return fmt.Errorf("ARCHIVE_SYNC_HOUR must be 0-23, got %d", c.Archive.SyncHour)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("CACHE_SIZE must be positive, got %d", c.Cache.Size)
	}
	if c.Cache.LiveTTL <= 0 || c.Cache.ScrapeTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed variable so startup reports them together
type parser struct {
	errs []error
}

func (p *parser) intVar(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (p *parser) intList(key string) []int {
	var out []int
	for _, v := range splitList(os.Getenv(key)) {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
			continue
		}
		out = append(out, n)
	}
	return out
}

func (p *parser) floatVar(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (p *parser) durationVar(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func (p *parser) boolVar(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}
