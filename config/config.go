package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Market     MarketConfig
	Crawler    CrawlerConfig
	Reconciler ReconcilerConfig
	Abuse      AbuseConfig

	DatabaseURL string // Postgres; empty = use SQLite at DBPath
	DBPath      string
	BrandsFile  string
	AuditCron   string // optional out-of-band abuse audit schedule
	LogPath     string
}

// MarketConfig is the upstream endpoint surface.
type MarketConfig struct {
	SearchURL string
	DetailURL string
	Category  string // category filter for the search endpoint
	Cookie    string // auth cookie for upstream requests
}

type CrawlerConfig struct {
	MinDelay       time.Duration // randomized pacing bounds, applied before every request
	MaxDelay       time.Duration
	ErrorBackoff   time.Duration
	SweepInterval  time.Duration
	MaxPages       int
	StalePageLimit int
}

type ReconcilerConfig struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	ErrorBackoff  time.Duration // base backoff, doubles under sustained failure
	MaxBackoff    time.Duration
	BackoffFactor float64
	RoundInterval time.Duration
	BatchSize     int
	BatchPause    time.Duration
}

type AbuseConfig struct {
	Window      time.Duration // trailing window for listing velocity
	Threshold   int           // listings per (seller, SKU) within the window
	SprayMinSKU int           // distinct SKUs for the spray signal
	SprayPerSKU int           // listings per distinct SKU for the spray signal
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Market: MarketConfig{
			SearchURL: getEnv("MARKET_SEARCH_URL", "https://mall.bilibili.com/mall-magic-c/internet/c2c/v2/list"),
			DetailURL: getEnv("MARKET_DETAIL_URL", "https://mall.bilibili.com/mall-magic-c/internet/c2c/items/queryC2cItemsDetail"),
			Category:  getEnv("CATEGORY_FILTER", "2312"),
			Cookie:    os.Getenv("AUTH_COOKIE"),
		},
		Crawler: CrawlerConfig{
			MinDelay:       getEnvDuration("CRAWL_MIN_DELAY", 2*time.Second),
			MaxDelay:       getEnvDuration("CRAWL_MAX_DELAY", 5*time.Second),
			ErrorBackoff:   getEnvDuration("CRAWL_ERROR_BACKOFF", 30*time.Second),
			SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			MaxPages:       getEnvInt("SWEEP_MAX_PAGES", 100),
			StalePageLimit: getEnvInt("STALE_PAGE_LIMIT", 5),
		},
		Reconciler: ReconcilerConfig{
			MinDelay:      getEnvDuration("CHECK_MIN_DELAY", 200*time.Millisecond),
			MaxDelay:      getEnvDuration("CHECK_MAX_DELAY", 500*time.Millisecond),
			ErrorBackoff:  getEnvDuration("CHECK_ERROR_BACKOFF", 30*time.Second),
			MaxBackoff:    getEnvDuration("CHECK_MAX_BACKOFF", 2*time.Hour),
			BackoffFactor: getEnvFloat("CHECK_BACKOFF_FACTOR", 2.0),
			RoundInterval: getEnvDuration("ROUND_INTERVAL", 30*time.Minute),
			BatchSize:     getEnvInt("CHECK_BATCH_SIZE", 20),
			BatchPause:    getEnvDuration("CHECK_BATCH_PAUSE", 3*time.Second),
		},
		Abuse: AbuseConfig{
			Window:      getEnvDuration("SUSPICIOUS_WINDOW", time.Hour),
			Threshold:   getEnvInt("SUSPICIOUS_THRESHOLD", 20),
			SprayMinSKU: getEnvInt("SPRAY_MIN_SKUS", 3),
			SprayPerSKU: getEnvInt("SPRAY_PER_SKU", 10),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "mirror.db"),
		BrandsFile:  getEnv("BRANDS_FILE", "config/brands.yaml"),
		AuditCron:   os.Getenv("AUDIT_CRON"),
		LogPath:     getEnv("LOG_PATH", "daemon.log"),
	}

	if cfg.Crawler.MaxDelay < cfg.Crawler.MinDelay {
		return nil, fmt.Errorf("CRAWL_MAX_DELAY %s below CRAWL_MIN_DELAY %s", cfg.Crawler.MaxDelay, cfg.Crawler.MinDelay)
	}
	if cfg.Reconciler.MaxDelay < cfg.Reconciler.MinDelay {
		return nil, fmt.Errorf("CHECK_MAX_DELAY %s below CHECK_MIN_DELAY %s", cfg.Reconciler.MaxDelay, cfg.Reconciler.MinDelay)
	}
	if cfg.Reconciler.BackoffFactor < 1 {
		return nil, fmt.Errorf("CHECK_BACKOFF_FACTOR must be >= 1, got %v", cfg.Reconciler.BackoffFactor)
	}

	return cfg, nil
}

// BrandSeed is one entry of the brand keyword seed file.
type BrandSeed struct {
	Name     string `yaml:"name"`
	Keywords string `yaml:"keywords"`
}

// LoadBrandSeeds reads the YAML brand keyword table. A missing file is not
// an error; the store may already be seeded.
func LoadBrandSeeds(path string) ([]BrandSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var seeds []BrandSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return seeds, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
