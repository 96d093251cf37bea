package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bmall_mirror/config"
	"bmall_mirror/crawler"
	"bmall_mirror/httputil"
	"bmall_mirror/logging"
	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/reconciler"
	"bmall_mirror/scheduler"
	"bmall_mirror/services"
	"bmall_mirror/storage"
	"bmall_mirror/timeutil"
)

var (
	sweepNow = flag.Bool("sweep", false, "Run one discovery sweep and exit")
	auditNow = flag.Bool("audit", false, "Run one abuse audit and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting bmall_mirror...")

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if err := seedBrands(ctx, store, cfg.BrandsFile); err != nil {
		log.Fatalf("Failed to seed brands: %v", err)
	}

	clock := timeutil.System{}
	httpClient := httputil.NewMarketClient()

	// The discovery sweep paces slowly across pages; status checks pace
	// much tighter since the detail endpoint is cheap.
	searchClient := market.NewClient(httpClient, cfg.Market.SearchURL, cfg.Market.DetailURL,
		cfg.Market.Category, cfg.Market.Cookie,
		market.NewPacer(cfg.Crawler.MinDelay, cfg.Crawler.MaxDelay, clock))
	detailClient := market.NewClient(httpClient, cfg.Market.SearchURL, cfg.Market.DetailURL,
		cfg.Market.Category, cfg.Market.Cookie,
		market.NewPacer(cfg.Reconciler.MinDelay, cfg.Reconciler.MaxDelay, clock))

	matcher := services.NewBrandMatcher(store)
	upserter := services.NewUpserter(store, clock)
	detector := services.NewAbuseDetector(store, clock, cfg.Abuse)

	crawl := crawler.New(searchClient, upserter, matcher, detector, store, clock, cfg.Crawler)
	recon := reconciler.New(detailClient, store, detector, clock, cfg.Reconciler)

	if *sweepNow {
		log.Println("Running one sweep...")
		if err := crawl.Sweep(ctx); err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Println("Sweep complete!")
		return
	}
	if *auditNow {
		log.Println("Running one abuse audit...")
		if err := detector.Run(ctx); err != nil {
			log.Fatalf("Audit failed: %v", err)
		}
		log.Println("Audit complete!")
		return
	}

	sched := scheduler.New(crawl, recon)
	if err := sched.Start(detector, cfg.AuditCron); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return store, nil
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return store, nil
}

func seedBrands(ctx context.Context, store storage.Store, path string) error {
	seeds, err := config.LoadBrandSeeds(path)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return nil
	}
	brands := make([]models.Brand, 0, len(seeds))
	for _, s := range seeds {
		brands = append(brands, models.Brand{Name: s.Name, Keywords: s.Keywords})
	}
	if err := store.SeedBrands(ctx, brands); err != nil {
		return err
	}
	log.Printf("Seeded %d brands from %s", len(brands), path)
	return nil
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
