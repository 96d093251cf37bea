package crawler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bmall_mirror/config"
	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/services"
	"bmall_mirror/timeutil"
)

// SearchClient pages through the upstream listing feed.
type SearchClient interface {
	SearchPage(ctx context.Context, cursor string) (*market.SearchPage, error)
}

// ItemUpserter merges one fetched item into the store.
type ItemUpserter interface {
	Upsert(ctx context.Context, item *market.Item, brandID *int64) (services.UpsertResult, error)
}

// BrandMatcher resolves a listing name to a brand id, nil when unmatched.
type BrandMatcher interface {
	Match(ctx context.Context, name string) (*int64, error)
}

// AbuseDetector runs one abuse-detection pass.
type AbuseDetector interface {
	Run(ctx context.Context) error
}

// RunStore records sweep accounting.
type RunStore interface {
	CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error
	UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error
}

// Crawler drives the discovery loop: it sweeps the newest-first feed page
// by page, merges every item, and stops a sweep once pages stop producing
// new or changed listings.
type Crawler struct {
	client   SearchClient
	upserter ItemUpserter
	brands   BrandMatcher
	detector AbuseDetector
	runs     RunStore
	clock    timeutil.Clock
	cfg      config.CrawlerConfig
}

func New(client SearchClient, upserter ItemUpserter, brands BrandMatcher, detector AbuseDetector, runs RunStore, clock timeutil.Clock, cfg config.CrawlerConfig) *Crawler {
	return &Crawler{
		client:   client,
		upserter: upserter,
		brands:   brands,
		detector: detector,
		runs:     runs,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run sweeps forever until the context is cancelled.
func (c *Crawler) Run(ctx context.Context) {
	for {
		if err := c.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Crawler: sweep aborted: %v", err)
		}

		if c.detector != nil {
			if err := c.detector.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Crawler: abuse pass failed: %v", err)
			}
		}

		c.clock.Sleep(ctx, c.cfg.SweepInterval)
		if ctx.Err() != nil {
			return
		}
	}
}

// Sweep walks one pass over the feed from the newest listing backwards.
// Upstream fetch errors are retried in place after a pause; store errors
// abort the sweep since continuing would corrupt change detection.
func (c *Crawler) Sweep(ctx context.Context) error {
	run := &models.CrawlRun{
		ID:        uuid.New(),
		StartedAt: c.clock.Now(),
		Status:    models.RunStatusRunning,
	}
	if err := c.runs.CreateCrawlRun(ctx, run); err != nil {
		return fmt.Errorf("create crawl run: %w", err)
	}

	err := c.sweepPages(ctx, run)

	now := c.clock.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	if err != nil {
		run.Status = models.RunStatusFailed
	}
	if uerr := c.runs.UpdateCrawlRun(ctx, run); uerr != nil && err == nil {
		err = fmt.Errorf("update crawl run: %w", uerr)
	}

	log.Printf("Crawler: sweep %s %s: %d pages, %d items (%d created, %d updated, %d unchanged, %d rejected, %d errors) in %s",
		run.ID, run.Status, run.Pages, run.ItemsSeen, run.Created, run.Updated, run.Unchanged, run.Rejected, run.Errors,
		now.Sub(run.StartedAt).Round(time.Second))
	return err
}

func (c *Crawler) sweepPages(ctx context.Context, run *models.CrawlRun) error {
	cursor := ""
	stalePages := 0

	for run.Pages < c.cfg.MaxPages && stalePages < c.cfg.StalePageLimit {
		page, err := c.client.SearchPage(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.Errors++
			log.Printf("Crawler: page fetch failed (cursor %q): %v", cursor, err)
			c.clock.Sleep(ctx, c.cfg.ErrorBackoff)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		run.Pages++
		if len(page.Items) == 0 {
			break
		}

		freshOnPage := 0
		for i := range page.Items {
			item := &page.Items[i]
			run.ItemsSeen++

			brandID, err := c.brands.Match(ctx, item.Name)
			if err != nil {
				return fmt.Errorf("brand match: %w", err)
			}
			res, err := c.upserter.Upsert(ctx, item, brandID)
			if err != nil {
				return fmt.Errorf("upsert item %d: %w", item.ID, err)
			}
			switch res {
			case services.UpsertCreated:
				run.Created++
				freshOnPage++
			case services.UpsertUpdated:
				run.Updated++
				freshOnPage++
			case services.UpsertUnchanged:
				run.Unchanged++
			case services.UpsertRejected:
				run.Rejected++
			}
		}

		if freshOnPage == 0 {
			stalePages++
		} else {
			stalePages = 0
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return nil
}
