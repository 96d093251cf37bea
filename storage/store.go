package storage

import (
	"context"
	"errors"
	"time"

	"bmall_mirror/models"
)

// ErrDuplicate reports a unique-constraint conflict on insert. Callers
// racing on the same external identifier treat it as a successful no-op.
var ErrDuplicate = errors.New("storage: duplicate row")

// Store is the full persistence surface. SQLiteStore is the default
// backend; PostgresStore is used when DATABASE_URL is set.
type Store interface {
	Close() error

	SeedBrands(ctx context.Context, brands []models.Brand) error
	ListBrands(ctx context.Context) ([]models.Brand, error)

	UpsertSKU(ctx context.Context, sku *models.SKU) error

	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	InsertListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	SetListingBlacklisted(ctx context.Context, id int64, flag bool) error
	UpdateListingStatus(ctx context.Context, id int64, status int, checkedAt time.Time) error
	TouchListingCheck(ctx context.Context, id int64, checkedAt time.Time) error
	ActiveCandidates(ctx context.Context) ([]models.Candidate, error)

	IsSellerBlacklisted(ctx context.Context, uid string) (bool, error)
	InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) error
	MarkSellerListingsBlacklisted(ctx context.Context, uid string) (int64, error)
	RecentSellerSKUCounts(ctx context.Context, since time.Time) ([]models.SellerSKUCount, error)

	CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error
	UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error
}
