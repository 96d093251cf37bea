package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bmall_mirror/models"
)

// PostgresStore backs the mirror with a pgx pool. Method set matches
// SQLiteStore so callers only depend on their own narrow interfaces.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS brands (
		id BIGSERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		keywords TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS skus (
		sku_id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		img TEXT,
		market_price DOUBLE PRECISION,
		type INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS listings (
		id BIGINT PRIMARY KEY,
		sku_id BIGINT NOT NULL REFERENCES skus(sku_id),
		items_id BIGINT,
		brand_id BIGINT REFERENCES brands(id),
		name TEXT,
		seller_uid TEXT,
		seller_name TEXT,
		seller_avatar TEXT,
		seller_url TEXT,
		price DOUBLE PRECISION,
		show_price TEXT,
		show_market_price TEXT,
		inventory_count INTEGER,
		payment_time BIGINT,
		is_my_publish BOOLEAN DEFAULT FALSE,
		publish_status INTEGER DEFAULT 1,
		is_blacklisted BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		last_check_time TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		id BIGSERIAL PRIMARY KEY,
		seller_uid TEXT NOT NULL UNIQUE,
		seller_name TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS crawl_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		pages INTEGER DEFAULT 0,
		items_seen INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		unchanged INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_listings_sku_id ON listings(sku_id);
	CREATE INDEX IF NOT EXISTS idx_listings_brand_id ON listings(brand_id);
	CREATE INDEX IF NOT EXISTS idx_listings_seller_uid ON listings(seller_uid);
	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at);
	CREATE INDEX IF NOT EXISTS idx_listings_last_check_time ON listings(last_check_time);
	CREATE INDEX IF NOT EXISTS idx_listings_publish_status ON listings(publish_status);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Brands
// =============================================================================

func (s *PostgresStore) SeedBrands(ctx context.Context, brands []models.Brand) error {
	for _, b := range brands {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO brands (name, keywords) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`,
			b.Name, b.Keywords)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListBrands(ctx context.Context) ([]models.Brand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, keywords, created_at FROM brands ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brands []models.Brand
	for rows.Next() {
		var b models.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Keywords, &b.CreatedAt); err != nil {
			return nil, err
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

// =============================================================================
// SKUs
// =============================================================================

func (s *PostgresStore) UpsertSKU(ctx context.Context, sku *models.SKU) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO skus (sku_id, name, img, market_price, type, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (sku_id) DO UPDATE SET
			name = EXCLUDED.name,
			img = EXCLUDED.img,
			market_price = EXCLUDED.market_price,
			type = EXCLUDED.type,
			updated_at = NOW()`,
		sku.SKUID, sku.Name, sku.Img, sku.MarketPrice, sku.Type)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const pgListingColumns = `
	id, sku_id, items_id, brand_id, name,
	seller_uid, seller_name, seller_avatar, seller_url,
	price, show_price, show_market_price, inventory_count, payment_time,
	is_my_publish, publish_status, is_blacklisted, created_at, last_check_time`

func (s *PostgresStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	var l models.Listing
	err := s.pool.QueryRow(ctx,
		`SELECT`+pgListingColumns+` FROM listings WHERE id = $1`, id).Scan(
		&l.ID, &l.SKUID, &l.ItemsID, &l.BrandID, &l.Name,
		&l.SellerUID, &l.SellerName, &l.SellerAvatar, &l.SellerURL,
		&l.Price, &l.ShowPrice, &l.ShowMarketPrice, &l.InventoryCount, &l.PaymentTime,
		&l.IsMyPublish, &l.PublishStatus, &l.IsBlacklisted, &l.CreatedAt, &l.LastCheckTime,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) InsertListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (`+pgListingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		l.ID, l.SKUID, l.ItemsID, l.BrandID, l.Name,
		l.SellerUID, l.SellerName, l.SellerAvatar, l.SellerURL,
		l.Price, l.ShowPrice, l.ShowMarketPrice, l.InventoryCount, l.PaymentTime,
		l.IsMyPublish, l.PublishStatus, l.IsBlacklisted, l.CreatedAt, l.LastCheckTime)
	return mapPgError(err)
}

func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET
			sku_id = $2, items_id = $3, brand_id = $4, name = $5,
			seller_uid = $6, seller_name = $7, seller_avatar = $8, seller_url = $9,
			price = $10, show_price = $11, show_market_price = $12,
			inventory_count = $13, payment_time = $14, is_my_publish = $15, is_blacklisted = $16
		WHERE id = $1`,
		l.ID, l.SKUID, l.ItemsID, l.BrandID, l.Name,
		l.SellerUID, l.SellerName, l.SellerAvatar, l.SellerURL,
		l.Price, l.ShowPrice, l.ShowMarketPrice,
		l.InventoryCount, l.PaymentTime, l.IsMyPublish, l.IsBlacklisted)
	return err
}

func (s *PostgresStore) SetListingBlacklisted(ctx context.Context, id int64, flag bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET is_blacklisted = $2 WHERE id = $1`, id, flag)
	return err
}

func (s *PostgresStore) UpdateListingStatus(ctx context.Context, id int64, status int, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET publish_status = $2, last_check_time = $3 WHERE id = $1`,
		id, status, checkedAt)
	return err
}

func (s *PostgresStore) TouchListingCheck(ctx context.Context, id int64, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET last_check_time = $2 WHERE id = $1`, id, checkedAt)
	return err
}

func (s *PostgresStore) ActiveCandidates(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sku_id, price, last_check_time
		FROM listings
		WHERE publish_status = $1`, models.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ID, &c.SKUID, &c.Price, &c.LastCheck); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Blacklist
// =============================================================================

func (s *PostgresStore) IsSellerBlacklisted(ctx context.Context, uid string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM blacklist WHERE seller_uid = $1`, uid).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blacklist (seller_uid, seller_name, reason) VALUES ($1, $2, $3)`,
		e.SellerUID, e.SellerName, e.Reason)
	return mapPgError(err)
}

func (s *PostgresStore) MarkSellerListingsBlacklisted(ctx context.Context, uid string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET is_blacklisted = TRUE WHERE seller_uid = $1`, uid)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RecentSellerSKUCounts(ctx context.Context, since time.Time) ([]models.SellerSKUCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.seller_uid, l.seller_name, l.sku_id, s.name,
			COUNT(*), MIN(l.created_at), MAX(l.created_at)
		FROM listings l
		JOIN skus s ON l.sku_id = s.sku_id
		WHERE l.created_at >= $1
		GROUP BY l.seller_uid, l.seller_name, l.sku_id, s.name`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SellerSKUCount
	for rows.Next() {
		var c models.SellerSKUCount
		if err := rows.Scan(&c.SellerUID, &c.SellerName, &c.SKUID, &c.SKUName,
			&c.Count, &c.FirstListing, &c.LastListing); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Crawl runs
// =============================================================================

func (s *PostgresStore) CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, run.Status)
	return err
}

func (s *PostgresStore) UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_runs SET
			finished_at = $2, status = $3, pages = $4, items_seen = $5,
			created = $6, updated = $7, unchanged = $8, rejected = $9, errors = $10
		WHERE id = $1`,
		run.ID, run.FinishedAt, run.Status, run.Pages, run.ItemsSeen,
		run.Created, run.Updated, run.Unchanged, run.Rejected, run.Errors)
	return err
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
