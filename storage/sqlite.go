package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"bmall_mirror/models"
)

// SQLiteStore is the default single-file store. Both daemon loops share
// it; every method is one self-contained statement or transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS brands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		keywords TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS skus (
		sku_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		img TEXT,
		market_price REAL,
		type INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY,
		sku_id INTEGER NOT NULL,
		items_id INTEGER,
		brand_id INTEGER,
		name TEXT,
		seller_uid TEXT,
		seller_name TEXT,
		seller_avatar TEXT,
		seller_url TEXT,
		price REAL,
		show_price TEXT,
		show_market_price TEXT,
		inventory_count INTEGER,
		payment_time INTEGER,
		is_my_publish INTEGER DEFAULT 0,
		publish_status INTEGER DEFAULT 1,
		is_blacklisted INTEGER DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_check_time TIMESTAMP,
		FOREIGN KEY (sku_id) REFERENCES skus(sku_id),
		FOREIGN KEY (brand_id) REFERENCES brands(id)
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_uid TEXT NOT NULL UNIQUE,
		seller_name TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS crawl_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
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

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Brands
// =============================================================================

func (s *SQLiteStore) SeedBrands(ctx context.Context, brands []models.Brand) error {
	for _, b := range brands {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO brands (name, keywords) VALUES (?, ?)`,
			b.Name, b.Keywords)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ListBrands(ctx context.Context) ([]models.Brand, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteStore) UpsertSKU(ctx context.Context, sku *models.SKU) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skus (sku_id, name, img, market_price, type, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (sku_id) DO UPDATE SET
			name = excluded.name,
			img = excluded.img,
			market_price = excluded.market_price,
			type = excluded.type,
			updated_at = CURRENT_TIMESTAMP`,
		sku.SKUID, sku.Name, sku.Img, sku.MarketPrice, sku.Type)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `
	id, sku_id, items_id, brand_id, name,
	seller_uid, seller_name, seller_avatar, seller_url,
	price, show_price, show_market_price, inventory_count, payment_time,
	is_my_publish, publish_status, is_blacklisted, created_at, last_check_time`

func (s *SQLiteStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	var l models.Listing
	err := s.db.QueryRowContext(ctx,
		`SELECT`+listingColumns+` FROM listings WHERE id = ?`, id).Scan(
		&l.ID, &l.SKUID, &l.ItemsID, &l.BrandID, &l.Name,
		&l.SellerUID, &l.SellerName, &l.SellerAvatar, &l.SellerURL,
		&l.Price, &l.ShowPrice, &l.ShowMarketPrice, &l.InventoryCount, &l.PaymentTime,
		&l.IsMyPublish, &l.PublishStatus, &l.IsBlacklisted, &l.CreatedAt, &l.LastCheckTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) InsertListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SKUID, l.ItemsID, l.BrandID, l.Name,
		l.SellerUID, l.SellerName, l.SellerAvatar, l.SellerURL,
		l.Price, l.ShowPrice, l.ShowMarketPrice, l.InventoryCount, l.PaymentTime,
		l.IsMyPublish, l.PublishStatus, l.IsBlacklisted, l.CreatedAt, l.LastCheckTime)
	return mapSQLiteError(err)
}

// UpdateListing overwrites the fields the crawler owns. Status and check
// time belong to the reconciler and are left untouched.
func (s *SQLiteStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
			sku_id = ?, items_id = ?, brand_id = ?, name = ?,
			seller_uid = ?, seller_name = ?, seller_avatar = ?, seller_url = ?,
			price = ?, show_price = ?, show_market_price = ?,
			inventory_count = ?, payment_time = ?, is_my_publish = ?, is_blacklisted = ?
		WHERE id = ?`,
		l.SKUID, l.ItemsID, l.BrandID, l.Name,
		l.SellerUID, l.SellerName, l.SellerAvatar, l.SellerURL,
		l.Price, l.ShowPrice, l.ShowMarketPrice,
		l.InventoryCount, l.PaymentTime, l.IsMyPublish, l.IsBlacklisted,
		l.ID)
	return err
}

func (s *SQLiteStore) SetListingBlacklisted(ctx context.Context, id int64, flag bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET is_blacklisted = ? WHERE id = ?`, flag, id)
	return err
}

func (s *SQLiteStore) UpdateListingStatus(ctx context.Context, id int64, status int, checkedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET publish_status = ?, last_check_time = ? WHERE id = ?`,
		status, checkedAt, id)
	return err
}

func (s *SQLiteStore) TouchListingCheck(ctx context.Context, id int64, checkedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET last_check_time = ? WHERE id = ?`, checkedAt, id)
	return err
}

func (s *SQLiteStore) ActiveCandidates(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku_id, price, last_check_time
		FROM listings
		WHERE publish_status = ?`, models.StatusActive)
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

func (s *SQLiteStore) IsSellerBlacklisted(ctx context.Context, uid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM blacklist WHERE seller_uid = ?`, uid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklist (seller_uid, seller_name, reason) VALUES (?, ?, ?)`,
		e.SellerUID, e.SellerName, e.Reason)
	return mapSQLiteError(err)
}

func (s *SQLiteStore) MarkSellerListingsBlacklisted(ctx context.Context, uid string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET is_blacklisted = 1 WHERE seller_uid = ?`, uid)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) RecentSellerSKUCounts(ctx context.Context, since time.Time) ([]models.SellerSKUCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.seller_uid, l.seller_name, l.sku_id, s.name,
			COUNT(*), MIN(l.created_at), MAX(l.created_at)
		FROM listings l
		JOIN skus s ON l.sku_id = s.sku_id
		WHERE l.created_at >= ?
		GROUP BY l.seller_uid, l.seller_name, l.sku_id`, since)
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

func (s *SQLiteStore) CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID.String(), run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs SET
			finished_at = ?, status = ?, pages = ?, items_seen = ?,
			created = ?, updated = ?, unchanged = ?, rejected = ?, errors = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Pages, run.ItemsSeen,
		run.Created, run.Updated, run.Unchanged, run.Rejected, run.Errors,
		run.ID.String())
	return err
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrDuplicate
	}
	return err
}
