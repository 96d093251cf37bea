package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Publish status codes as reported by the upstream detail endpoint.
// A listing never moves back to active once a non-active status is stored.
const (
	StatusActive    = 1
	StatusWithdrawn = -1
	StatusSold      = -2
)

// Brand is a maker/manufacturer with a pipe-delimited keyword set used
// for name matching. Rows come from seed data and are never mutated here.
type Brand struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Keywords  string    `json:"keywords" db:"keywords"` // "TAITO|タイトー|太东"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// KeywordList splits the pipe-delimited keyword set, dropping empties.
func (b *Brand) KeywordList() []string {
	var out []string
	for _, kw := range strings.Split(b.Keywords, "|") {
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// SKU is a product variant definition shared by every listing offering it.
// Always overwritten with the latest fetched values (last-writer-wins).
type SKU struct {
	SKUID       int64     `json:"sku_id" db:"sku_id"`
	Name        string    `json:"name" db:"name"`
	Img         string    `json:"img" db:"img"`
	MarketPrice float64   `json:"market_price" db:"market_price"`
	Type        int       `json:"type" db:"type"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Listing is one seller's offer of a SKU with its own price and status
// lifecycle. ID is upstream-assigned and stable.
type Listing struct {
	ID              int64      `json:"id" db:"id"`
	SKUID           int64      `json:"sku_id" db:"sku_id"`
	ItemsID         int64      `json:"items_id" db:"items_id"`
	BrandID         *int64     `json:"brand_id" db:"brand_id"` // nil = unmatched
	Name            string     `json:"name" db:"name"`
	SellerUID       string     `json:"seller_uid" db:"seller_uid"`
	SellerName      string     `json:"seller_name" db:"seller_name"`
	SellerAvatar    string     `json:"seller_avatar" db:"seller_avatar"`
	SellerURL       string     `json:"seller_url" db:"seller_url"`
	Price           float64    `json:"price" db:"price"`
	ShowPrice       string     `json:"show_price" db:"show_price"`
	ShowMarketPrice string     `json:"show_market_price" db:"show_market_price"`
	InventoryCount  int        `json:"inventory_count" db:"inventory_count"`
	PaymentTime     int64      `json:"payment_time" db:"payment_time"`
	IsMyPublish     bool       `json:"is_my_publish" db:"is_my_publish"`
	PublishStatus   int        `json:"publish_status" db:"publish_status"`
	IsBlacklisted   bool       `json:"is_blacklisted" db:"is_blacklisted"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastCheckTime   *time.Time `json:"last_check_time" db:"last_check_time"` // nil = never reconciled
}

// BlacklistEntry records a seller flagged by the abuse detector.
// Created once per seller; removal is a manual admin action.
type BlacklistEntry struct {
	ID         int64     `json:"id" db:"id"`
	SellerUID  string    `json:"seller_uid" db:"seller_uid"`
	SellerName string    `json:"seller_name" db:"seller_name"`
	Reason     string    `json:"reason" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Candidate is the slim listing projection the reconciler orders and checks.
type Candidate struct {
	ID        int64      `json:"id" db:"id"`
	SKUID     int64      `json:"sku_id" db:"sku_id"`
	Price     float64    `json:"price" db:"price"`
	LastCheck *time.Time `json:"last_check_time" db:"last_check_time"`
}

// SellerSKUCount is one (seller, SKU) aggregation row from the trailing
// abuse-detection window.
type SellerSKUCount struct {
	SellerUID    string    `json:"seller_uid" db:"seller_uid"`
	SellerName   string    `json:"seller_name" db:"seller_name"`
	SKUID        int64     `json:"sku_id" db:"sku_id"`
	SKUName      string    `json:"sku_name" db:"sku_name"`
	Count        int       `json:"count" db:"count"`
	FirstListing time.Time `json:"first_listing" db:"first_listing"`
	LastListing  time.Time `json:"last_listing" db:"last_listing"`
}

// CrawlRun is the accounting record for one discovery sweep.
type CrawlRun struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     string     `json:"status" db:"status"` // running, completed, failed
	Pages      int        `json:"pages" db:"pages"`
	ItemsSeen  int        `json:"items_seen" db:"items_seen"`
	Created    int        `json:"created" db:"created"`
	Updated    int        `json:"updated" db:"updated"`
	Unchanged  int        `json:"unchanged" db:"unchanged"`
	Rejected   int        `json:"rejected" db:"rejected"`
	Errors     int        `json:"errors" db:"errors"`
}

// Crawl run status
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
