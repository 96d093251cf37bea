package services

import (
	"context"
	"errors"
	"fmt"

	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/storage"
	"bmall_mirror/timeutil"
)

// Only plain product items are mirrored; other type codes (blind boxes,
// bundles) are skipped.
const supportedItemType = 1

// UpsertResult reports what a single upsert did.
type UpsertResult int

const (
	UpsertRejected UpsertResult = iota
	UpsertCreated
	UpsertUpdated
	UpsertUnchanged
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertRejected:
		return "rejected"
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	case UpsertUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// UpserterStore is the slice of the store the upserter needs.
type UpserterStore interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	UpsertSKU(ctx context.Context, sku *models.SKU) error
	InsertListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	SetListingBlacklisted(ctx context.Context, id int64, flag bool) error
	IsSellerBlacklisted(ctx context.Context, uid string) (bool, error)
}

// Upserter decides create/update/no-op for freshly fetched listing
// records. It never touches publish_status or last_check_time; those
// belong to the reconciler.
type Upserter struct {
	store UpserterStore
	clock timeutil.Clock
}

func NewUpserter(store UpserterStore, clock timeutil.Clock) *Upserter {
	return &Upserter{store: store, clock: clock}
}

// Upsert ingests one raw item. The SKU row is always written before the
// listing row so a listing can never reference a missing SKU.
func (u *Upserter) Upsert(ctx context.Context, item *market.Item, brandID *int64) (UpsertResult, error) {
	if item.Type != supportedItemType || len(item.Variants) != 1 {
		return UpsertRejected, nil
	}
	variant := item.Variants[0]

	sku := &models.SKU{
		SKUID:       variant.SKUID,
		Name:        variant.Name,
		Img:         variant.Img,
		MarketPrice: variant.MarketPriceYuan(),
		Type:        variant.Type,
	}
	if err := u.store.UpsertSKU(ctx, sku); err != nil {
		return UpsertRejected, fmt.Errorf("upsert sku %d: %w", sku.SKUID, err)
	}

	blacklisted, err := u.store.IsSellerBlacklisted(ctx, item.SellerUID)
	if err != nil {
		return UpsertRejected, fmt.Errorf("check blacklist for %s: %w", item.SellerUID, err)
	}

	existing, err := u.store.GetListing(ctx, item.ID)
	if err != nil {
		return UpsertRejected, fmt.Errorf("get listing %d: %w", item.ID, err)
	}

	incoming := &models.Listing{
		ID:              item.ID,
		SKUID:           variant.SKUID,
		ItemsID:         variant.ItemsID,
		BrandID:         brandID,
		Name:            item.Name,
		SellerUID:       item.SellerUID,
		SellerName:      item.SellerName,
		SellerAvatar:    item.SellerAvatar,
		SellerURL:       item.SellerURL,
		Price:           item.PriceYuan(),
		ShowPrice:       item.ShowPrice,
		ShowMarketPrice: item.ShowMarketPrice,
		InventoryCount:  item.TotalItemsCount,
		PaymentTime:     item.PaymentTime,
		IsMyPublish:     item.IsMyPublish,
		IsBlacklisted:   blacklisted,
	}

	if existing == nil {
		incoming.PublishStatus = models.StatusActive
		incoming.CreatedAt = u.clock.Now()
		err := u.store.InsertListing(ctx, incoming)
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with an earlier call for the same identifier.
			return UpsertUnchanged, nil
		}
		if err != nil {
			return UpsertRejected, fmt.Errorf("insert listing %d: %w", item.ID, err)
		}
		return UpsertCreated, nil
	}

	if !tracksDiffer(existing, incoming) {
		// Keep the blacklist flag mirroring current state even when
		// nothing else moved.
		if existing.IsBlacklisted != blacklisted {
			if err := u.store.SetListingBlacklisted(ctx, existing.ID, blacklisted); err != nil {
				return UpsertUnchanged, fmt.Errorf("mirror blacklist flag for %d: %w", existing.ID, err)
			}
		}
		return UpsertUnchanged, nil
	}

	if err := u.store.UpdateListing(ctx, incoming); err != nil {
		return UpsertRejected, fmt.Errorf("update listing %d: %w", item.ID, err)
	}
	return UpsertUpdated, nil
}

// tracksDiffer compares the fields whose change justifies a rewrite.
func tracksDiffer(stored, incoming *models.Listing) bool {
	return stored.Price != incoming.Price ||
		stored.ShowPrice != incoming.ShowPrice ||
		stored.ShowMarketPrice != incoming.ShowMarketPrice ||
		stored.SellerUID != incoming.SellerUID ||
		stored.SellerName != incoming.SellerName ||
		stored.SellerAvatar != incoming.SellerAvatar ||
		stored.SellerURL != incoming.SellerURL ||
		stored.InventoryCount != incoming.InventoryCount ||
		stored.PaymentTime != incoming.PaymentTime ||
		stored.IsMyPublish != incoming.IsMyPublish
}
