package services

import (
	"context"
	"testing"
	"time"

	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                           { return c.now }
func (c *fakeClock) Sleep(_ context.Context, _ time.Duration) {}

// fakeUpserterStore is an in-memory UpserterStore.
type fakeUpserterStore struct {
	skus        map[int64]models.SKU
	listings    map[int64]*models.Listing
	blacklisted map[string]bool

	insertErr   error
	updateCalls int
}

func newFakeUpserterStore() *fakeUpserterStore {
	return &fakeUpserterStore{
		skus:        make(map[int64]models.SKU),
		listings:    make(map[int64]*models.Listing),
		blacklisted: make(map[string]bool),
	}
}

func (f *fakeUpserterStore) GetListing(_ context.Context, id int64) (*models.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeUpserterStore) UpsertSKU(_ context.Context, sku *models.SKU) error {
	f.skus[sku.SKUID] = *sku
	return nil
}

func (f *fakeUpserterStore) InsertListing(_ context.Context, l *models.Listing) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.listings[l.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := *l
	f.listings[l.ID] = &cp
	return nil
}

func (f *fakeUpserterStore) UpdateListing(_ context.Context, l *models.Listing) error {
	f.updateCalls++
	stored, ok := f.listings[l.ID]
	if !ok {
		return nil
	}
	// Crawler-owned fields only; status and check time stay put.
	stored.Price = l.Price
	stored.ShowPrice = l.ShowPrice
	stored.ShowMarketPrice = l.ShowMarketPrice
	stored.SellerUID = l.SellerUID
	stored.SellerName = l.SellerName
	stored.SellerAvatar = l.SellerAvatar
	stored.SellerURL = l.SellerURL
	stored.InventoryCount = l.InventoryCount
	stored.PaymentTime = l.PaymentTime
	stored.IsMyPublish = l.IsMyPublish
	stored.BrandID = l.BrandID
	stored.IsBlacklisted = l.IsBlacklisted
	return nil
}

func (f *fakeUpserterStore) SetListingBlacklisted(_ context.Context, id int64, flag bool) error {
	if l, ok := f.listings[id]; ok {
		l.IsBlacklisted = flag
	}
	return nil
}

func (f *fakeUpserterStore) IsSellerBlacklisted(_ context.Context, uid string) (bool, error) {
	return f.blacklisted[uid], nil
}

func sampleItem() *market.Item {
	return &market.Item{
		ID:              10001,
		Type:            1,
		Name:            "TAITO 初音ミク フィギュア",
		TotalItemsCount: 1,
		Price:           "12500",
		ShowPrice:       "125",
		ShowMarketPrice: "180",
		SellerUID:       "seller-1",
		SellerName:      "figure shop",
		SellerAvatar:    "https://example.test/a.png",
		SellerURL:       "https://example.test/u/1",
		PaymentTime:     1700000000,
		Variants: []market.Detail{{
			SKUID:       501,
			ItemsID:     9001,
			Name:        "初音ミク フィギュア",
			Img:         "https://example.test/i.png",
			MarketPrice: "18000",
			Type:        1,
		}},
	}
}

func TestUpsertCreatesThenUnchanged(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	res, err := u.Upsert(context.Background(), sampleItem(), nil)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if res != UpsertCreated {
		t.Fatalf("expected created, got %s", res)
	}

	stored := store.listings[10001]
	if stored == nil {
		t.Fatal("listing not stored")
	}
	if stored.PublishStatus != models.StatusActive {
		t.Fatalf("new listing status = %d, want %d", stored.PublishStatus, models.StatusActive)
	}
	if stored.Price != 125.0 {
		t.Fatalf("price = %v, want 125", stored.Price)
	}
	if _, ok := store.skus[501]; !ok {
		t.Fatal("SKU row not written")
	}

	res, err = u.Upsert(context.Background(), sampleItem(), nil)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res != UpsertUnchanged {
		t.Fatalf("expected unchanged, got %s", res)
	}
	if store.updateCalls != 0 {
		t.Fatalf("unchanged item must not hit UpdateListing, got %d calls", store.updateCalls)
	}
}

func TestUpsertPriceChangeUpdates(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	if _, err := u.Upsert(context.Background(), sampleItem(), nil); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
	before := *store.listings[10001]

	item := sampleItem()
	item.Price = "9900"
	item.ShowPrice = "99"
	res, err := u.Upsert(context.Background(), item, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res != UpsertUpdated {
		t.Fatalf("expected updated, got %s", res)
	}

	after := store.listings[10001]
	if after.Price != 99.0 {
		t.Fatalf("price = %v, want 99", after.Price)
	}
	if after.PublishStatus != before.PublishStatus {
		t.Fatal("update must not touch publish status")
	}
	if after.SellerUID != before.SellerUID || after.Name != before.Name {
		t.Fatal("unrelated fields changed by price update")
	}
}

func TestUpsertRejectsMultiVariant(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	item := sampleItem()
	item.Variants = append(item.Variants, item.Variants[0])
	res, err := u.Upsert(context.Background(), item, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res != UpsertRejected {
		t.Fatalf("expected rejected, got %s", res)
	}
	if len(store.listings) != 0 {
		t.Fatal("rejected item must not be stored")
	}
}

func TestUpsertRejectsUnsupportedType(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	item := sampleItem()
	item.Type = 2
	res, err := u.Upsert(context.Background(), item, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res != UpsertRejected {
		t.Fatalf("expected rejected, got %s", res)
	}
}

func TestUpsertDuplicateRaceIsUnchanged(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	// GetListing sees nothing but the insert hits the unique constraint,
	// as happens when the same id appears twice in one page response.
	store.insertErr = storage.ErrDuplicate
	res, err := u.Upsert(context.Background(), sampleItem(), nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res != UpsertUnchanged {
		t.Fatalf("expected unchanged on duplicate insert, got %s", res)
	}
}

func TestUpsertMirrorsBlacklistFlag(t *testing.T) {
	store := newFakeUpserterStore()
	u := NewUpserter(store, &fakeClock{now: time.Unix(1700000000, 0)})

	if _, err := u.Upsert(context.Background(), sampleItem(), nil); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	store.blacklisted["seller-1"] = true
	res, err := u.Upsert(context.Background(), sampleItem(), nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res != UpsertUnchanged {
		t.Fatalf("expected unchanged, got %s", res)
	}
	if !store.listings[10001].IsBlacklisted {
		t.Fatal("blacklist flag not mirrored onto unchanged listing")
	}
}
