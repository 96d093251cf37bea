package services

import (
	"context"
	"strings"

	"bmall_mirror/models"
)

// BrandStore lists brands in a stable order.
type BrandStore interface {
	ListBrands(ctx context.Context) ([]models.Brand, error)
}

// BrandMatcher maps a listing's display name to a brand via keyword
// containment. First brand whose keyword set matches wins; no match is a
// valid, permanent outcome.
type BrandMatcher struct {
	store BrandStore
}

func NewBrandMatcher(store BrandStore) *BrandMatcher {
	return &BrandMatcher{store: store}
}

// Match returns the matching brand ID, or nil when no brand matches.
func (m *BrandMatcher) Match(ctx context.Context, name string) (*int64, error) {
	brands, err := m.store.ListBrands(ctx)
	if err != nil {
		return nil, err
	}
	return MatchBrand(name, brands), nil
}

// MatchBrand is the pure matching function: a case-insensitive substring
// scan over the brands in the given order, first match wins.
func MatchBrand(name string, brands []models.Brand) *int64 {
	lower := strings.ToLower(name)
	for i := range brands {
		for _, kw := range brands[i].KeywordList() {
			if strings.Contains(lower, strings.ToLower(kw)) {
				id := brands[i].ID
				return &id
			}
		}
	}
	return nil
}
