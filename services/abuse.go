package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bmall_mirror/config"
	"bmall_mirror/models"
	"bmall_mirror/storage"
	"bmall_mirror/timeutil"
)

// AbuseStore is the slice of the store the detector needs.
type AbuseStore interface {
	RecentSellerSKUCounts(ctx context.Context, since time.Time) ([]models.SellerSKUCount, error)
	IsSellerBlacklisted(ctx context.Context, uid string) (bool, error)
	InsertBlacklistEntry(ctx context.Context, e *models.BlacklistEntry) error
	MarkSellerListingsBlacklisted(ctx context.Context, uid string) (int64, error)
}

// AbuseDetector flags sellers whose listing velocity inside the trailing
// window crosses a threshold, and propagates the flag across their
// inventory. It is idempotent: re-running on an already-blacklisted
// seller does nothing.
type AbuseDetector struct {
	store AbuseStore
	clock timeutil.Clock
	cfg   config.AbuseConfig
}

func NewAbuseDetector(store AbuseStore, clock timeutil.Clock, cfg config.AbuseConfig) *AbuseDetector {
	return &AbuseDetector{store: store, clock: clock, cfg: cfg}
}

type flaggedSeller struct {
	uid    string
	name   string
	reason string
}

// Run executes one detection pass.
func (d *AbuseDetector) Run(ctx context.Context) error {
	since := d.clock.Now().Add(-d.cfg.Window)

	counts, err := d.store.RecentSellerSKUCounts(ctx, since)
	if err != nil {
		return fmt.Errorf("recent seller counts: %w", err)
	}

	flagged := d.evaluate(counts)
	if len(flagged) == 0 {
		return nil
	}

	for _, f := range flagged {
		already, err := d.store.IsSellerBlacklisted(ctx, f.uid)
		if err != nil {
			return fmt.Errorf("check blacklist for %s: %w", f.uid, err)
		}
		if already {
			continue
		}

		entry := &models.BlacklistEntry{
			SellerUID:  f.uid,
			SellerName: f.name,
			Reason:     f.reason,
		}
		err = d.store.InsertBlacklistEntry(ctx, entry)
		if errors.Is(err, storage.ErrDuplicate) {
			// A concurrent pass inserted it first.
			continue
		}
		if err != nil {
			return fmt.Errorf("insert blacklist entry for %s: %w", f.uid, err)
		}

		marked, err := d.store.MarkSellerListingsBlacklisted(ctx, f.uid)
		if err != nil {
			return fmt.Errorf("mark listings for %s: %w", f.uid, err)
		}
		log.Printf("Abuse: blacklisted seller %s (%s), %d listings flagged: %s", f.name, f.uid, marked, f.reason)
	}

	return nil
}

// evaluate applies the per-SKU velocity signal and the multi-SKU spray
// signal, unioned, in stable input order.
func (d *AbuseDetector) evaluate(counts []models.SellerSKUCount) []flaggedSeller {
	var flagged []flaggedSeller
	seen := make(map[string]bool)

	// First-order: too many listings of one SKU by one seller.
	for _, c := range counts {
		if c.Count < d.cfg.Threshold || seen[c.SellerUID] {
			continue
		}
		seen[c.SellerUID] = true
		flagged = append(flagged, flaggedSeller{
			uid:  c.SellerUID,
			name: c.SellerName,
			reason: fmt.Sprintf("auto blacklist: %d listings of %q within %s",
				c.Count, c.SKUName, d.cfg.Window),
		})
	}

	// Second-order spray: many distinct SKUs at a high combined rate.
	type sprayStat struct {
		name     string
		distinct int
		total    int
	}
	stats := make(map[string]*sprayStat)
	var order []string
	for _, c := range counts {
		st, ok := stats[c.SellerUID]
		if !ok {
			st = &sprayStat{name: c.SellerName}
			stats[c.SellerUID] = st
			order = append(order, c.SellerUID)
		}
		st.distinct++
		st.total += c.Count
	}
	for _, uid := range order {
		st := stats[uid]
		if seen[uid] || st.distinct < d.cfg.SprayMinSKU || st.total < d.cfg.SprayPerSKU*st.distinct {
			continue
		}
		seen[uid] = true
		flagged = append(flagged, flaggedSeller{
			uid:  uid,
			name: st.name,
			reason: fmt.Sprintf("auto blacklist: %d listings across %d SKUs within %s",
				st.total, st.distinct, d.cfg.Window),
		})
	}

	return flagged
}
