package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"bmall_mirror/config"
	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/timeutil"
)

// DetailClient fetches the current upstream status of one listing.
type DetailClient interface {
	ItemDetail(ctx context.Context, id int64) (*market.ItemStatus, error)
}

// CandidateStore is the slice of the store the reconciler drives.
type CandidateStore interface {
	ActiveCandidates(ctx context.Context) ([]models.Candidate, error)
	UpdateListingStatus(ctx context.Context, id int64, status int, checkedAt time.Time) error
	TouchListingCheck(ctx context.Context, id int64, checkedAt time.Time) error
}

// AbuseDetector runs one abuse-detection pass.
type AbuseDetector interface {
	Run(ctx context.Context) error
}

// Reconciler keeps stored publish statuses in line with upstream. Each
// round it orders the active listings by check priority and walks them
// in batches, pausing between batches and backing off under sustained
// upstream failure.
type Reconciler struct {
	client   DetailClient
	store    CandidateStore
	detector AbuseDetector
	clock    timeutil.Clock
	cfg      config.ReconcilerConfig
}

func New(client DetailClient, store CandidateStore, detector AbuseDetector, clock timeutil.Clock, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		client:   client,
		store:    store,
		detector: detector,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run reconciles in rounds until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		if err := r.Round(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Reconciler: round aborted: %v", err)
		}

		r.clock.Sleep(ctx, r.cfg.RoundInterval)
		if ctx.Err() != nil {
			return
		}

		if r.detector != nil {
			if err := r.detector.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Reconciler: abuse pass failed: %v", err)
			}
		}
	}
}

// Round checks every active listing once, highest priority first.
func (r *Reconciler) Round(ctx context.Context) error {
	started := r.clock.Now()

	candidates, err := r.store.ActiveCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	ordered := OrderCandidates(candidates)

	bo := newBackoff(r.cfg.ErrorBackoff, r.cfg.MaxBackoff, r.cfg.BackoffFactor)
	var processed, changed, failed int

	for i, cand := range ordered {
		if i > 0 && i%r.cfg.BatchSize == 0 {
			r.clock.Sleep(ctx, r.cfg.BatchPause)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, err := r.client.ItemDetail(ctx, cand.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			log.Printf("Reconciler: check listing %d failed: %v", cand.ID, err)
			if pause, ok := bo.Failure(); ok {
				log.Printf("Reconciler: %d consecutive failures, pausing %s", failureThreshold, pause)
				r.clock.Sleep(ctx, pause)
			}
			continue
		}
		bo.Success()

		didChange, err := r.apply(ctx, cand.ID, status)
		if err != nil {
			return fmt.Errorf("record status for listing %d: %w", cand.ID, err)
		}
		processed++
		if didChange {
			changed++
		}
	}

	log.Printf("Reconciler: round done: %d checked, %d status changes, %d failed in %s",
		processed, changed, failed, r.clock.Now().Sub(started).Round(time.Second))
	return nil
}

// apply records one fetched status. A sale wins over the publish code;
// an unchanged active listing only gets its check time refreshed.
func (r *Reconciler) apply(ctx context.Context, id int64, status *market.ItemStatus) (bool, error) {
	now := r.clock.Now()
	switch {
	case status.SaleStatus == 2:
		if err := r.store.UpdateListingStatus(ctx, id, models.StatusSold, now); err != nil {
			return false, err
		}
		log.Printf("Reconciler: listing %d sold", id)
		return true, nil
	case status.PublishStatus != models.StatusActive:
		code := status.PublishStatus
		if code >= 0 {
			code = models.StatusWithdrawn
		}
		if err := r.store.UpdateListingStatus(ctx, id, code, now); err != nil {
			return false, err
		}
		log.Printf("Reconciler: listing %d no longer active (status %d)", id, code)
		return true, nil
	default:
		return false, r.store.TouchListingCheck(ctx, id, now)
	}
}
