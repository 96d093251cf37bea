package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bmall_mirror/config"
	"bmall_mirror/market"
	"bmall_mirror/models"
	"bmall_mirror/services"
)

type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
}

type fetch struct {
	page *market.SearchPage
	err  error
}

type fakeSearchClient struct {
	fetches []fetch
	cursors []string
}

func (f *fakeSearchClient) SearchPage(_ context.Context, cursor string) (*market.SearchPage, error) {
	f.cursors = append(f.cursors, cursor)
	if len(f.fetches) == 0 {
		return &market.SearchPage{}, nil
	}
	next := f.fetches[0]
	f.fetches = f.fetches[1:]
	return next.page, next.err
}

type fakeItemUpserter struct {
	results map[int64]services.UpsertResult
	err     error
	seen    []int64
}

func (f *fakeItemUpserter) Upsert(_ context.Context, item *market.Item, _ *int64) (services.UpsertResult, error) {
	f.seen = append(f.seen, item.ID)
	if f.err != nil {
		return services.UpsertRejected, f.err
	}
	if res, ok := f.results[item.ID]; ok {
		return res, nil
	}
	return services.UpsertCreated, nil
}

type fakeBrandMatcher struct{}

func (fakeBrandMatcher) Match(_ context.Context, _ string) (*int64, error) { return nil, nil }

type fakeRunStore struct {
	created []models.CrawlRun
	updated []models.CrawlRun
}

func (f *fakeRunStore) CreateCrawlRun(_ context.Context, run *models.CrawlRun) error {
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeRunStore) UpdateCrawlRun(_ context.Context, run *models.CrawlRun) error {
	f.updated = append(f.updated, *run)
	return nil
}

func crawlCfg() config.CrawlerConfig {
	return config.CrawlerConfig{
		MinDelay:       time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		ErrorBackoff:   30 * time.Second,
		SweepInterval:  5 * time.Minute,
		MaxPages:       100,
		StalePageLimit: 5,
	}
}

func page(cursor string, ids ...int64) *market.SearchPage {
	p := &market.SearchPage{NextCursor: cursor}
	for _, id := range ids {
		p.Items = append(p.Items, market.Item{ID: id, Type: 1, Name: fmt.Sprintf("item %d", id)})
	}
	return p
}

func newTestCrawler(client *fakeSearchClient, up *fakeItemUpserter) (*Crawler, *fakeRunStore, *fakeClock) {
	runs := &fakeRunStore{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(client, up, fakeBrandMatcher{}, nil, runs, clock, crawlCfg())
	return c, runs, clock
}

func TestSweepStopsAtCursorExhaustion(t *testing.T) {
	client := &fakeSearchClient{fetches: []fetch{
		{page: page("c1", 1, 2)},
		{page: page("", 3)},
	}}
	up := &fakeItemUpserter{}
	c, runs, _ := newTestCrawler(client, up)

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := client.cursors; len(got) != 2 || got[0] != "" || got[1] != "c1" {
		t.Fatalf("cursor sequence = %v", got)
	}
	if len(up.seen) != 3 {
		t.Fatalf("upserted %d items, want 3", len(up.seen))
	}

	run := runs.updated[len(runs.updated)-1]
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.Pages != 2 || run.ItemsSeen != 3 || run.Created != 3 {
		t.Fatalf("run accounting = %d pages, %d seen, %d created", run.Pages, run.ItemsSeen, run.Created)
	}
}

func TestSweepStopsAfterStalePages(t *testing.T) {
	unchanged := map[int64]services.UpsertResult{}
	var fetches []fetch
	for i := 0; i < 20; i++ {
		id := int64(100 + i)
		unchanged[id] = services.UpsertUnchanged
		fetches = append(fetches, fetch{page: page(fmt.Sprintf("c%d", i), id)})
	}
	client := &fakeSearchClient{fetches: fetches}
	c, runs, _ := newTestCrawler(client, &fakeItemUpserter{results: unchanged})

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	run := runs.updated[len(runs.updated)-1]
	if run.Pages != 5 {
		t.Fatalf("fetched %d pages, want 5 before giving up", run.Pages)
	}
}

func TestSweepFreshPageResetsStaleCount(t *testing.T) {
	results := map[int64]services.UpsertResult{}
	var fetches []fetch
	for i := 0; i < 10; i++ {
		id := int64(100 + i)
		// Every fifth page carries a change and resets the counter.
		if i%5 == 4 {
			results[id] = services.UpsertUpdated
		} else {
			results[id] = services.UpsertUnchanged
		}
		cursor := fmt.Sprintf("c%d", i)
		if i == 9 {
			cursor = ""
		}
		fetches = append(fetches, fetch{page: page(cursor, id)})
	}
	client := &fakeSearchClient{fetches: fetches}
	c, runs, _ := newTestCrawler(client, &fakeItemUpserter{results: results})

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	run := runs.updated[len(runs.updated)-1]
	if run.Pages != 10 {
		t.Fatalf("fetched %d pages, want all 10", run.Pages)
	}
}

func TestSweepRetriesSameCursorAfterFetchError(t *testing.T) {
	client := &fakeSearchClient{fetches: []fetch{
		{page: page("c1", 1)},
		{err: errors.New("upstream 504")},
		{page: page("", 2)},
	}}
	c, runs, clock := newTestCrawler(client, &fakeItemUpserter{})

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := client.cursors; len(got) != 3 || got[1] != "c1" || got[2] != "c1" {
		t.Fatalf("cursor sequence = %v, want retry of c1", got)
	}
	if clock.slept != 30*time.Second {
		t.Fatalf("slept %s, want the 30s error backoff", clock.slept)
	}
	run := runs.updated[len(runs.updated)-1]
	if run.Errors != 1 {
		t.Fatalf("run errors = %d, want 1", run.Errors)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %s, fetch errors should not fail the sweep", run.Status)
	}
}

func TestSweepAbortsOnStoreError(t *testing.T) {
	client := &fakeSearchClient{fetches: []fetch{
		{page: page("c1", 1, 2)},
	}}
	up := &fakeItemUpserter{err: errors.New("disk full")}
	c, runs, _ := newTestCrawler(client, up)

	if err := c.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep to fail on store error")
	}
	if len(up.seen) != 1 {
		t.Fatalf("upsert attempts = %d, want 1 before aborting", len(up.seen))
	}
	run := runs.updated[len(runs.updated)-1]
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
}

func TestSweepCountsRejectedItems(t *testing.T) {
	client := &fakeSearchClient{fetches: []fetch{
		{page: page("", 1, 2, 3)},
	}}
	up := &fakeItemUpserter{results: map[int64]services.UpsertResult{
		2: services.UpsertRejected,
		3: services.UpsertUnchanged,
	}}
	c, runs, _ := newTestCrawler(client, up)

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	run := runs.updated[len(runs.updated)-1]
	if run.Created != 1 || run.Rejected != 1 || run.Unchanged != 1 {
		t.Fatalf("accounting = created %d, rejected %d, unchanged %d", run.Created, run.Rejected, run.Unchanged)
	}
}
