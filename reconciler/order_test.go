package reconciler

import (
	"testing"
	"time"

	"bmall_mirror/models"
)

func tp(t time.Time) *time.Time { return &t }

func TestOrderNeverCheckedFirst(t *testing.T) {
	old := time.Unix(1700000000, 0)
	in := []models.Candidate{
		{ID: 1, SKUID: 10, Price: 50, LastCheck: tp(old)},
		{ID: 2, SKUID: 10, Price: 80, LastCheck: nil},
		{ID: 3, SKUID: 10, Price: 30, LastCheck: tp(old.Add(time.Hour))},
	}

	got := OrderCandidates(in)
	if got[0].ID != 2 {
		t.Fatalf("never-checked listing must come first, got %d", got[0].ID)
	}
	if got[1].ID != 1 || got[2].ID != 3 {
		t.Fatalf("checked listings must follow oldest first, got %d then %d", got[1].ID, got[2].ID)
	}
}

func TestOrderCheapestPerSKUFirst(t *testing.T) {
	in := []models.Candidate{
		{ID: 1, SKUID: 10, Price: 120},
		{ID: 2, SKUID: 10, Price: 80},
		{ID: 3, SKUID: 20, Price: 45},
		{ID: 4, SKUID: 20, Price: 200},
	}

	got := OrderCandidates(in)

	// The cheapest of each SKU outranks all second-cheapest entries.
	pos := make(map[int64]int)
	for i, c := range got {
		pos[c.ID] = i
	}
	if pos[2] > pos[1] {
		t.Fatal("cheapest of SKU 10 must precede its pricier sibling")
	}
	if pos[3] > pos[4] {
		t.Fatal("cheapest of SKU 20 must precede its pricier sibling")
	}
	if pos[1] < pos[3] {
		t.Fatal("second-cheapest of SKU 10 must not precede cheapest of SKU 20")
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	in := []models.Candidate{
		{ID: 1, SKUID: 10, Price: 120},
		{ID: 2, SKUID: 10, Price: 80},
	}
	_ = OrderCandidates(in)
	if in[0].ID != 1 || in[1].ID != 2 {
		t.Fatal("input slice reordered")
	}
}

func TestOrderEmpty(t *testing.T) {
	if got := OrderCandidates(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
