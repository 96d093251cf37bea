package reconciler

import (
	"sort"

	"bmall_mirror/models"
)

// OrderCandidates sorts listings by check priority: never-checked listings
// first, and among those the cheapest per SKU before more expensive ones
// of the same SKU. Already-checked listings follow, oldest check first.
func OrderCandidates(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)

	// Rank each never-checked candidate by ascending price within its SKU.
	bySKU := make(map[int64][]int)
	for i, c := range out {
		if c.LastCheck == nil {
			bySKU[c.SKUID] = append(bySKU[c.SKUID], i)
		}
	}
	priceRank := make(map[int64]int, len(out))
	for _, idxs := range bySKU {
		sort.SliceStable(idxs, func(a, b int) bool {
			return out[idxs[a]].Price < out[idxs[b]].Price
		})
		for rank, i := range idxs {
			priceRank[out[i].ID] = rank
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		ca, cb := out[a], out[b]
		if (ca.LastCheck == nil) != (cb.LastCheck == nil) {
			return ca.LastCheck == nil
		}
		if ca.LastCheck == nil {
			return priceRank[ca.ID] < priceRank[cb.ID]
		}
		return ca.LastCheck.Before(*cb.LastCheck)
	})

	return out
}
