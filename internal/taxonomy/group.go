package taxonomy

import (
	"cmp"
	"math"
	"slices"
)

// LabelProb is a single classifier output
type LabelProb struct {
	Label string  `json:"label"`
	Prob  float64 `json:"probability"`
}

// GroupScore is an ambiguity group with its share of the probability mass.
// Display is empty when neither the group nor the singleton species has a
// localized name.
type GroupScore struct {
	Key       string      `json:"group"`
	Display   string      `json:"display_label,omitempty"`
	Aggregate float64     `json:"probability"`
	Members   []LabelProb `json:"members"`
}

// GroupTopK folds per-class probabilities into ambiguity groups and returns
// the k most probable. Species outside any group form singleton groups keyed
// by themselves. Aggregates and member probabilities are scaled so that all
// aggregates sum to 1 before truncation. Ties keep first-seen order. k <= 0
// returns every group.
func (t *Taxonomy) GroupTopK(probs []LabelProb, k int) []GroupScore {
	index := make(map[string]int)
	var groups []GroupScore
	total := 0.0

	for _, lp := range probs {
		key := t.Normalize(lp.Label)
		if key == "" {
			continue
		}
		p := lp.Prob
		if math.IsNaN(p) || p < 0 {
			p = 0
		}

		groupKey := t.groupOf[key]
		display := ""
		if groupKey == "" {
			groupKey = key
			display = t.display[key]
		} else {
			display = t.groups[groupKey].Display
		}

		i, seen := index[groupKey]
		if !seen {
			i = len(groups)
			index[groupKey] = i
			groups = append(groups, GroupScore{Key: groupKey, Display: display})
		}
		groups[i].Aggregate += p
		groups[i].Members = append(groups[i].Members, LabelProb{Label: key, Prob: p})
		total += p
	}

	if total == 0 {
		total = 1
	}
	for i := range groups {
		groups[i].Aggregate /= total
		for j := range groups[i].Members {
			groups[i].Members[j].Prob /= total
		}
		slices.SortStableFunc(groups[i].Members, func(a, b LabelProb) int {
			return cmp.Compare(b.Prob, a.Prob)
		})
	}

	slices.SortStableFunc(groups, func(a, b GroupScore) int {
		return cmp.Compare(b.Aggregate, a.Aggregate)
	})

	if k > 0 && len(groups) > k {
		groups = groups[:k]
	}
	return groups
}

// Top returns the most probable label of a flat prediction list
func Top(probs []LabelProb) (LabelProb, bool) {
	if len(probs) == 0 {
		return LabelProb{}, false
	}
	best := probs[0]
	for _, lp := range probs[1:] {
		if lp.Prob > best.Prob {
			best = lp
		}
	}
	return best, true
}
