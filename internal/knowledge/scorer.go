package knowledge

import "sort"

const (
	primaryWeight   = 0.7
	secondaryWeight = 0.3
)

// ScoredCondition pairs a condition with its match score in [0,1].
type ScoredCondition struct {
	Condition Condition
	Score     float64
	// Matched lists the condition's primary symptoms that were matched.
	Matched []string
}

// Level labels the score with the condition's confidence thresholds.
func (s ScoredCondition) Level() string {
	return s.Condition.Thresholds.Level(s.Score)
}

// Scorer ranks catalog conditions against a symptom set.
type Scorer struct {
	conditions []Condition
}

// NewScorer builds a scorer over the catalog's conditions.
func NewScorer(c *Catalog) *Scorer {
	return &Scorer{conditions: c.Conditions}
}

// Score computes 0.7 * primary ratio + 0.3 * secondary ratio. A catalog entry
// counts once when any symptom matches it by substring in either direction.
// Conditions with no primary symptoms score 0.
func Score(cond Condition, symptoms []string) float64 {
	if len(cond.PrimarySymptoms) == 0 {
		return 0
	}
	primary := countMatched(cond.PrimarySymptoms, symptoms)
	score := primaryWeight * float64(primary) / float64(len(cond.PrimarySymptoms))
	if len(cond.SecondarySymptoms) > 0 {
		secondary := countMatched(cond.SecondarySymptoms, symptoms)
		score += secondaryWeight * float64(secondary) / float64(len(cond.SecondarySymptoms))
	}
	return score
}

func countMatched(entries, symptoms []string) int {
	n := 0
	for _, e := range entries {
		if anyMatches(symptoms, e) {
			n++
		}
	}
	return n
}

// Best returns the highest-scoring condition with a score above zero. Ties go
// to the condition listed first in the catalog.
func (s *Scorer) Best(symptoms []string) (ScoredCondition, bool) {
	var best ScoredCondition
	found := false
	for _, cond := range s.conditions {
		score := Score(cond, symptoms)
		if score <= 0 {
			continue
		}
		if !found || score > best.Score {
			best = scored(cond, score, symptoms)
			found = true
		}
	}
	return best, found
}

// Rank returns every condition scoring above zero, best first. Equal scores
// keep catalog order.
func (s *Scorer) Rank(symptoms []string) []ScoredCondition {
	var out []ScoredCondition
	for _, cond := range s.conditions {
		if score := Score(cond, symptoms); score > 0 {
			out = append(out, scored(cond, score, symptoms))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scored(cond Condition, score float64, symptoms []string) ScoredCondition {
	var matched []string
	for _, p := range cond.PrimarySymptoms {
		if anyMatches(symptoms, p) {
			matched = append(matched, p)
		}
	}
	return ScoredCondition{Condition: cond, Score: score, Matched: matched}
}

// Overlapping returns the conditions whose primary symptoms overlap the
// symptom set, in catalog order.
func (s *Scorer) Overlapping(symptoms []string) []Condition {
	var out []Condition
	for _, cond := range s.conditions {
		for _, p := range cond.PrimarySymptoms {
			if anyMatches(symptoms, p) {
				out = append(out, cond)
				break
			}
		}
	}
	return out
}
