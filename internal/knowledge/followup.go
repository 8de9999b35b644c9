package knowledge

// maxTargetedConditions caps how many overlapping conditions contribute a question.
const maxTargetedConditions = 2

// FollowUpSelector picks the next clarifying question.
type FollowUpSelector struct {
	scorer  *Scorer
	generic []string
}

// NewFollowUpSelector builds a selector over the catalog.
func NewFollowUpSelector(c *Catalog) *FollowUpSelector {
	return &FollowUpSelector{scorer: NewScorer(c), generic: c.GenericQuestions}
}

// Select returns exactly one question. It takes the first unasked question of
// up to two conditions overlapping the symptoms, pads with the generic
// question at askedCount mod len(generic) when fewer than two are available,
// and returns the first candidate.
func (f *FollowUpSelector) Select(symptoms, asked []string, askedCount int) string {
	candidates := f.Candidates(symptoms, asked, askedCount)
	return candidates[0]
}

// Candidates returns the ordered candidate list Select chooses from. It is
// never empty.
func (f *FollowUpSelector) Candidates(symptoms, asked []string, askedCount int) []string {
	used := make(map[string]bool, len(asked))
	for _, q := range asked {
		used[q] = true
	}

	var out []string
	targeted := 0
	for _, cond := range f.scorer.Overlapping(symptoms) {
		if targeted == maxTargetedConditions {
			break
		}
		targeted++
		for _, q := range cond.FollowUpQuestions {
			if !used[q] {
				out = append(out, q)
				break
			}
		}
	}
	if len(out) < maxTargetedConditions {
		idx := askedCount % len(f.generic)
		if idx < 0 {
			idx = 0
		}
		out = append(out, f.generic[idx])
	}
	return out
}
