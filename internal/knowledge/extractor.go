package knowledge

import (
	"sort"
	"strings"
)

// Extractor maps free text to normalized symptom tags.
type Extractor struct {
	keywords []SymptomKeyword
}

// NewExtractor builds an extractor over the catalog's keyword table.
func NewExtractor(c *Catalog) *Extractor {
	return &Extractor{keywords: c.SymptomKeywords}
}

// Extract returns every tag with at least one trigger phrase occurring in the
// lower-cased text. The result is sorted and free of duplicates. Empty text
// yields an empty set.
func (e *Extractor) Extract(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return []string{}
	}
	found := make(map[string]bool)
	for _, kw := range e.keywords {
		for _, phrase := range kw.Phrases {
			if strings.Contains(lower, phrase) {
				found[kw.Tag] = true
				break
			}
		}
	}
	return sortedKeys(found)
}

// MergeSymptoms returns the deduplicated, sorted union of existing and added.
func MergeSymptoms(existing, added []string) []string {
	set := make(map[string]bool, len(existing)+len(added))
	for _, s := range existing {
		set[s] = true
	}
	for _, s := range added {
		set[s] = true
	}
	return sortedKeys(set)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// symptomMatches reports whether a and b match by substring in either direction.
func symptomMatches(a, b string) bool {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// anyMatches reports whether any of symptoms matches entry.
func anyMatches(symptoms []string, entry string) bool {
	for _, s := range symptoms {
		if symptomMatches(s, entry) {
			return true
		}
	}
	return false
}
