package knowledge

import (
	"log/slog"
	"strings"

	"github.com/medtriage/MedTriage/internal/models"
)

// EmergencyMatcher evaluates the ordered emergency trigger list.
type EmergencyMatcher struct {
	triggers []EmergencyTrigger
}

// NewEmergencyMatcher builds a matcher over the catalog's triggers.
func NewEmergencyMatcher(c *Catalog) *EmergencyMatcher {
	return &EmergencyMatcher{triggers: c.EmergencyTriggers}
}

// Check searches the symptom tags plus the raw text for an emergency trigger.
// Triggers are tried in catalog order and the first one that passes wins.
// Callers pass every symptom accumulated so far, not just the newest turn's.
func (m *EmergencyMatcher) Check(symptoms []string, rawText string) (models.EmergencyMatch, bool) {
	if len(symptoms) == 0 && strings.TrimSpace(rawText) == "" {
		return models.EmergencyMatch{}, false
	}
	search := strings.ToLower(strings.Join(symptoms, " ") + " " + rawText)

	for _, tr := range m.triggers {
		if !triggerPasses(tr, search) {
			continue
		}
		match := models.EmergencyMatch{
			EmergencyType:   tr.Name,
			Action:          tr.Action,
			Confidence:      tr.Confidence,
			MatchedSymptoms: matchedRequired(symptoms, tr.RequiredSymptoms),
			Urgency:         models.UrgencyEmergency,
		}
		slog.Debug("EmergencyMatcher.Check: trigger matched", "trigger", tr.Name, "confidence", tr.Confidence, "matched", match.MatchedSymptoms)
		return match, true
	}
	return models.EmergencyMatch{}, false
}

func triggerPasses(tr EmergencyTrigger, search string) bool {
	if len(tr.RequiredSymptoms) > 0 {
		found := false
		for _, req := range tr.RequiredSymptoms {
			if strings.Contains(search, req) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(tr.AdditionalIndicators) > 0 {
		count := 0
		for _, ind := range tr.AdditionalIndicators {
			if strings.Contains(search, ind) {
				count++
			}
		}
		if count < tr.MinIndicators {
			return false
		}
	}
	return true
}

// matchedRequired returns the symptoms that contain one of the required phrases.
func matchedRequired(symptoms, required []string) []string {
	out := []string{}
	for _, s := range symptoms {
		ls := strings.ToLower(s)
		for _, req := range required {
			if strings.Contains(ls, req) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// HasFallbackEmergencyKeyword runs the narrow keyword re-check used when no
// other analysis is available.
func (c *Catalog) HasFallbackEmergencyKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.FallbackEmergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
