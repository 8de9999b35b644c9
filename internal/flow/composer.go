package flow

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/medtriage/MedTriage/internal/models"
)

// DefaultEmergencyNumber is dialed for emergencies unless configured otherwise.
const DefaultEmergencyNumber = "911"

// lowConfidence is the level below which a caution sentence is added.
const lowConfidence = 0.6

// maxReasoningItems caps how much reasoning is read back to the caller.
const maxReasoningItems = 2

// Composer turns analysis results and emergency matches into caller-facing text.
type Composer struct {
	emergencyNumber string
}

// NewComposer creates a composer that tells callers to dial emergencyNumber.
func NewComposer(emergencyNumber string) *Composer {
	if strings.TrimSpace(emergencyNumber) == "" {
		emergencyNumber = DefaultEmergencyNumber
	}
	return &Composer{emergencyNumber: emergencyNumber}
}

// EmergencyNumber returns the configured emergency number.
func (c *Composer) EmergencyNumber() string {
	return c.emergencyNumber
}

// Disclaimer is appended to every recommendation.
func (c *Composer) Disclaimer() string {
	return "IMPORTANT: This is not a medical diagnosis. This triage assessment is meant to help guide your next steps. " +
		"Please consult with healthcare professionals for proper medical care, and call " + c.emergencyNumber +
		" if your condition is life-threatening."
}

func (c *Composer) hangUpInstruction() string {
	return "If you are experiencing a life-threatening emergency, hang up and call " + c.emergencyNumber + " now."
}

// Compose builds the recommendation message for an analysis result: an
// opening by urgency tier, up to two reasoning items, a caution sentence when
// confidence is low, and the disclaimer.
func (c *Composer) Compose(res models.AnalysisResult) string {
	rec := sentence(res.Recommendation)
	if rec == "" {
		rec = "Please consult a healthcare provider."
	}

	var parts []string
	switch res.Urgency {
	case models.UrgencyEmergency:
		parts = append(parts, "URGENT: "+rec, c.hangUpInstruction())
	case models.UrgencyUrgent:
		parts = append(parts, "This appears to require prompt attention. "+rec)
	default:
		parts = append(parts, "Based on your symptoms, "+lowerFirst(rec))
	}

	if reasons := reasoningProse(res.Reasoning); reasons != "" {
		parts = append(parts, "Here's why: "+reasons)
	}
	if res.Confidence < lowConfidence {
		parts = append(parts, "Please note: I recommend seeking professional medical advice for a thorough evaluation.")
	}
	parts = append(parts, c.Disclaimer())
	return strings.Join(parts, " ")
}

// ComposeEmergency builds the message for a matched emergency trigger.
func (c *Composer) ComposeEmergency(m models.EmergencyMatch) string {
	parts := []string{"Medical emergency detected."}
	if action := sentence(m.Action); action != "" {
		parts = append(parts, action)
	}
	parts = append(parts,
		"This appears to be a serious medical emergency. Please seek immediate medical attention.",
		c.hangUpInstruction(),
		c.Disclaimer(),
	)
	return strings.Join(parts, " ")
}

func reasoningProse(reasoning []string) string {
	var items []string
	for _, r := range reasoning {
		if s := sentence(r); s != "" {
			items = append(items, s)
		}
		if len(items) == maxReasoningItems {
			break
		}
	}
	return strings.Join(items, " ")
}

// sentence trims s and ensures it ends with terminal punctuation.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	// Keep acronyms such as "ER" intact.
	if next, _ := utf8.DecodeRuneInString(s[size:]); unicode.IsUpper(next) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func formatPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
