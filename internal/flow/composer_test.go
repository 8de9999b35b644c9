package flow

import (
	"strings"
	"testing"

	"github.com/medtriage/MedTriage/internal/models"
)

func TestComposeByUrgency(t *testing.T) {
	c := NewComposer("")
	tests := []struct {
		name    string
		res     models.AnalysisResult
		prefix  string
		caution bool
	}{
		{
			name:   "emergency",
			res:    models.AnalysisResult{Urgency: models.UrgencyEmergency, Recommendation: "Go to the ER now", Confidence: 0.9},
			prefix: "URGENT: Go to the ER now.",
		},
		{
			name:   "urgent",
			res:    models.AnalysisResult{Urgency: models.UrgencyUrgent, Recommendation: "See a doctor today.", Confidence: 0.7},
			prefix: "This appears to require prompt attention. See a doctor today.",
		},
		{
			name:    "routine low confidence",
			res:     models.AnalysisResult{Urgency: models.UrgencyRoutine, Recommendation: "Rest and drink fluids.", Confidence: 0.4},
			prefix:  "Based on your symptoms, rest and drink fluids.",
			caution: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := c.Compose(tt.res)
			if !strings.HasPrefix(msg, tt.prefix) {
				t.Errorf("message %q does not start with %q", msg, tt.prefix)
			}
			if got := strings.Contains(msg, "Please note:"); got != tt.caution {
				t.Errorf("caution present = %v, want %v", got, tt.caution)
			}
			if !strings.HasSuffix(msg, c.Disclaimer()) {
				t.Errorf("message does not end with disclaimer: %q", msg)
			}
		})
	}
}

func TestComposeEmergencyIncludesHangUp(t *testing.T) {
	c := NewComposer("")
	msg := c.Compose(models.AnalysisResult{Urgency: models.UrgencyEmergency, Recommendation: "Call now.", Confidence: 0.9})
	if !strings.Contains(msg, "hang up and call 911 now") {
		t.Errorf("missing hang-up instruction: %q", msg)
	}
}

func TestComposeReasoningLimited(t *testing.T) {
	c := NewComposer("")
	msg := c.Compose(models.AnalysisResult{
		Urgency:        models.UrgencyRoutine,
		Recommendation: "Rest.",
		Reasoning:      []string{"first reason", "second reason", "third reason"},
		Confidence:     0.9,
	})
	if !strings.Contains(msg, "Here's why: first reason. second reason.") {
		t.Errorf("expected two reasoning items: %q", msg)
	}
	if strings.Contains(msg, "third reason") {
		t.Errorf("third reason should be dropped: %q", msg)
	}
}

func TestComposeEmptyRecommendation(t *testing.T) {
	c := NewComposer("")
	msg := c.Compose(models.AnalysisResult{Urgency: models.UrgencyUrgent, Confidence: 0.9})
	if !strings.Contains(msg, "Please consult a healthcare provider.") {
		t.Errorf("expected default recommendation: %q", msg)
	}
}

func TestComposeEmergencyMatch(t *testing.T) {
	c := NewComposer("112")
	msg := c.ComposeEmergency(models.EmergencyMatch{EmergencyType: "x", Action: "Apply direct pressure"})
	for _, want := range []string{"Medical emergency detected.", "Apply direct pressure.", "call 112 now", "not a medical diagnosis"} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in %q", want, msg)
		}
	}
	if c.EmergencyNumber() != "112" {
		t.Errorf("unexpected emergency number %q", c.EmergencyNumber())
	}
}

func TestLowerFirstKeepsAcronyms(t *testing.T) {
	if got := lowerFirst("ER visit advised."); got != "ER visit advised." {
		t.Errorf("acronym lowered: %q", got)
	}
	if got := lowerFirst("Rest well."); got != "rest well." {
		t.Errorf("unexpected %q", got)
	}
	if got := lowerFirst(""); got != "" {
		t.Errorf("unexpected %q", got)
	}
}
