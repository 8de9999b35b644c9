// Package models defines the core data structures for MedTriage.
//
// It includes urgency tiers, analysis results, emergency matches and the
// audit record written when a triage call ends. These types are shared by the
// knowledge, flow, genai, store and api modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Urgency ranks how quickly care is needed.
type Urgency string

const (
	// UrgencyRoutine can wait for a regular appointment.
	UrgencyRoutine Urgency = "routine"
	// UrgencyUrgent needs same-day care.
	UrgencyUrgent Urgency = "urgent"
	// UrgencyEmergency needs immediate emergency care.
	UrgencyEmergency Urgency = "emergency"
)

// Rank orders urgency tiers: emergency > urgent > routine. Unknown tiers rank lowest.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyEmergency:
		return 3
	case UrgencyUrgent:
		return 2
	case UrgencyRoutine:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether u is one of the three known tiers.
func (u Urgency) IsValid() bool {
	return u.Rank() > 0
}

// ParseUrgency normalizes s into an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidUrgency, s)
	}
	return u, nil
}

// AnalysisMethod tags which tier of the analysis chain produced a result.
type AnalysisMethod string

const (
	AnalysisMethodAI       AnalysisMethod = "ai"
	AnalysisMethodGraph    AnalysisMethod = "graph"
	AnalysisMethodFallback AnalysisMethod = "fallback"
)

// Error variables for better error handling and testability
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAnalysisUnavailable  = errors.New("analysis unavailable")
	ErrNoConditionMatch     = errors.New("no condition matched the reported symptoms")
	ErrInvalidUrgency       = errors.New("invalid urgency")
	ErrInvalidCatalog       = errors.New("invalid catalog")
	ErrEmptyCallID          = errors.New("call id cannot be empty")
	ErrEmptyInput           = errors.New("input text cannot be empty")
	ErrConfidenceOutOfRange = errors.New("confidence must be between 0 and 1")
	ErrRecordNotFound       = errors.New("triage record not found")
)

// EmergencyMatch is produced when an emergency trigger fires.
type EmergencyMatch struct {
	EmergencyType   string   `json:"emergency_type"`
	Action          string   `json:"action"`
	Confidence      float64  `json:"confidence"`
	MatchedSymptoms []string `json:"matched_symptoms"`
	Urgency         Urgency  `json:"urgency"`
}

// AnalysisResult is the outcome of one pass through the analysis chain.
type AnalysisResult struct {
	Urgency                    Urgency        `json:"urgency"`
	Recommendation             string         `json:"recommendation"`
	Reasoning                  []string       `json:"reasoning"`
	Confidence                 float64        `json:"confidence"`
	DifferentialConsiderations []string       `json:"differential_considerations"`
	RedFlags                   []string       `json:"red_flags,omitempty"`
	Method                     AnalysisMethod `json:"analysis_method"`
	Timestamp                  time.Time      `json:"timestamp"`
}

// Validate checks the invariants every producer of an AnalysisResult must hold.
func (r *AnalysisResult) Validate() error {
	if !r.Urgency.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidUrgency, r.Urgency)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrConfidenceOutOfRange
	}
	if strings.TrimSpace(r.Recommendation) == "" {
		return errors.New("recommendation cannot be empty")
	}
	return nil
}

// FollowUpAnswer records one answered follow-up question.
type FollowUpAnswer struct {
	Slot     string `json:"slot"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer"`
}

// AnalysisRequest carries the context handed to an analyzer.
type AnalysisRequest struct {
	ConversationID  string            `json:"conversation_id"`
	Symptoms        []string          `json:"symptoms"`
	PatientInfo     map[string]string `json:"patient_info,omitempty"`
	FollowUpAnswers []FollowUpAnswer  `json:"follow_up_answers,omitempty"`
}

// ConversationSummary reports the outcome of a conversation for logging and auditing.
type ConversationSummary struct {
	ConversationID    string            `json:"conversation_id"`
	CallID            string            `json:"call_id"`
	Duration          time.Duration     `json:"duration"`
	Symptoms          []string          `json:"symptoms"`
	FinalState        ConversationState `json:"final_state"`
	EmergencyDetected bool              `json:"emergency_detected"`
	AnalysisPerformed bool              `json:"analysis_performed"`
	InteractionCount  int               `json:"interaction_count"`
}

// TriageRecord is the persisted audit trail of a finished triage call.
type TriageRecord struct {
	ConversationID    string            `json:"conversation_id"`
	CallID            string            `json:"call_id"`
	CallerID          string            `json:"caller_id,omitempty"`
	FinalState        ConversationState `json:"final_state"`
	Symptoms          []string          `json:"symptoms"`
	EmergencyDetected bool              `json:"emergency_detected"`
	EmergencyType     string            `json:"emergency_type,omitempty"`
	Urgency           Urgency           `json:"urgency,omitempty"`
	Confidence        float64           `json:"confidence"`
	Method            AnalysisMethod    `json:"analysis_method,omitempty"`
	InteractionCount  int               `json:"interaction_count"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           time.Time         `json:"ended_at"`
}

// Validate ensures a record can be stored.
func (r *TriageRecord) Validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation id cannot be empty")
	}
	if r.CallID == "" {
		return ErrEmptyCallID
	}
	if !r.FinalState.IsValid() {
		return fmt.Errorf("invalid final state %q", r.FinalState)
	}
	if r.Urgency != "" && !r.Urgency.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidUrgency, r.Urgency)
	}
	return nil
}
