// Package flow implements the triage conversation state machine for MedTriage.
//
// A TriageFlow owns a Registry of per-call conversations and advances one
// conversation by exactly one turn per ProcessUserInput call. Every turn runs
// the emergency check before anything else; analysis degrades through the
// AnalysisChain and never surfaces an error to the caller.
package flow

import (
	"time"

	"github.com/medtriage/MedTriage/internal/models"
)

// Conversation is the per-call triage state. Only the TriageFlow mutates it;
// callers receive copies.
type Conversation struct {
	ID                string                   `json:"id"`
	CallID            string                   `json:"call_id"`
	CallerID          string                   `json:"caller_id,omitempty"`
	State             models.ConversationState `json:"state"`
	Symptoms          []string                 `json:"symptoms"`
	PatientInfo       map[string]string        `json:"patient_info,omitempty"`
	FollowUpAnswers   []models.FollowUpAnswer  `json:"follow_up_answers"`
	AskedQuestions    []string                 `json:"asked_questions,omitempty"`
	PendingQuestion   string                   `json:"pending_question,omitempty"`
	Analysis          *models.AnalysisResult   `json:"analysis_result,omitempty"`
	Emergency         *models.EmergencyMatch   `json:"emergency,omitempty"`
	InteractionCount  int                      `json:"interaction_count"`
	EmergencyDetected bool                     `json:"emergency_detected"`
	CreatedAt         time.Time                `json:"created_at"`
	LastActivity      time.Time                `json:"last_activity"`
}

// ConversationOption customizes a conversation at start.
type ConversationOption func(*Conversation)

// WithPatientInfo attaches caller-provided context such as age or known conditions.
func WithPatientInfo(info map[string]string) ConversationOption {
	return func(c *Conversation) {
		for k, v := range info {
			c.PatientInfo[k] = v
		}
	}
}

// clone returns a deep copy so a turn can work without touching the committed state.
func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Symptoms = append([]string(nil), c.Symptoms...)
	cp.FollowUpAnswers = append([]models.FollowUpAnswer(nil), c.FollowUpAnswers...)
	cp.AskedQuestions = append([]string(nil), c.AskedQuestions...)
	cp.PatientInfo = make(map[string]string, len(c.PatientInfo))
	for k, v := range c.PatientInfo {
		cp.PatientInfo[k] = v
	}
	if c.Analysis != nil {
		a := *c.Analysis
		a.Reasoning = append([]string(nil), c.Analysis.Reasoning...)
		a.DifferentialConsiderations = append([]string(nil), c.Analysis.DifferentialConsiderations...)
		a.RedFlags = append([]string(nil), c.Analysis.RedFlags...)
		cp.Analysis = &a
	}
	if c.Emergency != nil {
		e := *c.Emergency
		e.MatchedSymptoms = append([]string(nil), c.Emergency.MatchedSymptoms...)
		cp.Emergency = &e
	}
	return &cp
}

// Summary reports the conversation outcome. Duration runs from creation to
// the last processed turn, so repeated calls return identical values.
func (c *Conversation) Summary() models.ConversationSummary {
	return models.ConversationSummary{
		ConversationID:    c.ID,
		CallID:            c.CallID,
		Duration:          c.LastActivity.Sub(c.CreatedAt),
		Symptoms:          append([]string{}, c.Symptoms...),
		FinalState:        c.State,
		EmergencyDetected: c.EmergencyDetected,
		AnalysisPerformed: c.Analysis != nil,
		InteractionCount:  c.InteractionCount,
	}
}

// Record builds the audit record persisted when the call ends.
func (c *Conversation) Record(endedAt time.Time) models.TriageRecord {
	r := models.TriageRecord{
		ConversationID:    c.ID,
		CallID:            c.CallID,
		CallerID:          c.CallerID,
		FinalState:        c.State,
		Symptoms:          append([]string{}, c.Symptoms...),
		EmergencyDetected: c.EmergencyDetected,
		InteractionCount:  c.InteractionCount,
		StartedAt:         c.CreatedAt,
		EndedAt:           endedAt,
	}
	if c.Emergency != nil {
		r.EmergencyType = c.Emergency.EmergencyType
		r.Urgency = models.UrgencyEmergency
		r.Confidence = c.Emergency.Confidence
	}
	if c.Analysis != nil {
		r.Method = c.Analysis.Method
		if c.Emergency == nil {
			r.Urgency = c.Analysis.Urgency
			r.Confidence = c.Analysis.Confidence
		}
	}
	return r
}

func (c *Conversation) analysisRequest() models.AnalysisRequest {
	return models.AnalysisRequest{
		ConversationID:  c.ID,
		Symptoms:        append([]string{}, c.Symptoms...),
		PatientInfo:     c.PatientInfo,
		FollowUpAnswers: append([]models.FollowUpAnswer{}, c.FollowUpAnswers...),
	}
}
