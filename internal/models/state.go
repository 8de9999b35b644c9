package models

// ConversationState is a node of the triage conversation state machine.
type ConversationState string

const (
	StateGreeting           ConversationState = "greeting"
	StateCollectingSymptoms ConversationState = "collecting_symptoms"
	StateFollowUp           ConversationState = "follow_up_questions"
	StateAnalysis           ConversationState = "analysis"
	StateRecommendation     ConversationState = "recommendation"
	StateEmergency          ConversationState = "emergency"
	StateCompleted          ConversationState = "completed"
)

// IsValid reports whether s is a known state.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateGreeting, StateCollectingSymptoms, StateFollowUp, StateAnalysis,
		StateRecommendation, StateEmergency, StateCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further assessment happens in s.
// EMERGENCY is terminal for assessment; the transport decides when the call ends.
func (s ConversationState) IsTerminal() bool {
	return s == StateCompleted || s == StateEmergency
}
