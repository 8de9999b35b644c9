package models

import "strings"

// StartConversationRequest is the body of POST /conversations.
type StartConversationRequest struct {
	CallID      string            `json:"call_id"`
	CallerID    string            `json:"caller_id,omitempty"`
	PatientInfo map[string]string `json:"patient_info,omitempty"`
}

// Validate checks the request has a call id.
func (r *StartConversationRequest) Validate() error {
	if strings.TrimSpace(r.CallID) == "" {
		return ErrEmptyCallID
	}
	return nil
}

// TurnRequest is the body of POST /conversations/{callID}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// Validate checks the request carries caller input.
func (r *TurnRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyInput
	}
	return nil
}
