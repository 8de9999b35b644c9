package models

// Action tells the transport what to do with a turn's message.
type Action string

const (
	ActionGatherInput           Action = "gather_input"
	ActionProvideRecommendation Action = "provide_recommendation"
	ActionEmergency             Action = "emergency_action"
	ActionEndCall               Action = "end_call"
)

// TurnResponse is the outcome of one processed turn. It is a closed set of
// variants, one per Action: GatherInput, ProvideRecommendation,
// EmergencyAction and EndCall.
type TurnResponse interface {
	Action() Action
	Envelope() TurnEnvelope
	isTurnResponse()
}

// TurnEnvelope holds the fields common to every variant.
type TurnEnvelope struct {
	ConversationID string
	State          ConversationState
	Message        string
}

// Envelope returns the shared fields.
func (e TurnEnvelope) Envelope() TurnEnvelope { return e }

func (TurnEnvelope) isTurnResponse() {}

// GatherInput asks the caller for more input.
type GatherInput struct {
	TurnEnvelope
}

func (GatherInput) Action() Action { return ActionGatherInput }

// ProvideRecommendation delivers a non-emergency triage recommendation.
type ProvideRecommendation struct {
	TurnEnvelope
	Urgency    Urgency
	Confidence float64
	Method     AnalysisMethod
}

func (ProvideRecommendation) Action() Action { return ActionProvideRecommendation }

// EmergencyAction instructs the caller to seek emergency care now. Its
// urgency is always UrgencyEmergency.
type EmergencyAction struct {
	TurnEnvelope
	EmergencyType string
	Confidence    float64
}

func (EmergencyAction) Action() Action { return ActionEmergency }

// EndCall closes the conversation. Reason is set when the call ends because
// of an error such as an unknown conversation.
type EndCall struct {
	TurnEnvelope
	Reason string
}

func (EndCall) Action() Action { return ActionEndCall }

// TurnPayload is the flat wire form of a TurnResponse.
type TurnPayload struct {
	Message        string            `json:"message"`
	Action         Action            `json:"action"`
	State          ConversationState `json:"state,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Urgency        Urgency           `json:"urgency,omitempty"`
	Confidence     *float64          `json:"confidence,omitempty"`
	EmergencyType  string            `json:"emergency_type,omitempty"`
	Method         AnalysisMethod    `json:"analysis_method,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// PayloadOf flattens a TurnResponse for JSON encoding.
func PayloadOf(r TurnResponse) TurnPayload {
	env := r.Envelope()
	p := TurnPayload{
		Message:        env.Message,
		Action:         r.Action(),
		State:          env.State,
		ConversationID: env.ConversationID,
	}
	switch v := r.(type) {
	case ProvideRecommendation:
		c := v.Confidence
		p.Urgency = v.Urgency
		p.Confidence = &c
		p.Method = v.Method
	case EmergencyAction:
		c := v.Confidence
		p.Urgency = UrgencyEmergency
		p.Confidence = &c
		p.EmergencyType = v.EmergencyType
	case EndCall:
		p.Error = v.Reason
	}
	return p
}
