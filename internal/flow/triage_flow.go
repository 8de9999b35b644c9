package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medtriage/MedTriage/internal/knowledge"
	"github.com/medtriage/MedTriage/internal/models"
)

const (
	// DefaultSpeechConfidenceFloor is the recognition confidence below which speech is re-prompted.
	DefaultSpeechConfidenceFloor = 0.3
	// minFollowUpAnswers moves FOLLOW_UP to ANALYSIS once reached.
	minFollowUpAnswers = 2
	// maxInteractionsBeforeAnalysis moves FOLLOW_UP to ANALYSIS once reached.
	maxInteractionsBeforeAnalysis = 4
)

// Caller-facing prompts.
const (
	msgAskSymptoms = "I understand you're not feeling well. Can you describe your main symptoms? What's bothering you the most right now?"
	msgNeedMore    = "I need a bit more information. Can you tell me more about what you're experiencing? Any pain, fever, or other symptoms?"
	msgDefault     = "I'm here to help assess your symptoms. Can you tell me what's bothering you today?"
	msgFarewell    = "Thank you for using our medical triage service. Please take care and follow the recommendations provided. If your condition worsens, don't hesitate to seek immediate medical attention."
	msgNotFound    = "I'm sorry, there was an issue with our system. Please try calling back or seek medical attention if this is urgent."
	msgDidNotHear  = "I'm sorry, I didn't catch that clearly. Could you please repeat what you said?"
	slotPrefix     = "follow_up_"
)

// RecordSaver persists triage audit records.
type RecordSaver interface {
	SaveTriageRecord(r models.TriageRecord) error
}

// Opts holds configuration for a TriageFlow.
type Opts struct {
	Analyzer              Analyzer
	AnalyzerTimeout       time.Duration
	EmergencyNumber       string
	SpeechConfidenceFloor float64
	Registry              *Registry
	Records               RecordSaver
	Clock                 func() time.Time
	IDGenerator           func() string
}

// Option configures a TriageFlow.
type Option func(*Opts)

// WithAnalyzer sets the external analyzer tried first during analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(o *Opts) { o.Analyzer = a }
}

// WithAnalyzerTimeout bounds each analyzer call.
func WithAnalyzerTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AnalyzerTimeout = d }
}

// WithEmergencyNumber sets the number callers are told to dial.
func WithEmergencyNumber(n string) Option {
	return func(o *Opts) { o.EmergencyNumber = n }
}

// WithSpeechConfidenceFloor sets the minimum accepted speech recognition confidence.
func WithSpeechConfidenceFloor(f float64) Option {
	return func(o *Opts) { o.SpeechConfidenceFloor = f }
}

// WithRegistry injects the conversation registry.
func WithRegistry(r *Registry) Option {
	return func(o *Opts) { o.Registry = r }
}

// WithRecordSaver persists an audit record whenever a conversation ends.
func WithRecordSaver(s RecordSaver) Option {
	return func(o *Opts) { o.Records = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Opts) { o.IDGenerator = gen }
}

// TriageFlow is the conversation state machine.
type TriageFlow struct {
	registry    *Registry
	extractor   *knowledge.Extractor
	matcher     *knowledge.EmergencyMatcher
	followUps   *knowledge.FollowUpSelector
	chain       *AnalysisChain
	composer    *Composer
	records     RecordSaver
	speechFloor float64
	now         func() time.Time
	newID       func() string
}

// NewTriageFlow creates a state machine over catalog.
func NewTriageFlow(catalog *knowledge.Catalog, opts ...Option) *TriageFlow {
	cfg := Opts{SpeechConfidenceFloor: DefaultSpeechConfidenceFloor}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = func() string { return uuid.New().String() }
	}
	composer := NewComposer(cfg.EmergencyNumber)
	chain := NewAnalysisChain(catalog, cfg.Analyzer, cfg.AnalyzerTimeout, composer.EmergencyNumber())
	chain.now = cfg.Clock

	slog.Debug("flow.NewTriageFlow: configured",
		"analyzer_set", cfg.Analyzer != nil,
		"analyzer_timeout", cfg.AnalyzerTimeout,
		"emergency_number", composer.EmergencyNumber(),
		"speech_floor", cfg.SpeechConfidenceFloor,
		"records_set", cfg.Records != nil)

	return &TriageFlow{
		registry:    cfg.Registry,
		extractor:   knowledge.NewExtractor(catalog),
		matcher:     knowledge.NewEmergencyMatcher(catalog),
		followUps:   knowledge.NewFollowUpSelector(catalog),
		chain:       chain,
		composer:    composer,
		records:     cfg.Records,
		speechFloor: cfg.SpeechConfidenceFloor,
		now:         cfg.Clock,
		newID:       cfg.IDGenerator,
	}
}

// Registry returns the registry backing this flow.
func (f *TriageFlow) Registry() *Registry {
	return f.registry
}

// Greeting is spoken when a call connects.
func (f *TriageFlow) Greeting() string {
	return "Hello, you've reached the medical triage line. I'm an automated assistant and I can help you decide what kind of care you may need. " +
		"If this is a life-threatening emergency, hang up and call " + f.composer.EmergencyNumber() + " now. " +
		"What symptoms are you experiencing today?"
}

// StartConversation creates a conversation in GREETING for callID. An
// existing conversation for the same call is replaced.
func (f *TriageFlow) StartConversation(callID, callerID string, opts ...ConversationOption) (Conversation, error) {
	if strings.TrimSpace(callID) == "" {
		return Conversation{}, models.ErrEmptyCallID
	}
	now := f.now()
	conv := &Conversation{
		ID:              f.newID(),
		CallID:          callID,
		CallerID:        callerID,
		State:           models.StateGreeting,
		Symptoms:        []string{},
		PatientInfo:     map[string]string{},
		FollowUpAnswers: []models.FollowUpAnswer{},
		CreatedAt:       now,
		LastActivity:    now,
	}
	for _, opt := range opts {
		opt(conv)
	}
	if _, exists := f.registry.lookup(callID); exists {
		slog.Warn("TriageFlow.StartConversation: replacing existing conversation", "callID", callID)
	}
	f.registry.put(conv)
	slog.Info("TriageFlow.StartConversation: conversation started", "callID", callID, "conversationID", conv.ID, "caller_set", callerID != "")
	return *conv.clone(), nil
}

// ProcessUserInput advances the conversation for callID by one turn. It never
// fails: an unknown call yields an EndCall response.
func (f *TriageFlow) ProcessUserInput(ctx context.Context, callID, text string) models.TurnResponse {
	e, ok := f.registry.lookup(callID)
	if !ok {
		slog.Warn("TriageFlow.ProcessUserInput: conversation not found", "callID", callID)
		return notFoundResponse()
	}
	return f.processTurn(ctx, callID, e, text)
}

// processTurn runs one turn against e. The call may have ended or been
// restarted while the turn waited for e, in which case e is stale.
func (f *TriageFlow) processTurn(ctx context.Context, callID string, e *entry, text string) models.TurnResponse {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	if !f.registry.holds(callID, e) {
		slog.Warn("TriageFlow.ProcessUserInput: conversation ended before turn ran", "callID", callID)
		return notFoundResponse()
	}

	conv := e.current().clone()
	conv.InteractionCount++
	conv.LastActivity = f.now()
	before := conv.State

	extracted := f.extractor.Extract(text)
	conv.Symptoms = knowledge.MergeSymptoms(conv.Symptoms, extracted)
	slog.Debug("TriageFlow.ProcessUserInput: turn received", "callID", callID, "state", before, "interaction", conv.InteractionCount, "extracted", extracted)

	resp := f.step(ctx, conv, text)
	e.commit(conv)

	slog.Info("TriageFlow.ProcessUserInput: turn processed", "callID", callID, "conversationID", conv.ID, "from", before, "to", conv.State, "action", resp.Action())
	return resp
}

// HandleTelephonyTurn is the entry point for recognized speech. Speech below
// the confidence floor is re-prompted without touching the conversation.
func (f *TriageFlow) HandleTelephonyTurn(ctx context.Context, callID, speech string, confidence float64) models.TurnResponse {
	snap, ok := f.registry.Snapshot(callID)
	if !ok {
		slog.Warn("TriageFlow.HandleTelephonyTurn: conversation not found", "callID", callID)
		return notFoundResponse()
	}
	if strings.TrimSpace(speech) == "" || confidence < f.speechFloor {
		slog.Debug("TriageFlow.HandleTelephonyTurn: low confidence speech, re-prompting", "callID", callID, "confidence", confidence, "floor", f.speechFloor)
		return models.GatherInput{TurnEnvelope: models.TurnEnvelope{
			ConversationID: snap.ID,
			State:          snap.State,
			Message:        msgDidNotHear,
		}}
	}
	return f.ProcessUserInput(ctx, callID, speech)
}

// GetConversationSummary reports on the conversation for callID without changing it.
func (f *TriageFlow) GetConversationSummary(callID string) (models.ConversationSummary, bool) {
	snap, ok := f.registry.Snapshot(callID)
	if !ok {
		return models.ConversationSummary{}, false
	}
	return snap.Summary(), true
}

// EndConversation removes the conversation for callID and persists its audit record.
func (f *TriageFlow) EndConversation(callID string) (models.ConversationSummary, bool) {
	conv, ok := f.registry.remove(callID)
	if !ok {
		return models.ConversationSummary{}, false
	}
	summary := conv.Summary()
	if f.records != nil {
		if err := f.records.SaveTriageRecord(conv.Record(f.now())); err != nil {
			slog.Error("TriageFlow.EndConversation: failed to save triage record", "callID", callID, "conversationID", conv.ID, "error", err)
		}
	}
	slog.Info("TriageFlow.EndConversation: conversation ended",
		"callID", callID,
		"conversationID", summary.ConversationID,
		"final_state", summary.FinalState,
		"emergency", summary.EmergencyDetected,
		"interactions", summary.InteractionCount)
	return summary, true
}

// SweepIdle ends conversations with no activity for longer than ttl.
func (f *TriageFlow) SweepIdle(ttl time.Duration) int {
	ids := f.registry.idleSince(f.now().Add(-ttl))
	ended := 0
	for _, id := range ids {
		if _, ok := f.EndConversation(id); ok {
			ended++
		}
	}
	if ended > 0 {
		slog.Info("TriageFlow.SweepIdle: ended idle conversations", "count", ended, "ttl", ttl)
	}
	return ended
}

// step runs the emergency check and then the handler for the current state.
func (f *TriageFlow) step(ctx context.Context, conv *Conversation, text string) models.TurnResponse {
	if match, ok := f.matcher.Check(conv.Symptoms, text); ok {
		return f.enterEmergency(conv, match)
	}

	switch conv.State {
	case models.StateGreeting:
		conv.State = models.StateCollectingSymptoms
		return gather(conv, msgAskSymptoms)

	case models.StateCollectingSymptoms:
		if len(conv.Symptoms) == 0 {
			return gather(conv, msgNeedMore)
		}
		conv.State = models.StateFollowUp
		return f.askFollowUp(conv)

	case models.StateFollowUp:
		conv.FollowUpAnswers = append(conv.FollowUpAnswers, models.FollowUpAnswer{
			Slot:     fmt.Sprintf("%s%d", slotPrefix, len(conv.FollowUpAnswers)),
			Question: conv.PendingQuestion,
			Answer:   strings.TrimSpace(text),
		})
		conv.PendingQuestion = ""
		if len(conv.FollowUpAnswers) >= minFollowUpAnswers || conv.InteractionCount >= maxInteractionsBeforeAnalysis {
			conv.State = models.StateAnalysis
			return f.analyze(ctx, conv)
		}
		return f.askFollowUp(conv)

	case models.StateAnalysis:
		if conv.Analysis == nil {
			return f.analyze(ctx, conv)
		}
		conv.State = models.StateCompleted
		return endCall(conv, msgFarewell, "")

	case models.StateRecommendation, models.StateCompleted:
		conv.State = models.StateCompleted
		return endCall(conv, msgFarewell, "")

	case models.StateEmergency:
		return f.repeatEmergency(conv)

	default:
		slog.Warn("TriageFlow.step: unknown state, resetting to symptom collection", "conversationID", conv.ID, "state", conv.State)
		conv.State = models.StateCollectingSymptoms
		return gather(conv, msgDefault)
	}
}

func (f *TriageFlow) askFollowUp(conv *Conversation) models.TurnResponse {
	q := f.followUps.Select(conv.Symptoms, conv.AskedQuestions, len(conv.FollowUpAnswers))
	conv.PendingQuestion = q
	conv.AskedQuestions = append(conv.AskedQuestions, q)
	return gather(conv, q)
}

// analyze runs the analysis chain on the turn's working copy. An emergency
// result forces EMERGENCY like a trigger match would.
func (f *TriageFlow) analyze(ctx context.Context, conv *Conversation) models.TurnResponse {
	res := f.chain.Run(ctx, conv.analysisRequest())
	conv.Analysis = &res

	if res.Urgency == models.UrgencyEmergency {
		conv.State = models.StateEmergency
		conv.EmergencyDetected = true
		conv.Emergency = &models.EmergencyMatch{
			EmergencyType:   "analysis_" + string(res.Method),
			Action:          res.Recommendation,
			Confidence:      res.Confidence,
			MatchedSymptoms: append([]string{}, conv.Symptoms...),
			Urgency:         models.UrgencyEmergency,
		}
		slog.Warn("TriageFlow.analyze: analysis escalated to emergency", "conversationID", conv.ID, "method", res.Method)
		return models.EmergencyAction{
			TurnEnvelope:  envelope(conv, f.composer.Compose(res)),
			EmergencyType: conv.Emergency.EmergencyType,
			Confidence:    res.Confidence,
		}
	}

	conv.State = models.StateRecommendation
	return models.ProvideRecommendation{
		TurnEnvelope: envelope(conv, f.composer.Compose(res)),
		Urgency:      res.Urgency,
		Confidence:   res.Confidence,
		Method:       res.Method,
	}
}

func (f *TriageFlow) enterEmergency(conv *Conversation, match models.EmergencyMatch) models.TurnResponse {
	if !conv.EmergencyDetected {
		slog.Warn("TriageFlow.enterEmergency: emergency detected", "conversationID", conv.ID, "callID", conv.CallID, "trigger", match.EmergencyType, "confidence", match.Confidence)
	}
	conv.State = models.StateEmergency
	conv.EmergencyDetected = true
	conv.Emergency = &match
	return models.EmergencyAction{
		TurnEnvelope:  envelope(conv, f.composer.ComposeEmergency(match)),
		EmergencyType: match.EmergencyType,
		Confidence:    match.Confidence,
	}
}

func (f *TriageFlow) repeatEmergency(conv *Conversation) models.TurnResponse {
	match := models.EmergencyMatch{Urgency: models.UrgencyEmergency, Confidence: 1}
	if conv.Emergency != nil {
		match = *conv.Emergency
	}
	return models.EmergencyAction{
		TurnEnvelope:  envelope(conv, f.composer.ComposeEmergency(match)),
		EmergencyType: match.EmergencyType,
		Confidence:    match.Confidence,
	}
}

func envelope(conv *Conversation, msg string) models.TurnEnvelope {
	return models.TurnEnvelope{ConversationID: conv.ID, State: conv.State, Message: msg}
}

func gather(conv *Conversation, msg string) models.TurnResponse {
	return models.GatherInput{TurnEnvelope: envelope(conv, msg)}
}

func endCall(conv *Conversation, msg, reason string) models.TurnResponse {
	return models.EndCall{TurnEnvelope: envelope(conv, msg), Reason: reason}
}

func notFoundResponse() models.TurnResponse {
	return models.EndCall{
		TurnEnvelope: models.TurnEnvelope{Message: msgNotFound},
		Reason:       models.ErrConversationNotFound.Error(),
	}
}
