package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medtriage/MedTriage/internal/knowledge"
	"github.com/medtriage/MedTriage/internal/models"
)

// failingAnalyzer always reports an error.
type failingAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (a *failingAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return models.AnalysisResult{}, errors.New("upstream unavailable")
}

// fixedAnalyzer returns a canned result.
type fixedAnalyzer struct {
	result models.AnalysisResult
	last   models.AnalysisRequest
}

func (a *fixedAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	a.last = req
	return a.result, nil
}

type recordingSaver struct {
	mu      sync.Mutex
	records []models.TriageRecord
	err     error
}

func (s *recordingSaver) SaveTriageRecord(r models.TriageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustCatalog(t *testing.T) *knowledge.Catalog {
	t.Helper()
	c, err := knowledge.Default()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return c
}

func newTestFlow(t *testing.T, opts ...Option) (*TriageFlow, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	n := 0
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("conv-%d", n) }),
	}
	return NewTriageFlow(mustCatalog(t), append(base, opts...)...), clock
}

func mustStart(t *testing.T, f *TriageFlow, callID string) Conversation {
	t.Helper()
	conv, err := f.StartConversation(callID, "+15550100")
	if err != nil {
		t.Fatalf("StartConversation(%q) error: %v", callID, err)
	}
	return conv
}

func TestStartConversation(t *testing.T) {
	f, clock := newTestFlow(t)
	conv := mustStart(t, f, "CA1")
	if conv.State != models.StateGreeting {
		t.Errorf("expected greeting state, got %s", conv.State)
	}
	if conv.ID != "conv-1" || conv.CallID != "CA1" {
		t.Errorf("unexpected ids: %+v", conv)
	}
	if len(conv.Symptoms) != 0 || conv.InteractionCount != 0 || conv.EmergencyDetected {
		t.Errorf("new conversation not empty: %+v", conv)
	}
	if !conv.CreatedAt.Equal(clock.Now()) {
		t.Errorf("created at %v, want %v", conv.CreatedAt, clock.Now())
	}
	if f.Registry().Len() != 1 {
		t.Errorf("expected 1 registered conversation, got %d", f.Registry().Len())
	}
}

func TestStartConversationEmptyCallID(t *testing.T) {
	f, _ := newTestFlow(t)
	if _, err := f.StartConversation("  ", ""); !errors.Is(err, models.ErrEmptyCallID) {
		t.Errorf("expected ErrEmptyCallID, got %v", err)
	}
}

func TestStartConversationReplacesExisting(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	f.ProcessUserInput(context.Background(), "CA1", "hello")
	conv := mustStart(t, f, "CA1")
	if conv.ID != "conv-2" {
		t.Errorf("expected a fresh conversation, got %s", conv.ID)
	}
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.InteractionCount != 0 || snap.State != models.StateGreeting {
		t.Errorf("expected replaced conversation to start over, got %+v", snap)
	}
}

func TestStartConversationWithPatientInfo(t *testing.T) {
	analyzer := &fixedAnalyzer{result: models.AnalysisResult{
		Urgency: models.UrgencyRoutine, Recommendation: "Rest.", Confidence: 0.8,
	}}
	f, _ := newTestFlow(t, WithAnalyzer(analyzer))
	if _, err := f.StartConversation("CA1", "", WithPatientInfo(map[string]string{"age": "34"})); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, in := range []string{"hi", "I have a cough", "two days", "no"} {
		f.ProcessUserInput(ctx, "CA1", in)
	}
	if analyzer.last.PatientInfo["age"] != "34" {
		t.Errorf("patient info not passed to analyzer: %+v", analyzer.last)
	}
}

func TestEmergencyOnFirstTurn(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")

	resp := f.ProcessUserInput(context.Background(), "CA1", "I have severe chest pain and I'm sweating")
	ea, ok := resp.(models.EmergencyAction)
	if !ok {
		t.Fatalf("expected EmergencyAction, got %T", resp)
	}
	if ea.EmergencyType != "chest_pain_emergency" {
		t.Errorf("unexpected emergency type %q", ea.EmergencyType)
	}
	if ea.Confidence < 0.9 {
		t.Errorf("expected confidence >= 0.9, got %v", ea.Confidence)
	}
	p := models.PayloadOf(resp)
	if p.Action != models.ActionEmergency || p.Urgency != models.UrgencyEmergency {
		t.Errorf("unexpected payload: %+v", p)
	}
	if !strings.Contains(ea.Message, "heart attack") || !strings.Contains(ea.Message, "911") {
		t.Errorf("message missing action or number: %q", ea.Message)
	}

	snap, _ := f.Registry().Snapshot("CA1")
	if snap.State != models.StateEmergency || !snap.EmergencyDetected {
		t.Errorf("expected emergency state, got %s detected=%v", snap.State, snap.EmergencyDetected)
	}
	for _, s := range []string{"chest pain", "sweating"} {
		if !containsString(snap.Symptoms, s) {
			t.Errorf("expected symptom %q in %v", s, snap.Symptoms)
		}
	}
}

func TestEmergencyMessageUsesConfiguredNumber(t *testing.T) {
	f, _ := newTestFlow(t, WithEmergencyNumber("112"))
	mustStart(t, f, "CA1")

	resp := f.ProcessUserInput(context.Background(), "CA1", "I have severe chest pain and I'm sweating")
	ea, ok := resp.(models.EmergencyAction)
	if !ok {
		t.Fatalf("expected EmergencyAction, got %T", resp)
	}
	if strings.Contains(ea.Message, "911") {
		t.Errorf("message mentions 911 with number 112 configured: %q", ea.Message)
	}
	if !strings.Contains(ea.Message, "call 112") || !strings.Contains(ea.Message, "emergency services") {
		t.Errorf("message missing configured number or action: %q", ea.Message)
	}
	if strings.Contains(f.Greeting(), "911") {
		t.Errorf("greeting mentions 911: %q", f.Greeting())
	}
}

func TestEmergencyStateRepeatsAction(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	f.ProcessUserInput(ctx, "CA1", "I have chest pain and I feel nauseous")

	resp := f.ProcessUserInput(ctx, "CA1", "what should I do now")
	ea, ok := resp.(models.EmergencyAction)
	if !ok {
		t.Fatalf("expected EmergencyAction to repeat, got %T", resp)
	}
	if ea.EmergencyType != "chest_pain_emergency" {
		t.Errorf("expected repeated trigger, got %q", ea.EmergencyType)
	}
	if ea.State != models.StateEmergency {
		t.Errorf("expected emergency state, got %s", ea.State)
	}
}

func TestEmergencyCheckedInEveryState(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	f.ProcessUserInput(ctx, "CA1", "hello")
	f.ProcessUserInput(ctx, "CA1", "I have a cough")
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.State != models.StateFollowUp {
		t.Fatalf("expected follow-up state, got %s", snap.State)
	}

	resp := f.ProcessUserInput(ctx, "CA1", "actually my friend fainted and is unconscious")
	ea, ok := resp.(models.EmergencyAction)
	if !ok {
		t.Fatalf("expected EmergencyAction, got %T", resp)
	}
	if ea.EmergencyType != "loss_of_consciousness" {
		t.Errorf("unexpected trigger %q", ea.EmergencyType)
	}
}

func TestEmergencyAccumulatesAcrossTurns(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	f.ProcessUserInput(ctx, "CA1", "hi")
	if resp := f.ProcessUserInput(ctx, "CA1", "I have chest pain"); resp.Action() == models.ActionEmergency {
		t.Fatalf("chest pain alone should not trigger an emergency")
	}
	resp := f.ProcessUserInput(ctx, "CA1", "and now I am sweating a lot")
	if resp.Action() != models.ActionEmergency {
		t.Errorf("expected accumulated symptoms to trigger emergency, got %s", resp.Action())
	}
}

func TestRoutineFlowWithFailingAnalyzer(t *testing.T) {
	analyzer := &failingAnalyzer{}
	saver := &recordingSaver{}
	f, _ := newTestFlow(t, WithAnalyzer(analyzer), WithRecordSaver(saver))
	mustStart(t, f, "CA1")
	ctx := context.Background()

	steps := []struct {
		input  string
		action models.Action
		state  models.ConversationState
	}{
		{"hello", models.ActionGatherInput, models.StateCollectingSymptoms},
		{"I have a runny nose and a cough", models.ActionGatherInput, models.StateFollowUp},
		{"about two days", models.ActionGatherInput, models.StateFollowUp},
		{"no, not really", models.ActionProvideRecommendation, models.StateRecommendation},
		{"no thank you", models.ActionEndCall, models.StateCompleted},
		{"goodbye", models.ActionEndCall, models.StateCompleted},
	}
	var rec models.ProvideRecommendation
	for i, st := range steps {
		resp := f.ProcessUserInput(ctx, "CA1", st.input)
		if resp.Action() != st.action {
			t.Fatalf("turn %d (%q): expected action %s, got %s", i+1, st.input, st.action, resp.Action())
		}
		if resp.Envelope().State != st.state {
			t.Fatalf("turn %d (%q): expected state %s, got %s", i+1, st.input, st.state, resp.Envelope().State)
		}
		if strings.TrimSpace(resp.Envelope().Message) == "" {
			t.Errorf("turn %d: empty message", i+1)
		}
		if r, ok := resp.(models.ProvideRecommendation); ok {
			rec = r
		}
	}

	if analyzer.calls != 1 {
		t.Errorf("expected analyzer to be tried once, got %d", analyzer.calls)
	}
	if rec.Method != models.AnalysisMethodGraph {
		t.Errorf("expected graph method, got %s", rec.Method)
	}
	if rec.Urgency != models.UrgencyRoutine {
		t.Errorf("expected routine urgency, got %s", rec.Urgency)
	}
	if !strings.Contains(rec.Message, "not a medical diagnosis") {
		t.Errorf("recommendation missing disclaimer: %q", rec.Message)
	}

	summary, ok := f.EndConversation("CA1")
	if !ok {
		t.Fatal("EndConversation reported missing conversation")
	}
	if !summary.AnalysisPerformed || summary.FinalState != models.StateCompleted || summary.InteractionCount != 6 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if len(saver.records) != 1 {
		t.Fatalf("expected one saved record, got %d", len(saver.records))
	}
	r := saver.records[0]
	if r.Method != models.AnalysisMethodGraph || r.Urgency != models.UrgencyRoutine || r.ConversationID != "conv-1" {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestAnalyzerResultUsed(t *testing.T) {
	analyzer := &fixedAnalyzer{result: models.AnalysisResult{
		Urgency:        models.UrgencyUrgent,
		Recommendation: "See a doctor today.",
		Reasoning:      []string{"Persistent cough with fever"},
		Confidence:     0.8,
	}}
	f, _ := newTestFlow(t, WithAnalyzer(analyzer))
	mustStart(t, f, "CA1")
	ctx := context.Background()
	var resp models.TurnResponse
	for _, in := range []string{"hi", "I have a cough and fever", "three days", "yes"} {
		resp = f.ProcessUserInput(ctx, "CA1", in)
	}
	rec, ok := resp.(models.ProvideRecommendation)
	if !ok {
		t.Fatalf("expected ProvideRecommendation, got %T", resp)
	}
	if rec.Method != models.AnalysisMethodAI || rec.Urgency != models.UrgencyUrgent {
		t.Errorf("unexpected recommendation: %+v", rec)
	}
	if len(analyzer.last.FollowUpAnswers) != 2 || analyzer.last.FollowUpAnswers[0].Answer != "three days" {
		t.Errorf("answers not forwarded: %+v", analyzer.last.FollowUpAnswers)
	}
	if analyzer.last.FollowUpAnswers[0].Question == "" {
		t.Errorf("expected answered question to be recorded")
	}
}

func TestAnalysisEmergencyForcesEmergencyState(t *testing.T) {
	analyzer := &fixedAnalyzer{result: models.AnalysisResult{
		Urgency:        models.UrgencyEmergency,
		Recommendation: "Go to the emergency room now.",
		Confidence:     0.7,
	}}
	f, _ := newTestFlow(t, WithAnalyzer(analyzer))
	mustStart(t, f, "CA1")
	ctx := context.Background()
	var resp models.TurnResponse
	for _, in := range []string{"hi", "I have a cough", "a week", "it is getting worse"} {
		resp = f.ProcessUserInput(ctx, "CA1", in)
	}
	ea, ok := resp.(models.EmergencyAction)
	if !ok {
		t.Fatalf("expected EmergencyAction, got %T", resp)
	}
	if ea.EmergencyType != "analysis_ai" {
		t.Errorf("unexpected emergency type %q", ea.EmergencyType)
	}
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.State != models.StateEmergency || !snap.EmergencyDetected {
		t.Errorf("expected emergency state, got %+v", snap)
	}

	again := f.ProcessUserInput(ctx, "CA1", "ok")
	if again.Action() != models.ActionEmergency {
		t.Errorf("expected emergency to repeat, got %s", again.Action())
	}
}

func TestOneAnswerStaysInFollowUp(t *testing.T) {
	f, clock := newTestFlow(t)
	now := clock.Now()
	f.registry.put(&Conversation{
		ID:               "conv-c",
		CallID:           "CA1",
		State:            models.StateFollowUp,
		Symptoms:         []string{"cough"},
		PatientInfo:      map[string]string{},
		InteractionCount: 1,
		PendingQuestion:  "How high is your fever?",
		AskedQuestions:   []string{"How high is your fever?"},
		CreatedAt:        now,
		LastActivity:     now,
	})

	resp := f.ProcessUserInput(context.Background(), "CA1", "not very high")
	if resp.Action() != models.ActionGatherInput {
		t.Fatalf("expected another question, got %s", resp.Action())
	}
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.State != models.StateFollowUp {
		t.Errorf("expected to remain in follow-up, got %s", snap.State)
	}
	if snap.InteractionCount != 2 || len(snap.FollowUpAnswers) != 1 {
		t.Errorf("unexpected counters: interactions=%d answers=%d", snap.InteractionCount, len(snap.FollowUpAnswers))
	}
	if snap.Analysis != nil {
		t.Errorf("analysis should not run yet")
	}
	if resp.Envelope().Message == "How high is your fever?" {
		t.Errorf("question repeated: %q", resp.Envelope().Message)
	}
}

func TestFollowUpInteractionCapForcesAnalysis(t *testing.T) {
	f, clock := newTestFlow(t)
	now := clock.Now()
	f.registry.put(&Conversation{
		ID:               "conv-cap",
		CallID:           "CA1",
		State:            models.StateFollowUp,
		Symptoms:         []string{"cough"},
		PatientInfo:      map[string]string{},
		InteractionCount: 3,
		CreatedAt:        now,
		LastActivity:     now,
	})
	resp := f.ProcessUserInput(context.Background(), "CA1", "yes")
	if resp.Action() != models.ActionProvideRecommendation {
		t.Fatalf("expected analysis on fourth interaction, got %s", resp.Action())
	}
}

func TestCollectingRepromptsWithoutSymptoms(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	f.ProcessUserInput(ctx, "CA1", "hello")
	resp := f.ProcessUserInput(ctx, "CA1", "I just don't feel right")
	if resp.Action() != models.ActionGatherInput || resp.Envelope().State != models.StateCollectingSymptoms {
		t.Fatalf("expected re-prompt in collecting state, got %s/%s", resp.Action(), resp.Envelope().State)
	}
	if resp.Envelope().Message != msgNeedMore {
		t.Errorf("unexpected re-prompt %q", resp.Envelope().Message)
	}
}

func TestUnknownCallEndsWithNotFound(t *testing.T) {
	f, _ := newTestFlow(t)
	resp := f.ProcessUserInput(context.Background(), "nope", "hello")
	end, ok := resp.(models.EndCall)
	if !ok {
		t.Fatalf("expected EndCall, got %T", resp)
	}
	if end.Reason != models.ErrConversationNotFound.Error() {
		t.Errorf("unexpected reason %q", end.Reason)
	}
	if models.PayloadOf(resp).Error == "" {
		t.Errorf("payload should carry the error")
	}
}

func TestTurnOnStaleEntryIsRejected(t *testing.T) {
	f, _ := newTestFlow(t)
	ctx := context.Background()

	mustStart(t, f, "CA1")
	ended, _ := f.registry.lookup("CA1")
	if _, ok := f.EndConversation("CA1"); !ok {
		t.Fatal("EndConversation should find the call")
	}
	if resp := f.processTurn(ctx, "CA1", ended, "hello"); resp.Action() != models.ActionEndCall {
		t.Errorf("turn on an ended call should end, got %s", resp.Action())
	}

	mustStart(t, f, "CA2")
	replaced, _ := f.registry.lookup("CA2")
	mustStart(t, f, "CA2")
	resp := f.processTurn(ctx, "CA2", replaced, "hello")
	if end, ok := resp.(models.EndCall); !ok || end.Reason != models.ErrConversationNotFound.Error() {
		t.Errorf("turn on a replaced entry should report not found, got %T", resp)
	}
	snap, _ := f.Registry().Snapshot("CA2")
	if snap.InteractionCount != 0 || snap.State != models.StateGreeting {
		t.Errorf("new conversation touched by stale turn: %+v", snap)
	}
}

func TestSymptomsAndCountersMonotonic(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	inputs := []string{"hi", "I have a headache", "and a fever", "it started yesterday", "also a sore throat", "thanks"}
	prevSymptoms := 0
	prevCount := 0
	prevEmergency := false
	for _, in := range inputs {
		f.ProcessUserInput(ctx, "CA1", in)
		snap, _ := f.Registry().Snapshot("CA1")
		if len(snap.Symptoms) < prevSymptoms {
			t.Errorf("symptoms shrank after %q: %v", in, snap.Symptoms)
		}
		if snap.InteractionCount != prevCount+1 {
			t.Errorf("interaction count went from %d to %d", prevCount, snap.InteractionCount)
		}
		if prevEmergency && !snap.EmergencyDetected {
			t.Errorf("emergency flag cleared")
		}
		seen := map[string]bool{}
		for _, s := range snap.Symptoms {
			if seen[s] {
				t.Errorf("duplicate symptom %q", s)
			}
			seen[s] = true
		}
		prevSymptoms, prevCount, prevEmergency = len(snap.Symptoms), snap.InteractionCount, snap.EmergencyDetected
	}
}

func TestGetConversationSummaryIsIdempotent(t *testing.T) {
	f, clock := newTestFlow(t)
	mustStart(t, f, "CA1")
	clock.Advance(30 * time.Second)
	f.ProcessUserInput(context.Background(), "CA1", "hi")

	first, ok := f.GetConversationSummary("CA1")
	if !ok {
		t.Fatal("summary not found")
	}
	clock.Advance(time.Minute)
	second, _ := f.GetConversationSummary("CA1")
	if first.Duration != 30*time.Second || second.Duration != first.Duration {
		t.Errorf("durations differ: %v vs %v", first.Duration, second.Duration)
	}
	if second.InteractionCount != 1 || second.FinalState != models.StateCollectingSymptoms {
		t.Errorf("summary changed state: %+v", second)
	}
	if _, ok := f.GetConversationSummary("missing"); ok {
		t.Errorf("expected missing summary")
	}
}

func TestEndConversationRemoves(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	f, _ := newTestFlow(t, WithRecordSaver(saver))
	mustStart(t, f, "CA1")
	if _, ok := f.EndConversation("CA1"); !ok {
		t.Fatal("expected conversation to end")
	}
	if _, ok := f.EndConversation("CA1"); ok {
		t.Error("second end should report missing")
	}
	if f.Registry().Len() != 0 {
		t.Errorf("registry not empty")
	}
	if len(saver.records) != 1 {
		t.Errorf("expected save to be attempted once, got %d", len(saver.records))
	}
	if resp := f.ProcessUserInput(context.Background(), "CA1", "hello"); resp.Action() != models.ActionEndCall {
		t.Errorf("ended conversation should answer end_call, got %s", resp.Action())
	}
}

func TestHandleTelephonyTurnLowConfidence(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()

	resp := f.HandleTelephonyTurn(ctx, "CA1", "chest pain sweating", 0.1)
	if resp.Action() != models.ActionGatherInput || resp.Envelope().Message != msgDidNotHear {
		t.Fatalf("expected re-prompt, got %s %q", resp.Action(), resp.Envelope().Message)
	}
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.InteractionCount != 0 || len(snap.Symptoms) != 0 {
		t.Errorf("low confidence speech changed the conversation: %+v", snap)
	}

	if resp := f.HandleTelephonyTurn(ctx, "CA1", "", 0.9); resp.Envelope().Message != msgDidNotHear {
		t.Errorf("empty speech should re-prompt")
	}

	resp = f.HandleTelephonyTurn(ctx, "CA1", "hello there", 0.85)
	if resp.Envelope().State != models.StateCollectingSymptoms {
		t.Errorf("confident speech should advance, got %s", resp.Envelope().State)
	}
}

func TestHandleTelephonyTurnUnknownCall(t *testing.T) {
	f, _ := newTestFlow(t)
	if resp := f.HandleTelephonyTurn(context.Background(), "nope", "hi", 0.9); resp.Action() != models.ActionEndCall {
		t.Errorf("expected end_call, got %s", resp.Action())
	}
}

func TestSweepIdle(t *testing.T) {
	saver := &recordingSaver{}
	f, clock := newTestFlow(t, WithRecordSaver(saver))
	mustStart(t, f, "old")
	clock.Advance(20 * time.Minute)
	mustStart(t, f, "fresh")

	if n := f.SweepIdle(15 * time.Minute); n != 1 {
		t.Fatalf("expected 1 swept conversation, got %d", n)
	}
	if _, ok := f.Registry().Snapshot("old"); ok {
		t.Error("idle conversation still registered")
	}
	if _, ok := f.Registry().Snapshot("fresh"); !ok {
		t.Error("active conversation was swept")
	}
	if len(saver.records) != 1 || saver.records[0].CallID != "old" {
		t.Errorf("unexpected saved records: %+v", saver.records)
	}
}

func TestConcurrentConversationsIsolated(t *testing.T) {
	f, _ := newTestFlow(t, WithAnalyzer(&failingAnalyzer{}))
	ctx := context.Background()
	const calls = 20
	for i := 0; i < calls; i++ {
		mustStart(t, f, fmt.Sprintf("CA%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("CA%d", i)
			input := "I have a cough"
			if i%2 == 0 {
				input = "I have a runny nose"
			}
			for _, in := range []string{"hi", input, "a day", "no"} {
				f.ProcessUserInput(ctx, id, in)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		snap, ok := f.Registry().Snapshot(fmt.Sprintf("CA%d", i))
		if !ok {
			t.Fatalf("conversation %d missing", i)
		}
		if snap.InteractionCount != 4 {
			t.Errorf("conversation %d: expected 4 interactions, got %d", i, snap.InteractionCount)
		}
		want := "cough"
		if i%2 == 0 {
			want = "runny nose"
		}
		if len(snap.Symptoms) != 1 || snap.Symptoms[0] != want {
			t.Errorf("conversation %d: symptoms leaked: %v", i, snap.Symptoms)
		}
	}
}

func TestConcurrentTurnsOnSameCallSerialized(t *testing.T) {
	f, _ := newTestFlow(t)
	mustStart(t, f, "CA1")
	ctx := context.Background()
	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ProcessUserInput(ctx, "CA1", "hello")
			f.GetConversationSummary("CA1")
		}()
	}
	wg.Wait()
	snap, _ := f.Registry().Snapshot("CA1")
	if snap.InteractionCount != turns {
		t.Errorf("expected %d interactions, got %d", turns, snap.InteractionCount)
	}
}

func TestGreetingMentionsEmergencyNumber(t *testing.T) {
	f, _ := newTestFlow(t, WithEmergencyNumber("112"))
	if !strings.Contains(f.Greeting(), "112") {
		t.Errorf("greeting missing emergency number: %q", f.Greeting())
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
