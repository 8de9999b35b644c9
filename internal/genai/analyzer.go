package genai

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/medtriage/MedTriage/internal/knowledge"
	"github.com/medtriage/MedTriage/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed analysis_schema.json
var analysisSchemaJSON []byte

// maxContextConditions limits how many catalog conditions are described to the model.
const maxContextConditions = 5

const triageSystemPrompt = "You are a medical triage assistant. Provide structured, safe medical triage guidance. " +
	"You are NOT diagnosing, only helping with triage decisions. Always recommend professional medical evaluation. " +
	"Respond with a single JSON object and nothing else."

// TriageAnalyzer asks the model for a triage assessment and validates the reply.
type TriageAnalyzer struct {
	client *Client
	scorer *knowledge.Scorer
	schema *gojsonschema.Schema
}

// NewTriageAnalyzer builds an analyzer that grounds prompts in the catalog.
func NewTriageAnalyzer(client *Client, catalog *knowledge.Catalog) (*TriageAnalyzer, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(analysisSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile analysis schema: %w", err)
	}
	return &TriageAnalyzer{client: client, scorer: knowledge.NewScorer(catalog), schema: schema}, nil
}

// assessment mirrors analysis_schema.json.
type assessment struct {
	Urgency                    string   `json:"urgency"`
	Recommendation             string   `json:"recommendation"`
	Reasoning                  []string `json:"reasoning"`
	Confidence                 float64  `json:"confidence"`
	DifferentialConsiderations []string `json:"differential_considerations"`
	RedFlags                   []string `json:"red_flags"`
}

// Analyze returns an AI-tagged result. Transport failures, empty replies and
// payloads that fail schema validation all wrap models.ErrAnalysisUnavailable.
func (a *TriageAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	slog.Debug("TriageAnalyzer.Analyze: requesting assessment", "conversationID", req.ConversationID, "symptoms", req.Symptoms)

	raw, err := a.client.GenerateJSON(ctx, triageSystemPrompt, a.buildPrompt(req))
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", models.ErrAnalysisUnavailable, err)
	}

	result, err := a.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		slog.Warn("TriageAnalyzer.Analyze: response is not valid JSON", "conversationID", req.ConversationID, "error", err)
		return models.AnalysisResult{}, fmt.Errorf("%w: malformed response: %v", models.ErrAnalysisUnavailable, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		slog.Warn("TriageAnalyzer.Analyze: response failed schema validation", "conversationID", req.ConversationID, "errors", problems)
		return models.AnalysisResult{}, fmt.Errorf("%w: schema violation: %s", models.ErrAnalysisUnavailable, strings.Join(problems, "; "))
	}

	var out assessment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: decode: %v", models.ErrAnalysisUnavailable, err)
	}
	urgency, err := models.ParseUrgency(out.Urgency)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", models.ErrAnalysisUnavailable, err)
	}

	res := models.AnalysisResult{
		Urgency:                    urgency,
		Recommendation:             strings.TrimSpace(out.Recommendation),
		Reasoning:                  out.Reasoning,
		Confidence:                 out.Confidence,
		DifferentialConsiderations: out.DifferentialConsiderations,
		RedFlags:                   out.RedFlags,
		Method:                     models.AnalysisMethodAI,
		Timestamp:                  time.Now(),
	}
	if err := res.Validate(); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", models.ErrAnalysisUnavailable, err)
	}
	slog.Info("TriageAnalyzer.Analyze: assessment received", "conversationID", req.ConversationID, "urgency", res.Urgency, "confidence", res.Confidence)
	return res, nil
}

func (a *TriageAnalyzer) buildPrompt(req models.AnalysisRequest) string {
	var b strings.Builder
	b.WriteString("Based on the following symptoms and information, provide a triage assessment.\n\n")
	fmt.Fprintf(&b, "Symptoms: %s\n", orNotProvided(strings.Join(req.Symptoms, ", ")))
	fmt.Fprintf(&b, "Patient Info: %s\n", orNotProvided(formatPatientInfo(req.PatientInfo)))
	fmt.Fprintf(&b, "Follow-up Answers: %s\n\n", orNotProvided(formatAnswers(req.FollowUpAnswers)))

	b.WriteString("Relevant medical conditions to consider:\n")
	overlapping := a.scorer.Overlapping(req.Symptoms)
	if len(overlapping) > maxContextConditions {
		overlapping = overlapping[:maxContextConditions]
	}
	for _, c := range overlapping {
		fmt.Fprintf(&b, "- %s (urgency: %s; key symptoms: %s)\n", c.DisplayName(), c.Urgency, strings.Join(c.PrimarySymptoms, ", "))
	}

	b.WriteString(`
Provide your assessment as JSON with these fields:
{"urgency": "emergency|urgent|routine", "recommendation": "clear next steps", "reasoning": ["reason"], "confidence": 0.0-1.0, "differential_considerations": ["condition"], "red_flags": ["flag"] or null}

Guidelines:
- "emergency": immediate medical attention needed (emergency services or ER)
- "urgent": same-day medical care needed
- "routine": can wait for a regular appointment
- Always err on the side of caution
`)
	return b.String()
}

func formatPatientInfo(info map[string]string) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+info[k])
	}
	return strings.Join(parts, ", ")
}

func formatAnswers(answers []models.FollowUpAnswer) string {
	parts := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.Question != "" {
			parts = append(parts, fmt.Sprintf("%q -> %q", a.Question, a.Answer))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %q", a.Slot, a.Answer))
		}
	}
	return strings.Join(parts, "; ")
}

func orNotProvided(s string) string {
	if s == "" {
		return "Not provided"
	}
	return s
}
