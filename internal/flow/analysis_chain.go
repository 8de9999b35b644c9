package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/medtriage/MedTriage/internal/knowledge"
	"github.com/medtriage/MedTriage/internal/models"
)

// DefaultAnalyzerTimeout bounds a single external analyzer call.
const DefaultAnalyzerTimeout = 10 * time.Second

// fallbackConfidence is the fixed confidence of the keyword fallback tier.
const fallbackConfidence = 0.3

// maxDifferential caps the differential considerations of a graph result.
const maxDifferential = 3

// Analyzer is an external triage analyzer, typically backed by a language model.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error)
}

// AnalysisAttempt is one tier of the analysis chain.
type AnalysisAttempt struct {
	Method models.AnalysisMethod
	Run    func(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error)
}

// AnalysisChain tries each attempt in order and falls back to a final tier
// that cannot fail.
type AnalysisChain struct {
	attempts []AnalysisAttempt
	final    func(req models.AnalysisRequest) models.AnalysisResult
	now      func() time.Time
}

// NewAnalysisChain builds the ai -> graph -> fallback chain. A nil analyzer
// makes the ai tier report unavailable on every call.
func NewAnalysisChain(catalog *knowledge.Catalog, analyzer Analyzer, timeout time.Duration, emergencyNumber string) *AnalysisChain {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	recs := newRecommendations(emergencyNumber)
	return &AnalysisChain{
		attempts: []AnalysisAttempt{
			aiAttempt(analyzer, timeout),
			graphAttempt(knowledge.NewScorer(catalog), recs),
		},
		final: keywordFallback(catalog, recs),
		now:   time.Now,
	}
}

// Run returns the first successful tier's result. It never fails.
func (c *AnalysisChain) Run(ctx context.Context, req models.AnalysisRequest) models.AnalysisResult {
	for _, attempt := range c.attempts {
		res, err := runAttempt(ctx, attempt, req)
		if err == nil {
			err = res.Validate()
		}
		if err != nil {
			slog.Warn("AnalysisChain.Run: tier unavailable, falling back", "method", attempt.Method, "conversationID", req.ConversationID, "error", err)
			continue
		}
		res.Method = attempt.Method
		if res.Timestamp.IsZero() {
			res.Timestamp = c.now()
		}
		slog.Info("AnalysisChain.Run: analysis complete", "method", res.Method, "urgency", res.Urgency, "confidence", res.Confidence, "conversationID", req.ConversationID)
		return res
	}
	res := c.final(req)
	res.Method = models.AnalysisMethodFallback
	if res.Timestamp.IsZero() {
		res.Timestamp = c.now()
	}
	slog.Info("AnalysisChain.Run: keyword fallback used", "urgency", res.Urgency, "conversationID", req.ConversationID)
	return res
}

// runAttempt converts a panicking tier into an error.
func runAttempt(ctx context.Context, a AnalysisAttempt, req models.AnalysisRequest) (res models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s tier panicked: %v", models.ErrAnalysisUnavailable, a.Method, r)
		}
	}()
	return a.Run(ctx, req)
}

// aiAttempt calls analyzer under timeout. The deadline holds even if the
// analyzer ignores its context.
func aiAttempt(analyzer Analyzer, timeout time.Duration) AnalysisAttempt {
	return AnalysisAttempt{
		Method: models.AnalysisMethodAI,
		Run: func(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
			if analyzer == nil {
				return models.AnalysisResult{}, fmt.Errorf("%w: no analyzer configured", models.ErrAnalysisUnavailable)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				res models.AnalysisResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: fmt.Errorf("%w: analyzer panicked: %v", models.ErrAnalysisUnavailable, r)}
					}
				}()
				res, err := analyzer.Analyze(ctx, req)
				done <- outcome{res: res, err: err}
			}()

			select {
			case out := <-done:
				if out.err != nil && !errors.Is(out.err, models.ErrAnalysisUnavailable) {
					out.err = fmt.Errorf("%w: %v", models.ErrAnalysisUnavailable, out.err)
				}
				return out.res, out.err
			case <-ctx.Done():
				return models.AnalysisResult{}, fmt.Errorf("%w: %v", models.ErrAnalysisUnavailable, ctx.Err())
			}
		},
	}
}

// graphAttempt scores the catalog and maps the best condition to a result.
func graphAttempt(scorer *knowledge.Scorer, recs recommendations) AnalysisAttempt {
	return AnalysisAttempt{
		Method: models.AnalysisMethodGraph,
		Run: func(_ context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
			best, ok := scorer.Best(req.Symptoms)
			if !ok {
				return models.AnalysisResult{}, models.ErrNoConditionMatch
			}
			cond := best.Condition
			confidence := best.Score
			if confidence > 1 {
				confidence = 1
			}

			matched := best.Matched
			if len(matched) == 0 {
				matched = req.Symptoms
			}
			reasoning := []string{
				fmt.Sprintf("Your symptoms (%s) are consistent with %s", strings.Join(matched, ", "), cond.DisplayName()),
				fmt.Sprintf("This condition typically requires %s medical attention", cond.Urgency),
				fmt.Sprintf("Match confidence: %s (%s)", formatPercent(confidence), best.Level()),
			}

			ranked := scorer.Rank(req.Symptoms)
			// Higher emergency weight first so dangerous possibilities are named.
			sort.SliceStable(ranked, func(i, j int) bool {
				return ranked[i].Condition.EmergencyWeight > ranked[j].Condition.EmergencyWeight
			})
			var differential, redFlags []string
			for _, sc := range ranked {
				if len(differential) == maxDifferential {
					break
				}
				differential = append(differential, sc.Condition.DisplayName())
				if sc.Condition.Urgency == models.UrgencyEmergency && sc.Condition.ID != cond.ID {
					redFlags = append(redFlags, fmt.Sprintf("Symptoms overlap with %s; seek emergency care if they worsen", sc.Condition.DisplayName()))
				}
			}

			return models.AnalysisResult{
				Urgency:                    cond.Urgency,
				Recommendation:             recs.forUrgency(cond.Urgency),
				Reasoning:                  reasoning,
				Confidence:                 confidence,
				DifferentialConsiderations: differential,
				RedFlags:                   redFlags,
				Method:                     models.AnalysisMethodGraph,
			}, nil
		},
	}
}

// keywordFallback classifies by a narrow emergency keyword list over the
// symptoms and follow-up answers. It always produces a result.
func keywordFallback(catalog *knowledge.Catalog, recs recommendations) func(req models.AnalysisRequest) models.AnalysisResult {
	return func(req models.AnalysisRequest) models.AnalysisResult {
		var text strings.Builder
		text.WriteString(strings.Join(req.Symptoms, " "))
		for _, a := range req.FollowUpAnswers {
			text.WriteString(" ")
			text.WriteString(a.Answer)
		}

		urgency := models.UrgencyRoutine
		recommendation := "Contact your healthcare provider to discuss your symptoms."
		if catalog.HasFallbackEmergencyKeyword(text.String()) {
			urgency = models.UrgencyEmergency
			recommendation = recs.forUrgency(models.UrgencyEmergency)
		}
		return models.AnalysisResult{
			Urgency:                    urgency,
			Recommendation:             recommendation,
			Reasoning:                  []string{"Automated fallback analysis based on symptom keywords"},
			Confidence:                 fallbackConfidence,
			DifferentialConsiderations: []string{"Multiple conditions possible"},
			RedFlags:                   []string{"System analysis limited - recommend professional evaluation"},
			Method:                     models.AnalysisMethodFallback,
		}
	}
}

// recommendations holds the next-step text per urgency tier.
type recommendations map[models.Urgency]string

func newRecommendations(emergencyNumber string) recommendations {
	if emergencyNumber == "" {
		emergencyNumber = DefaultEmergencyNumber
	}
	return recommendations{
		models.UrgencyEmergency: "Seek immediate emergency medical attention. Call " + emergencyNumber + " or go to the nearest emergency room.",
		models.UrgencyUrgent:    "Contact your healthcare provider today or visit an urgent care center.",
		models.UrgencyRoutine:   "Schedule an appointment with your healthcare provider within the next few days.",
	}
}

func (r recommendations) forUrgency(u models.Urgency) string {
	if s, ok := r[u]; ok {
		return s
	}
	return r[models.UrgencyRoutine]
}
