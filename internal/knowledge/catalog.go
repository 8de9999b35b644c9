// Package knowledge holds the static triage reference data for MedTriage and
// the pure functions that read it: symptom extraction, emergency trigger
// matching, condition scoring and follow-up question selection.
//
// The catalog is loaded once at process start from YAML. Every record is
// validated at load time, so lookups never encounter a missing field.
package knowledge

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/medtriage/MedTriage/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ConfidenceThresholds grade how strongly a score supports a condition.
type ConfidenceThresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
	Low    float64 `yaml:"low" json:"low"`
}

// Level labels a score against the thresholds.
func (t ConfidenceThresholds) Level(score float64) string {
	switch {
	case score >= t.High:
		return "high"
	case score >= t.Medium:
		return "medium"
	case score >= t.Low:
		return "low"
	default:
		return "weak"
	}
}

// Condition is an immutable catalog entry.
type Condition struct {
	ID                string               `yaml:"id" json:"id"`
	Name              string               `yaml:"name" json:"name"`
	PrimarySymptoms   []string             `yaml:"primary_symptoms" json:"primary_symptoms"`
	SecondarySymptoms []string             `yaml:"secondary_symptoms" json:"secondary_symptoms"`
	RiskFactors       []string             `yaml:"risk_factors" json:"risk_factors"`
	Urgency           models.Urgency       `yaml:"urgency" json:"urgency"`
	EmergencyWeight   float64              `yaml:"emergency_weight" json:"emergency_weight"`
	FollowUpQuestions []string             `yaml:"follow_up_questions" json:"follow_up_questions"`
	Thresholds        ConfidenceThresholds `yaml:"confidence_thresholds" json:"confidence_thresholds"`
}

// DisplayName returns the condition id in prose form, e.g. "common cold".
func (c Condition) DisplayName() string {
	return strings.ReplaceAll(c.ID, "_", " ")
}

// EmergencyTrigger is a named rule that forces the emergency tier when it matches.
type EmergencyTrigger struct {
	Name                 string   `yaml:"name" json:"name"`
	RequiredSymptoms     []string `yaml:"required_symptoms" json:"required_symptoms"`
	AdditionalIndicators []string `yaml:"additional_indicators" json:"additional_indicators"`
	MinIndicators        int      `yaml:"min_indicators" json:"min_indicators"`
	Action               string   `yaml:"action" json:"action"`
	Confidence           float64  `yaml:"confidence" json:"confidence"`
}

// SymptomKeyword maps trigger phrases to a normalized symptom tag.
type SymptomKeyword struct {
	Tag     string   `yaml:"tag" json:"tag"`
	Phrases []string `yaml:"phrases" json:"phrases"`
}

// Catalog is the full set of triage reference tables.
type Catalog struct {
	Conditions                []Condition        `yaml:"conditions"`
	EmergencyTriggers         []EmergencyTrigger `yaml:"emergency_triggers"`
	SymptomKeywords           []SymptomKeyword   `yaml:"symptom_keywords"`
	GenericQuestions          []string           `yaml:"generic_questions"`
	FallbackEmergencyKeywords []string           `yaml:"fallback_emergency_keywords"`
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalogYAML))
}

// LoadFile loads and validates a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file %s: %w", path, err)
	}
	defer f.Close()
	slog.Debug("knowledge.LoadFile: loading catalog", "path", path)
	return Load(f)
}

// Load decodes a catalog from r. Unknown fields are rejected and every record
// is validated before the catalog is returned.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", models.ErrInvalidCatalog)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCatalog, err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("knowledge.Load: catalog loaded",
		"conditions", len(c.Conditions),
		"triggers", len(c.EmergencyTriggers),
		"symptom_tags", len(c.SymptomKeywords),
		"generic_questions", len(c.GenericQuestions))
	return &c, nil
}

// normalize lower-cases every matchable string once so matching never has to.
func (c *Catalog) normalize() {
	for i := range c.Conditions {
		cond := &c.Conditions[i]
		cond.PrimarySymptoms = lowerAll(cond.PrimarySymptoms)
		cond.SecondarySymptoms = lowerAll(cond.SecondarySymptoms)
		cond.Urgency = models.Urgency(strings.ToLower(strings.TrimSpace(string(cond.Urgency))))
	}
	for i := range c.EmergencyTriggers {
		tr := &c.EmergencyTriggers[i]
		tr.RequiredSymptoms = lowerAll(tr.RequiredSymptoms)
		tr.AdditionalIndicators = lowerAll(tr.AdditionalIndicators)
	}
	for i := range c.SymptomKeywords {
		kw := &c.SymptomKeywords[i]
		kw.Tag = strings.ToLower(strings.TrimSpace(kw.Tag))
		kw.Phrases = lowerAll(kw.Phrases)
	}
	c.FallbackEmergencyKeywords = lowerAll(c.FallbackEmergencyKeywords)
}

// Validate checks every record for missing or inconsistent fields.
func (c *Catalog) Validate() error {
	if len(c.Conditions) == 0 {
		return fmt.Errorf("%w: no conditions defined", models.ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Conditions))
	for i, cond := range c.Conditions {
		if cond.ID == "" || cond.Name == "" {
			return fmt.Errorf("%w: condition %d missing id or name", models.ErrInvalidCatalog, i)
		}
		if seen[cond.ID] {
			return fmt.Errorf("%w: duplicate condition id %q", models.ErrInvalidCatalog, cond.ID)
		}
		seen[cond.ID] = true
		if !cond.Urgency.IsValid() {
			return fmt.Errorf("%w: condition %q has invalid urgency %q", models.ErrInvalidCatalog, cond.ID, cond.Urgency)
		}
		if cond.EmergencyWeight < 0 {
			return fmt.Errorf("%w: condition %q has negative emergency weight", models.ErrInvalidCatalog, cond.ID)
		}
		th := cond.Thresholds
		if th.Low < 0 || th.High > 1 || th.Low > th.Medium || th.Medium > th.High {
			return fmt.Errorf("%w: condition %q thresholds must satisfy 0 <= low <= medium <= high <= 1", models.ErrInvalidCatalog, cond.ID)
		}
		if len(cond.FollowUpQuestions) == 0 {
			return fmt.Errorf("%w: condition %q has no follow-up questions", models.ErrInvalidCatalog, cond.ID)
		}
	}

	for i, tr := range c.EmergencyTriggers {
		if tr.Name == "" || strings.TrimSpace(tr.Action) == "" {
			return fmt.Errorf("%w: trigger %d missing name or action", models.ErrInvalidCatalog, i)
		}
		if tr.Confidence <= 0 || tr.Confidence > 1 {
			return fmt.Errorf("%w: trigger %q confidence must be in (0,1]", models.ErrInvalidCatalog, tr.Name)
		}
		if tr.MinIndicators < 0 || tr.MinIndicators > len(tr.AdditionalIndicators) {
			return fmt.Errorf("%w: trigger %q min_indicators out of range", models.ErrInvalidCatalog, tr.Name)
		}
		if len(tr.RequiredSymptoms) == 0 && len(tr.AdditionalIndicators) == 0 {
			return fmt.Errorf("%w: trigger %q matches everything", models.ErrInvalidCatalog, tr.Name)
		}
	}

	for i, kw := range c.SymptomKeywords {
		if kw.Tag == "" || len(kw.Phrases) == 0 {
			return fmt.Errorf("%w: symptom keyword %d missing tag or phrases", models.ErrInvalidCatalog, i)
		}
	}
	if len(c.GenericQuestions) == 0 {
		return fmt.Errorf("%w: at least one generic question is required", models.ErrInvalidCatalog)
	}
	if len(c.FallbackEmergencyKeywords) == 0 {
		return fmt.Errorf("%w: fallback emergency keywords are required", models.ErrInvalidCatalog)
	}
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
