// Package testutil provides common test utilities and helpers for MedTriage tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medtriage/MedTriage/internal/models"
	"github.com/medtriage/MedTriage/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// ResultMap returns the "result" object of a decoded API response.
func ResultMap(t testing.TB, response map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response result is not an object: %#v", response["result"])
	}
	return result
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateFormRequest builds a POST with a urlencoded body, shaped like a Twilio webhook.
func CreateFormRequest(t testing.TB, target string, fields map[string]string) *http.Request {
	t.Helper()
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create form request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// AssertRecordCount validates the number of triage records in the store.
func AssertRecordCount(t testing.TB, st store.Store, expected int, context string) {
	t.Helper()
	records, err := st.ListTriageRecords(store.DefaultListLimit)
	if err != nil {
		t.Fatalf("%s: failed to list records: %v", context, err)
	}
	if len(records) != expected {
		t.Errorf("%s: expected %d records, got %d", context, expected, len(records))
	}
}

// SeedTriageRecords stores n finished records, one minute apart, and returns them oldest first.
func SeedTriageRecords(t testing.TB, st store.Store, n int) []models.TriageRecord {
	t.Helper()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seeded := make([]models.TriageRecord, 0, n)
	for i := 0; i < n; i++ {
		ended := base.Add(time.Duration(i) * time.Minute)
		rec := models.TriageRecord{
			ConversationID:   fmt.Sprintf("seed-%d", i),
			CallID:           fmt.Sprintf("CA%04d", i),
			FinalState:       models.StateRecommendation,
			Symptoms:         []string{"cough"},
			Urgency:          models.UrgencyRoutine,
			Confidence:       0.35,
			Method:           models.AnalysisMethodGraph,
			InteractionCount: 3,
			StartedAt:        ended.Add(-2 * time.Minute),
			EndedAt:          ended,
		}
		if err := st.SaveTriageRecord(rec); err != nil {
			t.Fatalf("failed to seed record %d: %v", i, err)
		}
		seeded = append(seeded, rec)
	}
	return seeded
}

// StubAnalyzer returns a fixed result and counts calls. It satisfies the
// analyzer interface of the triage flow.
type StubAnalyzer struct {
	mu      sync.Mutex
	Result  models.AnalysisResult
	Err     error
	calls   int
	lastReq models.AnalysisRequest
}

func (s *StubAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if s.Err != nil {
		return models.AnalysisResult{}, s.Err
	}
	return s.Result, nil
}

// Calls reports how many times Analyze ran.
func (s *StubAnalyzer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastRequest returns the most recent request passed to Analyze.
func (s *StubAnalyzer) LastRequest() models.AnalysisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
