package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medtriage/MedTriage/internal/models"
)

// triageRecordColumns is the shared column list for triage_records queries.
const triageRecordColumns = `conversation_id, call_id, caller_id, final_state, symptoms, emergency_detected,
	emergency_type, urgency, confidence, analysis_method, interaction_count, started_at, ended_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeSymptoms serializes symptoms as a JSON array; nil becomes "[]".
func encodeSymptoms(symptoms []string) (string, error) {
	if symptoms == nil {
		symptoms = []string{}
	}
	b, err := json.Marshal(symptoms)
	if err != nil {
		return "", fmt.Errorf("failed to encode symptoms: %w", err)
	}
	return string(b), nil
}

// triageRecordArgs returns insert arguments in triageRecordColumns order.
func triageRecordArgs(r models.TriageRecord) ([]interface{}, error) {
	symptoms, err := encodeSymptoms(r.Symptoms)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		r.ConversationID, r.CallID, nilIfEmpty(r.CallerID), string(r.FinalState), symptoms, r.EmergencyDetected,
		nilIfEmpty(r.EmergencyType), nilIfEmpty(string(r.Urgency)), r.Confidence, nilIfEmpty(string(r.Method)),
		r.InteractionCount, r.StartedAt.UTC(), r.EndedAt.UTC(),
	}, nil
}

// scanTriageRecord scans one row selected with triageRecordColumns.
func scanTriageRecord(row rowScanner) (models.TriageRecord, error) {
	var r models.TriageRecord
	var callerID, emergencyType, urgency, method sql.NullString
	var finalState string
	var symptoms []byte
	var startedAt, endedAt time.Time
	err := row.Scan(
		&r.ConversationID, &r.CallID, &callerID, &finalState, &symptoms, &r.EmergencyDetected,
		&emergencyType, &urgency, &r.Confidence, &method, &r.InteractionCount, &startedAt, &endedAt,
	)
	if err != nil {
		return r, err
	}
	r.CallerID = callerID.String
	r.FinalState = models.ConversationState(finalState)
	r.EmergencyType = emergencyType.String
	r.Urgency = models.Urgency(urgency.String)
	r.Method = models.AnalysisMethod(method.String)
	r.StartedAt = startedAt.UTC()
	r.EndedAt = endedAt.UTC()
	r.Symptoms = []string{}
	if len(symptoms) > 0 {
		if err := json.Unmarshal(symptoms, &r.Symptoms); err != nil {
			return r, fmt.Errorf("failed to decode symptoms for %s: %w", r.ConversationID, err)
		}
	}
	return r, nil
}

// collectTriageRecords drains rows into a slice.
func collectTriageRecords(rows *sql.Rows) ([]models.TriageRecord, error) {
	defer rows.Close()
	records := []models.TriageRecord{}
	for rows.Next() {
		r, err := scanTriageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan triage record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triage record rows: %w", err)
	}
	return records, nil
}
