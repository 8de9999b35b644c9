package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/medtriage/MedTriage/internal/models"
	"github.com/medtriage/MedTriage/internal/store"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"analyzer_enabled":     s.analyzerOn,
		"store":                store.TypeOf(s.st),
		"conditions":           len(s.catalog.Conditions),
		"emergency_triggers":   len(s.catalog.EmergencyTriggers),
		"active_conversations": s.flow.Registry().Len(),
		"call_lookup_enabled":  s.calls != nil,
	}))
}

// listTriageRecordsHandler returns the newest triage records. ?limit bounds the count.
func (s *Server) listTriageRecordsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecordsListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	records, err := s.st.ListTriageRecords(limit)
	if err != nil {
		slog.Error("Server.listTriageRecordsHandler: failed to list records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list triage records"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) getTriageRecordHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	rec, err := s.st.GetTriageRecord(id)
	if errors.Is(err, models.ErrRecordNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.getTriageRecordHandler: failed to load record", "conversationID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load triage record"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// getCallHandler looks a call up through the Twilio REST API.
func (s *Server) getCallHandler(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Twilio call lookup is not configured"))
		return
	}
	sid := chi.URLParam(r, "callSid")
	info, err := s.calls.FetchCall(r.Context(), sid)
	if err != nil {
		slog.Error("Server.getCallHandler: call lookup failed", "callSid", sid, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to fetch call"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(info))
}
