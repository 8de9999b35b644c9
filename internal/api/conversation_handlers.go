package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medtriage/MedTriage/internal/flow"
	"github.com/medtriage/MedTriage/internal/models"
)

// startConversationHandler opens a conversation without telephony.
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	var opts []flow.ConversationOption
	if len(req.PatientInfo) > 0 {
		opts = append(opts, flow.WithPatientInfo(req.PatientInfo))
	}
	conv, err := s.flow.StartConversation(req.CallID, req.CallerID, opts...)
	if err != nil {
		slog.Error("Server.startConversationHandler: failed to start conversation", "callID", req.CallID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start conversation"))
		return
	}

	writeJSONResponse(w, http.StatusCreated, models.Created("Conversation started", map[string]interface{}{
		"conversation_id": conv.ID,
		"call_id":         conv.CallID,
		"state":           conv.State,
		"message":         s.flow.Greeting(),
	}))
}

// conversationTurnHandler processes one line of caller input.
func (s *Server) conversationTurnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	callID := chi.URLParam(r, "callID")

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.conversationTurnHandler: failed to decode JSON", "callID", callID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	payload := models.PayloadOf(s.flow.ProcessUserInput(r.Context(), callID, req.Text))
	if payload.Error == models.ErrConversationNotFound.Error() {
		writeJSONResponse(w, http.StatusNotFound, models.Error(payload.Error))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(payload))
}

func (s *Server) conversationSummaryHandler(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	summary, ok := s.flow.GetConversationSummary(callID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrConversationNotFound.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

// endConversationHandler ends the conversation and persists its triage record.
func (s *Server) endConversationHandler(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	summary, ok := s.flow.EndConversation(callID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrConversationNotFound.Error()))
		return
	}
	slog.Info("Server.endConversationHandler: conversation ended", "callID", callID, "final_state", summary.FinalState)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation ended", summary))
}
