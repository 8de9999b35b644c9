package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/medtriage/MedTriage/internal/flow"
)

// Twilio CallStatus values after which the call is over.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

const msgApplicationError = "We're sorry, we could not start your triage session. If this is an emergency, hang up and dial your local emergency number."

// voiceIncomingHandler answers a new call: it opens a conversation and greets the caller.
func (s *Server) voiceIncomingHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.voiceIncomingHandler: failed to parse form", "error", err)
		doc, err := s.renderer.Hangup(msgApplicationError)
		writeTwiMLResponse(w, doc, err)
		return
	}
	callSid := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	slog.Debug("Server.voiceIncomingHandler: incoming call", "callSid", callSid, "from_set", from != "")

	var opts []flow.ConversationOption
	if info := callerInfo(r); len(info) > 0 {
		opts = append(opts, flow.WithPatientInfo(info))
	}
	if _, err := s.flow.StartConversation(callSid, from, opts...); err != nil {
		slog.Warn("Server.voiceIncomingHandler: failed to start conversation", "callSid", callSid, "error", err)
		doc, err := s.renderer.Hangup(msgApplicationError)
		writeTwiMLResponse(w, doc, err)
		return
	}
	doc, err := s.renderer.Greeting(s.flow.Greeting())
	writeTwiMLResponse(w, doc, err)
}

// voiceGatherHandler feeds recognized speech into the conversation.
func (s *Server) voiceGatherHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.voiceGatherHandler: failed to parse form", "error", err)
		doc, err := s.renderer.Hangup(msgApplicationError)
		writeTwiMLResponse(w, doc, err)
		return
	}
	callSid := r.PostFormValue("CallSid")
	speech := r.PostFormValue("SpeechResult")
	confidence := parseConfidence(r.PostFormValue("Confidence"))
	slog.Debug("Server.voiceGatherHandler: speech received", "callSid", callSid, "confidence", confidence, "chars", len(speech))

	resp := s.flow.HandleTelephonyTurn(r.Context(), callSid, speech, confidence)
	doc, err := s.renderer.Render(resp)
	writeTwiMLResponse(w, doc, err)
}

// voiceStatusHandler ends the conversation once Twilio reports the call is over.
func (s *Server) voiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.voiceStatusHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	callSid := r.PostFormValue("CallSid")
	status := strings.ToLower(r.PostFormValue("CallStatus"))
	if !terminalCallStatuses[status] {
		slog.Debug("Server.voiceStatusHandler: non-terminal status", "callSid", callSid, "status", status)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if summary, ok := s.flow.EndConversation(callSid); ok {
		slog.Info("Server.voiceStatusHandler: call finished", "callSid", callSid, "status", status, "final_state", summary.FinalState, "duration", summary.Duration)
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseConfidence reads Twilio's Confidence field. Missing or malformed values count as 0.
func parseConfidence(raw string) float64 {
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// callerInfo keeps the caller location fields Twilio sends with a call.
func callerInfo(r *http.Request) map[string]string {
	info := map[string]string{}
	for field, key := range map[string]string{"FromCity": "city", "FromState": "state", "FromCountry": "country"} {
		if v := strings.TrimSpace(r.PostFormValue(field)); v != "" {
			info[key] = v
		}
	}
	return info
}
