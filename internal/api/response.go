// Package api provides HTTP response utilities for MedTriage.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/medtriage/MedTriage/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// fallbackTwiML keeps a caller from hearing silence when rendering fails.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>We're sorry, an application error occurred. If this is an emergency, hang up and dial your local emergency number.</Say><Hangup/></Response>`

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeTwiMLResponse writes a TwiML document. Twilio treats non-2xx answers as
// application errors, so render failures still answer 200 with fallbackTwiML.
func writeTwiMLResponse(w http.ResponseWriter, doc string, renderErr error) {
	if renderErr != nil {
		slog.Error("Server.writeTwiMLResponse: failed to render TwiML", "error", renderErr)
		doc = fallbackTwiML
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("Server.writeTwiMLResponse: failed to write TwiML response", "error", err)
	}
}
