package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/medtriage/MedTriage/internal/models"
)

// twilioSignatureMiddleware rejects webhook requests whose X-Twilio-Signature
// does not match. It is a no-op when no validator is configured.
func (s *Server) twilioSignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.twilioSignatureMiddleware: failed to parse form", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := s.webhookURL(r)
		if !s.validator.Validate(url, params, r.Header.Get(signatureHeader)) {
			slog.Warn("Server.twilioSignatureMiddleware: invalid signature", "path", r.URL.Path, "url", url)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid Twilio signature"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// webhookURL rebuilds the URL Twilio signed. A configured public base URL
// wins over what the request itself says.
func (s *Server) webhookURL(r *http.Request) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get(forwardedProtoHeader); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
