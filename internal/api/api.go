// Package api provides the HTTP server for MedTriage.
//
// It exposes the Twilio voice webhooks that drive a triage call, a JSON API
// for running conversations without telephony, and read access to persisted
// triage records. Run wires the catalog, store, analyzer, Twilio client,
// state machine and maintenance scheduler together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medtriage/MedTriage/internal/flow"
	"github.com/medtriage/MedTriage/internal/genai"
	"github.com/medtriage/MedTriage/internal/knowledge"
	"github.com/medtriage/MedTriage/internal/scheduler"
	"github.com/medtriage/MedTriage/internal/store"
	"github.com/medtriage/MedTriage/internal/twiliovoice"
)

// Server defaults.
const (
	DefaultAddr             = ":8080"
	DefaultConversationTTL  = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultIdleTimeout      = 120 * time.Second
	idleSweepJobName        = "idle-conversation-sweep"
	maxRequestBodyBytes     = 64 << 10
	signatureHeader         = "X-Twilio-Signature"
	forwardedProtoHeader    = "X-Forwarded-Proto"
	defaultRecordsListLimit = 50
)

// Opts holds configuration for the API server and the components Run builds.
type Opts struct {
	Addr                  string
	PublicBaseURL         string
	ValidateSignature     bool
	CatalogFile           string
	AnalyzerTimeout       time.Duration
	EmergencyNumber       string
	SpeechConfidenceFloor float64
	ConversationTTL       time.Duration
	SweepInterval         time.Duration
	Voice                 string
	Language              string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicBaseURL sets the externally visible base URL, used for TwiML
// action URLs and signature validation behind proxies.
func WithPublicBaseURL(url string) Option {
	return func(o *Opts) { o.PublicBaseURL = strings.TrimRight(url, "/") }
}

// WithSignatureValidation rejects voice webhooks without a valid Twilio signature.
func WithSignatureValidation(enabled bool) Option {
	return func(o *Opts) { o.ValidateSignature = enabled }
}

// WithCatalogFile loads the triage catalog from path instead of the embedded default.
func WithCatalogFile(path string) Option {
	return func(o *Opts) { o.CatalogFile = path }
}

// WithAnalyzerTimeout bounds each AI analyzer call.
func WithAnalyzerTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AnalyzerTimeout = d }
}

// WithEmergencyNumber sets the number callers are told to dial.
func WithEmergencyNumber(n string) Option {
	return func(o *Opts) { o.EmergencyNumber = n }
}

// WithSpeechConfidenceFloor sets the minimum accepted speech recognition confidence.
func WithSpeechConfidenceFloor(f float64) Option {
	return func(o *Opts) { o.SpeechConfidenceFloor = f }
}

// WithConversationTTL ends conversations idle for longer than ttl.
func WithConversationTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.ConversationTTL = ttl }
}

// WithSweepInterval sets how often idle conversations are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithVoice sets the text-to-speech voice used in TwiML.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithLanguage sets the speech language used in TwiML.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

func defaultOpts() Opts {
	return Opts{
		Addr:                  DefaultAddr,
		SpeechConfidenceFloor: flow.DefaultSpeechConfidenceFloor,
		EmergencyNumber:       flow.DefaultEmergencyNumber,
		AnalyzerTimeout:       flow.DefaultAnalyzerTimeout,
		ConversationTTL:       DefaultConversationTTL,
		SweepInterval:         DefaultSweepInterval,
	}
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	flow          *flow.TriageFlow
	st            store.Store
	catalog       *knowledge.Catalog
	renderer      *twiliovoice.Renderer
	calls         twiliovoice.CallLookup
	validator     *twiliovoice.SignatureValidator
	publicBaseURL string
	analyzerOn    bool
}

// NewServer builds a server. calls and validator may be nil: call lookup then
// answers 503 and webhook signatures are not checked.
func NewServer(tf *flow.TriageFlow, st store.Store, catalog *knowledge.Catalog, calls twiliovoice.CallLookup, validator *twiliovoice.SignatureValidator, opts ...Option) *Server {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	gatherURL := twiliovoice.DefaultGatherPath
	if cfg.PublicBaseURL != "" {
		gatherURL = cfg.PublicBaseURL + twiliovoice.DefaultGatherPath
	}
	renderOpts := []twiliovoice.RendererOption{twiliovoice.WithGatherURL(gatherURL)}
	if cfg.Voice != "" {
		renderOpts = append(renderOpts, twiliovoice.WithVoice(cfg.Voice))
	}
	if cfg.Language != "" {
		renderOpts = append(renderOpts, twiliovoice.WithLanguage(cfg.Language))
	}
	return &Server{
		flow:          tf,
		st:            st,
		catalog:       catalog,
		renderer:      twiliovoice.NewRenderer(renderOpts...),
		calls:         calls,
		validator:     validator,
		publicBaseURL: cfg.PublicBaseURL,
	}
}

// withAnalyzer marks the AI analyzer as configured for health reporting.
func (s *Server) withAnalyzer(on bool) *Server {
	s.analyzerOn = on
	return s
}

// Router builds the chi router with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxRequestBodyBytes))

	r.Get("/health", s.healthHandler)

	r.Route("/voice", func(r chi.Router) {
		r.Use(s.twilioSignatureMiddleware)
		r.Post("/incoming", s.voiceIncomingHandler)
		r.Post("/gather", s.voiceGatherHandler)
		r.Post("/status", s.voiceStatusHandler)
	})

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", s.startConversationHandler)
		r.Post("/{callID}/turns", s.conversationTurnHandler)
		r.Get("/{callID}/summary", s.conversationSummaryHandler)
		r.Delete("/{callID}", s.endConversationHandler)
	})

	r.Get("/triage/records", s.listTriageRecordsHandler)
	r.Get("/triage/records/{conversationID}", s.getTriageRecordHandler)
	r.Get("/calls/{callSid}", s.getCallHandler)
	return r
}

// Run builds every component from the given options and serves until SIGINT
// or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, voiceOpts []twiliovoice.Option, apiOpts []Option) error {
	cfg := defaultOpts()
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	catalog, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	slog.Info("Catalog loaded", "conditions", len(catalog.Conditions), "triggers", len(catalog.EmergencyTriggers), "source", catalogSource(cfg.CatalogFile))

	st, err := store.Open(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()
	slog.Info("Store opened", "type", store.TypeOf(st))

	flowOpts := []flow.Option{
		flow.WithAnalyzerTimeout(cfg.AnalyzerTimeout),
		flow.WithEmergencyNumber(cfg.EmergencyNumber),
		flow.WithSpeechConfidenceFloor(cfg.SpeechConfidenceFloor),
		flow.WithRecordSaver(st),
	}
	analyzerOn := false
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI client not configured, analysis will use the condition graph", "error", err)
	} else if analyzer, err := genai.NewTriageAnalyzer(gaClient, catalog); err != nil {
		slog.Error("Failed to create triage analyzer, analysis will use the condition graph", "error", err)
	} else {
		flowOpts = append(flowOpts, flow.WithAnalyzer(analyzer))
		analyzerOn = true
		slog.Info("AI analyzer enabled", "model", gaClient.Model(), "timeout", cfg.AnalyzerTimeout)
	}
	tf := flow.NewTriageFlow(catalog, flowOpts...)

	var calls twiliovoice.CallLookup
	var validator *twiliovoice.SignatureValidator
	if voiceClient, err := twiliovoice.NewClient(voiceOpts...); err != nil {
		slog.Warn("Twilio client not configured, call lookup disabled", "error", err)
		if cfg.ValidateSignature {
			return fmt.Errorf("signature validation requires Twilio credentials: %w", err)
		}
	} else {
		calls = voiceClient
		if cfg.ValidateSignature {
			validator = voiceClient.Validator()
		}
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if cfg.ConversationTTL > 0 {
		ttl := cfg.ConversationTTL
		if err := sched.Every(cfg.SweepInterval, idleSweepJobName, func() { tf.SweepIdle(ttl) }); err != nil {
			return err
		}
	}

	srv := NewServer(tf, st, catalog, calls, validator, apiOpts...).withAnalyzer(analyzerOn)
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout + cfg.AnalyzerTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MedTriage API listening", "addr", cfg.Addr, "signature_validation", validator != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down MedTriage API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	for _, callID := range tf.Registry().CallIDs() {
		tf.EndConversation(callID)
	}
	return nil
}

func loadCatalog(path string) (*knowledge.Catalog, error) {
	if path == "" {
		return knowledge.Default()
	}
	return knowledge.LoadFile(path)
}

func catalogSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
