package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/medtriage/MedTriage/internal/api"
	"github.com/medtriage/MedTriage/internal/flow"
	"github.com/medtriage/MedTriage/internal/genai"
	"github.com/medtriage/MedTriage/internal/lockfile"
	"github.com/medtriage/MedTriage/internal/store"
	"github.com/medtriage/MedTriage/internal/twiliovoice"
	"github.com/medtriage/MedTriage/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MedTriage state data
	DefaultStateDir = "/var/lib/medtriage"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "medtriage.db"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := acquireStateLock(flags)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	voiceOpts := buildVoiceOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping MedTriage with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "voice", len(voiceOpts), "api", len(apiOpts))
	runErr := api.Run(storeOpts, genaiOpts, voiceOpts, apiOpts)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("MedTriage failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("MedTriage exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel              string
	StateDir              string
	DatabaseURL           string
	APIAddr               string
	PublicBaseURL         string
	OpenAIKey             string
	OpenAIModel           string
	OpenAIBaseURL         string
	OpenAIMaxTokens       int
	AnalyzerTimeout       time.Duration
	TwilioAccountSID      string
	TwilioAuthToken       string
	ValidateSignature     bool
	SpeechConfidenceFloor float64
	EmergencyNumber       string
	ConversationTTL       time.Duration
	CatalogFile           string
	Voice                 string
	Language              string
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	apiAddr           *string
	publicBaseURL     *string
	openaiKey         *string
	openaiModel       *string
	openaiBaseURL     *string
	openaiMaxTokens   *int
	analyzerTimeout   *time.Duration
	twilioAccountSID  *string
	twilioAuthToken   *string
	validateSignature *bool
	speechFloor       *float64
	emergencyNumber   *string
	conversationTTL   *time.Duration
	catalogFile       *string
	voice             *string
	language          *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:              util.GetenvDefault("LOG_LEVEL", "info"),
		StateDir:              util.GetenvDefault("MEDTRIAGE_STATE_DIR", DefaultStateDir),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		APIAddr:               util.GetenvDefault("API_ADDR", api.DefaultAddr),
		PublicBaseURL:         os.Getenv("PUBLIC_BASE_URL"),
		OpenAIKey:             os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           util.GetenvDefault("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		OpenAIMaxTokens:       util.ParseIntEnv("OPENAI_MAX_TOKENS", genai.DefaultMaxTokens),
		AnalyzerTimeout:       util.ParseDurationEnv("ANALYZER_TIMEOUT", flow.DefaultAnalyzerTimeout),
		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		ValidateSignature:     util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		SpeechConfidenceFloor: util.ParseFloatEnv("SPEECH_CONFIDENCE_FLOOR", flow.DefaultSpeechConfidenceFloor),
		EmergencyNumber:       util.GetenvDefault("EMERGENCY_NUMBER", flow.DefaultEmergencyNumber),
		ConversationTTL:       util.ParseDurationEnv("CONVERSATION_TTL", api.DefaultConversationTTL),
		CatalogFile:           os.Getenv("CATALOG_FILE"),
		Voice:                 util.GetenvDefault("TWILIO_VOICE", twiliovoice.DefaultVoice),
		Language:              util.GetenvDefault("TWILIO_LANGUAGE", twiliovoice.DefaultLanguage),
	}

	// No DATABASE_URL means SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"MEDTRIAGE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"PUBLIC_BASE_URL", config.PublicBaseURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"TWILIO_CREDENTIALS_SET", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"TWILIO_VALIDATE_SIGNATURE", config.ValidateSignature,
		"EMERGENCY_NUMBER", config.EmergencyNumber,
		"CATALOG_FILE", config.CatalogFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:          fs.String("state-dir", config.StateDir, "state directory for MedTriage data (overrides $MEDTRIAGE_STATE_DIR)"),
		dbDSN:             fs.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:           fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		publicBaseURL:     fs.String("public-base-url", config.PublicBaseURL, "externally visible base URL for Twilio webhooks (overrides $PUBLIC_BASE_URL)"),
		openaiKey:         fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:       fs.String("openai-model", config.OpenAIModel, "OpenAI model for symptom analysis (overrides $OPENAI_MODEL)"),
		openaiBaseURL:     fs.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)"),
		openaiMaxTokens:   fs.Int("openai-max-tokens", config.OpenAIMaxTokens, "maximum completion tokens (overrides $OPENAI_MAX_TOKENS)"),
		analyzerTimeout:   fs.Duration("analyzer-timeout", config.AnalyzerTimeout, "timeout for one AI analysis (overrides $ANALYZER_TIMEOUT)"),
		twilioAccountSID:  fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:   fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		validateSignature: fs.Bool("validate-signature", config.ValidateSignature, "reject unsigned Twilio webhooks (overrides $TWILIO_VALIDATE_SIGNATURE)"),
		speechFloor:       fs.Float64("speech-confidence-floor", config.SpeechConfidenceFloor, "minimum accepted speech confidence (overrides $SPEECH_CONFIDENCE_FLOOR)"),
		emergencyNumber:   fs.String("emergency-number", config.EmergencyNumber, "emergency number spoken to callers (overrides $EMERGENCY_NUMBER)"),
		conversationTTL:   fs.Duration("conversation-ttl", config.ConversationTTL, "end conversations idle this long, 0 disables (overrides $CONVERSATION_TTL)"),
		catalogFile:       fs.String("catalog-file", config.CatalogFile, "YAML triage catalog, embedded default when empty (overrides $CATALOG_FILE)"),
		voice:             fs.String("voice", config.Voice, "Twilio text-to-speech voice (overrides $TWILIO_VOICE)"),
		language:          fs.String("language", config.Language, "speech language (overrides $TWILIO_LANGUAGE)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if *flags.speechFloor < 0 || *flags.speechFloor > 1 {
		return Flags{}, fmt.Errorf("speech-confidence-floor must be between 0 and 1, got %v", *flags.speechFloor)
	}

	// Follow a changed state directory when the DSN is still the default SQLite path
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"validateSignature", *flags.validateSignature,
		"conversationTTL", *flags.conversationTTL)
	return flags, nil
}

// ensureDirectoriesExist creates the parent directory of a SQLite database
func ensureDirectoriesExist(flags Flags) error {
	dir := sqliteDir(*flags.dbDSN)
	if dir == "" {
		return nil
	}
	slog.Debug("Creating state directory for file-based database", "state_dir", dir)
	return os.MkdirAll(dir, 0755)
}

// sqliteDir returns the directory of a SQLite DSN, or "" for PostgreSQL and the in-memory store
func sqliteDir(dsn string) string {
	if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return filepath.Dir(path)
}

// acquireStateLock locks the SQLite state directory so a second instance cannot share it.
// A nil lock is returned when no file-based store is used; Release on nil is a no-op.
func acquireStateLock(flags Flags) (*lockfile.Lock, error) {
	dir := sqliteDir(*flags.dbDSN)
	if dir == "" {
		return nil, nil
	}
	return lockfile.Acquire(dir)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.openaiBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	if *flags.openaiMaxTokens > 0 {
		genaiOpts = append(genaiOpts, genai.WithMaxTokens(int64(*flags.openaiMaxTokens)))
	}
	return genaiOpts
}

// buildVoiceOptions constructs Twilio voice client options
func buildVoiceOptions(flags Flags) []twiliovoice.Option {
	var voiceOpts []twiliovoice.Option
	if *flags.twilioAccountSID != "" {
		voiceOpts = append(voiceOpts, twiliovoice.WithAccountSID(*flags.twilioAccountSID))
	}
	if *flags.twilioAuthToken != "" {
		voiceOpts = append(voiceOpts, twiliovoice.WithAuthToken(*flags.twilioAuthToken))
	}
	return voiceOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithAnalyzerTimeout(*flags.analyzerTimeout),
		api.WithSpeechConfidenceFloor(*flags.speechFloor),
		api.WithConversationTTL(*flags.conversationTTL),
		api.WithSignatureValidation(*flags.validateSignature),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.publicBaseURL != "" {
		apiOpts = append(apiOpts, api.WithPublicBaseURL(*flags.publicBaseURL))
	}
	if *flags.emergencyNumber != "" {
		apiOpts = append(apiOpts, api.WithEmergencyNumber(*flags.emergencyNumber))
	}
	if *flags.catalogFile != "" {
		apiOpts = append(apiOpts, api.WithCatalogFile(*flags.catalogFile))
	}
	if *flags.voice != "" {
		apiOpts = append(apiOpts, api.WithVoice(*flags.voice))
	}
	if *flags.language != "" {
		apiOpts = append(apiOpts, api.WithLanguage(*flags.language))
	}
	return apiOpts
}
