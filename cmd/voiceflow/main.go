package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexella/voiceflow/internal/api"
	"github.com/nexella/voiceflow/internal/calendar"
	"github.com/nexella/voiceflow/internal/gate"
	"github.com/nexella/voiceflow/internal/genai"
	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/util"
	"github.com/nexella/voiceflow/internal/webhook"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoiceFlow state data
	DefaultStateDir = "/var/lib/voiceflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voiceflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module collaborators
	apiOpts := []api.Option{
		api.WithMinSpacing(config.MinSpacing),
		api.WithMaxPerWindow(config.MaxPerWindow),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}

	store, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to open memory store", "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
		apiOpts = append(apiOpts, api.WithStore(store))
	}

	apiOpts = append(apiOpts, api.WithBooker(calendar.NewClient(
		calendar.WithBaseURL(*flags.calendarURL),
		calendar.WithAPIKey(*flags.calendarKey),
	)))

	if *flags.webhookURL != "" {
		apiOpts = append(apiOpts, api.WithNotifier(webhook.NewClient(webhook.WithURL(*flags.webhookURL))))
	}

	if sms, err := webhook.NewSMSClient(); err != nil {
		slog.Warn("SMS confirmations disabled", "reason", err)
	} else {
		apiOpts = append(apiOpts, api.WithSMS(sms))
	}

	if ai, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey)); err != nil {
		slog.Warn("Generated responses disabled", "reason", err)
	} else {
		apiOpts = append(apiOpts, api.WithAI(ai))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the service
	slog.Info("Bootstrapping VoiceFlow with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"calendar_set", *flags.calendarURL != "",
		"webhook_set", *flags.webhookURL != "")
	if err := api.NewServer(apiOpts...).Run(ctx); err != nil {
		slog.Error("VoiceFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoiceFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver     string
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	CalendarURL  string
	CalendarKey  string
	WebhookURL   string
	MinSpacing   time.Duration
	MaxPerWindow int
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDriver    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	calendarURL *string
	calendarKey *string
	webhookURL  *string
}

// initializeLogger sets up structured logging; VOICEFLOW_DEBUG=true
// lowers the level to debug
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("VOICEFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:     os.Getenv("VOICEFLOW_DB_DRIVER"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("VOICEFLOW_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		CalendarURL:  os.Getenv("CALENDAR_API_URL"),
		CalendarKey:  os.Getenv("CALENDAR_API_KEY"),
		WebhookURL:   os.Getenv("SCHEDULING_WEBHOOK_URL"),
		MinSpacing:   util.ParseDurationEnv("MIN_RESPONSE_SPACING", gate.DefaultMinResponseSpacing),
		MaxPerWindow: util.ParseIntEnv("MAX_RESPONSES_PER_WINDOW", gate.DefaultMaxResponsesPerWindow),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"VOICEFLOW_DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VOICEFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"CALENDAR_API_URL_SET", config.CalendarURL != "",
		"SCHEDULING_WEBHOOK_URL_SET", config.WebhookURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for VoiceFlow data (overrides $VOICEFLOW_STATE_DIR)"),
		dbDriver:    flag.String("db-driver", config.DbDriver, "memory store driver, sqlite3 or postgres (overrides $VOICEFLOW_DB_DRIVER)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "memory store DSN (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		calendarURL: flag.String("calendar-url", config.CalendarURL, "scheduling backend base URL (overrides $CALENDAR_API_URL)"),
		calendarKey: flag.String("calendar-api-key", config.CalendarKey, "scheduling backend API key (overrides $CALENDAR_API_KEY)"),
		webhookURL:  flag.String("webhook-url", config.WebhookURL, "scheduling-preference webhook URL (overrides $SCHEDULING_WEBHOOK_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	return flags
}

// ensureDirectoriesExist creates the state directory when the store
// will live on local disk.
func ensureDirectoriesExist(flags Flags) error {
	if isPostgresDSN(*flags.dbDSN) {
		return nil
	}
	return os.MkdirAll(*flags.stateDir, 0o755)
}

// buildStore opens the memory store backend selected by driver or DSN
// shape.
func buildStore(flags Flags) (memory.Store, error) {
	dsn := *flags.dbDSN
	driver := *flags.dbDriver
	if driver == "" {
		if isPostgresDSN(dsn) {
			driver = "postgres"
		} else {
			driver = "sqlite3"
		}
	}
	slog.Debug("buildStore: opening memory store", "driver", driver)
	switch driver {
	case "postgres":
		s, err := memory.NewPostgresStore(memory.WithDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := memory.NewSQLiteStore(memory.WithDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}
