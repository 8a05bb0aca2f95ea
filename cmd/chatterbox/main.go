package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatterbox-chat/chatterbox/internal/api"
	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/directory"
	"github.com/chatterbox-chat/chatterbox/internal/listener"
	"github.com/chatterbox-chat/chatterbox/internal/lockfile"
	"github.com/chatterbox-chat/chatterbox/internal/notify"
	"github.com/chatterbox-chat/chatterbox/internal/poller"
	"github.com/chatterbox-chat/chatterbox/internal/scheduler"
	"github.com/chatterbox-chat/chatterbox/internal/store"
	"github.com/chatterbox-chat/chatterbox/internal/timer"
	"github.com/chatterbox-chat/chatterbox/internal/twiliosms"
	"github.com/chatterbox-chat/chatterbox/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Chatterbox state data
	DefaultStateDir = "/var/lib/chatterbox"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatterbox.db"
	// DefaultEnsureCron runs the listener self-healing check every minute
	DefaultEnsureCron = "* * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Chatterbox failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Chatterbox exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	DirectoryURL string
	UserID       string
	SMSTo        string
	EnsureCron   string
	PollInterval string
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	directoryURL *string
	userID       *string
	smsTo        *string
	ensureCron   *string
	pollInterval *string
}

// initializeLogger sets up structured logging. CHATTERBOX_DEBUG=false drops
// the level to info.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CHATTERBOX_DEBUG", true) {
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
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("CHATTERBOX_STATE_DIR"),
		APIAddr:      os.Getenv("API_ADDR"),
		DirectoryURL: os.Getenv("DIRECTORY_URL"),
		UserID:       os.Getenv("CHATTERBOX_USER_ID"),
		SMSTo:        os.Getenv("SMS_ALERT_NUMBER"),
		EnsureCron:   os.Getenv("ENSURE_ACTIVE_CRON"),
		PollInterval: os.Getenv("POLL_INTERVAL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CHATTERBOX_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.EnsureCron == "" {
		config.EnsureCron = DefaultEnsureCron
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CHATTERBOX_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"DIRECTORY_URL_SET", config.DirectoryURL != "",
		"CHATTERBOX_USER_ID_SET", config.UserID != "",
		"SMS_ALERT_NUMBER_SET", config.SMSTo != "",
		"ENSURE_ACTIVE_CRON", config.EnsureCron,
		"POLL_INTERVAL", config.PollInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for Chatterbox data (overrides $CHATTERBOX_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the chat store (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "control API server address (overrides $API_ADDR)"),
		directoryURL: flag.String("directory-url", config.DirectoryURL, "user directory service base URL (overrides $DIRECTORY_URL)"),
		userID:       flag.String("user-id", config.UserID, "signed-in user id to watch (overrides $CHATTERBOX_USER_ID)"),
		smsTo:        flag.String("sms-to", config.SMSTo, "phone number for SMS alerts (overrides $SMS_ALERT_NUMBER)"),
		ensureCron:   flag.String("ensure-cron", config.EnsureCron, "cron expression for listener self-healing (overrides $ENSURE_ACTIVE_CRON)"),
		pollInterval: flag.String("poll-interval", config.PollInterval, "interval between poll cycles, e.g. 30s (overrides $POLL_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"directoryURL_set", *flags.directoryURL != "",
		"userID_set", *flags.userID != "",
		"smsTo_set", *flags.smsTo != "",
		"ensureCron", *flags.ensureCron,
		"pollInterval", *flags.pollInterval)

	return flags
}

// buildStore opens the chat store for the configured DSN.
func buildStore(dsn string) (store.Store, error) {
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Opening Postgres chat store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Info("Opening SQLite chat store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

// buildNotifier assembles the notification targets: the event channel always,
// SMS when a destination number is configured.
func buildNotifier(smsTo string) (notify.Notifier, *notify.EventNotifier, error) {
	events := notify.NewEventNotifier()
	if smsTo == "" {
		return events, events, nil
	}

	client, err := twiliosms.NewClient() // credentials from environment
	if err != nil {
		return nil, nil, err
	}
	sms, err := notify.NewSMSNotifier(client, smsTo)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("SMS alerts enabled", "to", smsTo)
	return notify.NewMultiNotifier(events, sms), events, nil
}

// buildLookup picks the display-name source: the REST directory when
// configured, otherwise profiles are read straight from the backend.
func buildLookup(directoryURL string, be backend.Backend) (directory.Lookup, error) {
	if directoryURL == "" {
		return &directory.BackendLookup{Backend: be}, nil
	}
	return directory.NewRestClient(directory.WithBaseURL(directoryURL))
}

func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	be := backend.NewLocalBackend(st)
	cache := dedup.NewSeenCache(0)

	notifier, events, err := buildNotifier(*flags.smsTo)
	if err != nil {
		return err
	}
	defer events.Stop()
	if err := notifier.EnsureChannel(); err != nil {
		return err
	}

	lookup, err := buildLookup(*flags.directoryURL, be)
	if err != nil {
		return err
	}

	l := listener.NewListener(be, lookup, notifier, listener.WithSeenCache(cache))
	defer l.Stop()

	tm := timer.NewSimpleTimer()
	defer tm.Stop()

	pollerOpts := []poller.Option{
		poller.WithSeenCache(cache),
		poller.WithLookup(lookup),
		poller.WithTimer(tm),
	}
	if *flags.pollInterval != "" {
		interval, parseErr := time.ParseDuration(*flags.pollInterval)
		if parseErr != nil {
			slog.Warn("Invalid poll interval, using default", "error", parseErr, "value", *flags.pollInterval)
		} else {
			pollerOpts = append(pollerOpts, poller.WithInterval(interval))
		}
	}
	p := poller.NewPoller(be, notifier, pollerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := listener.NewSession(*flags.userID)
	defer sess.Release()

	if *flags.userID == "" {
		slog.Warn("No user id configured; listener and poller stay idle until one is set")
	} else {
		if err := l.Start(ctx, sess); err != nil {
			// Not fatal: the self-healing cron retries.
			slog.Error("Initial listener start failed", "error", err)
		}
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.ensureCron, func() {
		if _, ok := sess.Get(); !ok {
			return
		}
		if err := l.EnsureActive(ctx, sess); err != nil {
			slog.Error("EnsureActive failed", "error", err)
		}
	}); err != nil {
		return err
	}

	p.Run(ctx, sess)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	srv := api.NewServer(be, l, p, events, cache, sess, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	slog.Info("Chatterbox notification core running", "userID_set", *flags.userID != "")

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
