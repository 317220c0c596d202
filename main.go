// Package main implements a service that periodically emails course
// discussion digests to subscribers, pulling activity from the comments
// service and subscriber lists from the user service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"forum-digest-notifier/content"
	"forum-digest-notifier/email"
	"forum-digest-notifier/metrics"
	"forum-digest-notifier/pipeline"
	"forum-digest-notifier/pkg/digest"
	"forum-digest-notifier/runlog"
	"forum-digest-notifier/server"
	"forum-digest-notifier/token"
	"forum-digest-notifier/users"
)

type config struct {
	csBase   string
	csAPIKey string

	usBase     string
	usAPIKey   string
	usAuthUser string
	usAuthPass string
	usPageSize int

	lmsBase   string
	secretKey string

	emailSender      string
	emailSubject     string
	emailTitle       string
	emailDescription string
	rewriteRecipient string

	batchSize       int
	intervalMinutes int
	maxRetries      int
	retryDelay      time.Duration
	gcDays          int

	bucket       string
	localStorage string
	brevoAPIKey  string
	port         string
}

func loadConfig() (*config, error) {
	cfg := &config{
		csBase:           envOr("CS_URL_BASE", "http://localhost:4567"),
		csAPIKey:         os.Getenv("CS_API_KEY"),
		usBase:           envOr("US_URL_BASE", "http://localhost:8000"),
		usAPIKey:         os.Getenv("US_API_KEY"),
		usAuthUser:       os.Getenv("US_HTTP_AUTH_USER"),
		usAuthPass:       os.Getenv("US_HTTP_AUTH_PASS"),
		lmsBase:          envOr("LMS_URL_BASE", "http://localhost:8000"),
		secretKey:        os.Getenv("SECRET_KEY"),
		emailSender:      envOr("FORUM_DIGEST_EMAIL_SENDER", "notifications@example.org"),
		emailSubject:     envOr("FORUM_DIGEST_EMAIL_SUBJECT", "Daily Discussion Digest"),
		emailTitle:       envOr("FORUM_DIGEST_EMAIL_TITLE", "Discussion Digest"),
		emailDescription: envOr("FORUM_DIGEST_EMAIL_DESCRIPTION", "A digest of unread content from course discussions you are following."),
		rewriteRecipient: os.Getenv("EMAIL_REWRITE_RECIPIENT"),
		bucket:           os.Getenv("STORAGE_BUCKET"),
		localStorage:     os.Getenv("LOCAL_STORAGE"),
		brevoAPIKey:      os.Getenv("BREVO_API_KEY"),
		port:             envOr("PORT", "8080"),
	}

	if cfg.csAPIKey == "" {
		return nil, errors.New("CS_API_KEY environment variable required")
	}
	if cfg.usAPIKey == "" {
		return nil, errors.New("US_API_KEY environment variable required")
	}
	if cfg.secretKey == "" {
		return nil, errors.New("SECRET_KEY environment variable required")
	}

	var err error
	if cfg.usPageSize, err = envIntOr("US_RESULT_PAGE_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.batchSize, err = envIntOr("FORUM_DIGEST_TASK_BATCH_SIZE", 5); err != nil {
		return nil, err
	}
	if cfg.intervalMinutes, err = envIntOr("FORUM_DIGEST_TASK_INTERVAL", 1440); err != nil {
		return nil, err
	}
	if cfg.maxRetries, err = envIntOr("FORUM_DIGEST_TASK_MAX_RETRIES", 2); err != nil {
		return nil, err
	}
	retrySecs, err := envIntOr("FORUM_DIGEST_TASK_RETRY_DELAY", 300)
	if err != nil {
		return nil, err
	}
	cfg.retryDelay = time.Duration(retrySecs) * time.Second
	if cfg.gcDays, err = envIntOr("FORUM_DIGEST_TASK_GC_DAYS", 30); err != nil {
		return nil, err
	}

	// Misconfigured intervals must stop the service at startup, not skew
	// every window it ever computes.
	if _, _, err := pipeline.TimeSlice(cfg.intervalMinutes, time.Now()); err != nil {
		return nil, err
	}
	if cfg.batchSize < 1 {
		return nil, fmt.Errorf("FORUM_DIGEST_TASK_BATCH_SIZE must be at least 1, got %d", cfg.batchSize)
	}
	if cfg.maxRetries < 0 {
		return nil, fmt.Errorf("FORUM_DIGEST_TASK_MAX_RETRIES must not be negative, got %d", cfg.maxRetries)
	}
	if cfg.usPageSize < 1 {
		return nil, fmt.Errorf("US_RESULT_PAGE_SIZE must be at least 1, got %d", cfg.usPageSize)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// service exposes one-shot digest runs to the HTTP layer and the scheduler.
type service struct {
	runner *pipeline.Runner
	logger *slog.Logger
}

func (s *service) RunOnce(ctx context.Context) error {
	return s.runner.Run(ctx, time.Now())
}

func main() {
	once := flag.Bool("once", false, "run a single digest cycle and exit")
	flaggedFile := flag.String("flagged", "", "send flagged-post digests to course moderators from the given file of post URLs, then exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	runs, cleanup, err := initRunStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize run log storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	transport, err := initTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize email transport", "error", err)
		os.Exit(1)
	}
	logger.Info("Email transport ready", "transport", transport.Name())

	node, err := os.Hostname()
	if err != nil {
		node = "unknown"
	}

	cipher := token.New(cfg.secretKey)
	renderer := email.NewRenderer(cipher, cfg.lmsBase)
	sink := metrics.Log{Logger: logger}
	httpClient := &http.Client{Timeout: 5 * time.Minute}

	sender := email.NewSender(&email.Config{
		Transport:        transport,
		Render:           renderer.Render,
		RenderFlagged:    renderer.RenderFlagged,
		Logger:           logger,
		Metrics:          sink,
		From:             cfg.emailSender,
		Subject:          cfg.emailSubject,
		Title:            cfg.emailTitle,
		Description:      cfg.emailDescription,
		RewriteRecipient: cfg.rewriteRecipient,
	})

	var basicAuth *users.BasicAuth
	if cfg.usAuthUser != "" {
		basicAuth = &users.BasicAuth{User: cfg.usAuthUser, Pass: cfg.usAuthPass}
	}
	directory := users.New(httpClient, cfg.usBase, cfg.usAPIKey, basicAuth, cfg.usPageSize, logger)

	if *flaggedFile != "" {
		if err := runFlagged(ctx, *flaggedFile, cfg, directory, sender, logger); err != nil {
			logger.Error("Flagged digest run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Content:         content.New(httpClient, cfg.csBase, cfg.csAPIKey, sink, logger),
		Users:           directory,
		Sender:          sender,
		Runs:            runs,
		Builder:         digest.NewBuilder(cfg.lmsBase),
		Logger:          logger,
		Metrics:         sink,
		IntervalMinutes: cfg.intervalMinutes,
		BatchSize:       cfg.batchSize,
		MaxRetries:      uint(cfg.maxRetries) + 1,
		RetryDelay:      cfg.retryDelay,
		Node:            node,
	})

	svc := &service{runner: runner, logger: logger}

	if *once {
		if err := svc.RunOnce(ctx); err != nil {
			logger.Error("Digest cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sched := cron.New()
	spec := cronSpec(cfg.intervalMinutes)
	if _, err := sched.AddFunc(spec, func() {
		if err := svc.RunOnce(context.Background()); err != nil {
			logger.Error("Scheduled digest cycle failed", "error", err)
		}
	}); err != nil {
		logger.Error("Failed to schedule digest cycle", "spec", spec, "error", err)
		os.Exit(1)
	}
	if _, err := sched.AddFunc("30 0 * * *", func() {
		n, err := runs.Prune(context.Background(), cfg.gcDays)
		if err != nil {
			logger.Error("Run log prune failed", "error", err)
			return
		}
		logger.Info("Run log pruned", "deleted", n, "older_than_days", cfg.gcDays)
	}); err != nil {
		logger.Error("Failed to schedule run log prune", "error", err)
		os.Exit(1)
	}
	sched.Start()
	logger.Info("Digest scheduler started",
		"spec", spec,
		"interval_minutes", cfg.intervalMinutes,
		"node", node)

	srv := server.New(&server.Config{
		Runner:  svc,
		Decoder: cipher,
		Logger:  logger,
		LMSBase: cfg.lmsBase,
	})
	if err := srv.ServeHTTP(cfg.port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// cronSpec converts the digest interval into a cron expression aligned to
// UTC midnight boundaries, matching the window math in the pipeline.
func cronSpec(minutes int) string {
	switch {
	case minutes >= 1440:
		return "0 0 * * *"
	case minutes%60 == 0:
		return fmt.Sprintf("0 */%d * * *", minutes/60)
	default:
		return fmt.Sprintf("*/%d * * * *", minutes)
	}
}

// runFlagged sends a one-shot digest of flagged posts to course moderators,
// reading the post URLs from the given file.
func runFlagged(ctx context.Context, path string, cfg *config, directory *users.Client, sender *email.Sender, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open flagged posts file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("Failed to close flagged posts file", "error", closeErr)
		}
	}()

	runner := pipeline.NewFlaggedRunner(pipeline.FlaggedConfig{
		Users:      directory,
		Sender:     sender,
		Logger:     logger,
		LMSBase:    cfg.lmsBase,
		BatchSize:  cfg.batchSize,
		MaxRetries: uint(cfg.maxRetries) + 1,
		RetryDelay: cfg.retryDelay,
	})
	return runner.Run(ctx, f)
}

func initRunStore(ctx context.Context, cfg *config, logger *slog.Logger) (runlog.Store, func(), error) {
	if cfg.bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Using Cloud Storage run log", "bucket", cfg.bucket)
		return runlog.NewGCS(client, cfg.bucket, logger), cleanup, nil
	}

	dir := cfg.localStorage
	if dir == "" {
		dir = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local run log", "path", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return runlog.NewLocal(dir, logger), func() {}, nil
}

func initTransport(ctx context.Context, cfg *config, logger *slog.Logger) (email.Transport, error) {
	if cfg.brevoAPIKey != "" {
		return email.NewBrevoTransport(cfg.brevoAPIKey, cfg.emailTitle, logger), nil
	}

	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
		svc, err := gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return email.NewGmailTransport(svc, logger), nil
	}

	logger.Info("Mock email mode enabled (no BREVO_API_KEY or GOOGLE_CREDENTIALS_JSON)")
	return email.NewMockTransport(logger), nil
}
