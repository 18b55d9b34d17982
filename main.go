// Command textanon anonymizes named entities in English text, replacing
// each detected span with its bracketed category label ("[PERSON]",
// "[LOCATION]", ...). It runs either as a one-shot CLI over a file or stdin,
// or as an HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hannes/textanon/anonymizer"
	"github.com/hannes/textanon/config"
	"github.com/hannes/textanon/ner"
	"github.com/hannes/textanon/server"
	"github.com/hannes/textanon/store"
)

const TRUE = "true"

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file from current directory")
	}

	cfg := config.DefaultConfig()

	configPath := flag.String("config", "", "Path to JSON config file")
	inputPath := flag.String("input", "", "Input text file for one-shot mode (\"-\" for stdin)")
	outputPath := flag.String("output", "", "Output file for one-shot mode (default stdout)")
	serve := flag.Bool("serve", false, "Run the HTTP service instead of one-shot mode")
	flag.Parse()

	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			log.Printf("Failed to load config file: %v", err)
		}
	}
	loadConfigFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	source, manager, err := buildProviderSource(cfg)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	audit, cleanupDone := buildAuditStore(cfg)
	defer func() {
		if cleanupDone != nil {
			close(cleanupDone)
		}
		if err := audit.Close(); err != nil {
			log.Printf("Failed to close audit store: %v", err)
		}
	}()

	svc := anonymizer.NewService(source, audit, anonymizer.Options{
		LogEntities: cfg.Logging.LogEntities,
		LogVerbose:  cfg.Logging.LogVerbose,
	})

	if *serve {
		srv := server.NewServer(cfg, svc, manager, audit)
		srv.StartWithErrorHandling()
		return
	}

	if err := runOnce(svc, *inputPath, *outputPath); err != nil {
		log.Fatalf("%v", err)
	}
}

// runOnce reads the input, anonymizes it and writes the result: the
// load -> anonymize -> save flow without a UI around it.
func runOnce(svc *anonymizer.Service, inputPath, outputPath string) error {
	var (
		text []byte
		err  error
	)
	switch inputPath {
	case "", "-":
		text, err = io.ReadAll(os.Stdin)
	default:
		// #nosec G304 - input path comes from the -input flag
		text, err = os.ReadFile(inputPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(text) == 0 {
		return fmt.Errorf("input is empty")
	}

	result, err := svc.Anonymize(context.Background(), string(text))
	if err != nil {
		return fmt.Errorf("anonymization failed: %w", err)
	}

	if outputPath == "" || outputPath == "-" {
		fmt.Print(result.Text)
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(result.Text), 0600); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	log.Printf("Saved: %s (%d entities)", outputPath, len(result.Entities))
	return nil
}

// buildProviderSource creates the configured detector. The manager is
// non-nil only for the onnx detector, which supports hot reload.
func buildProviderSource(cfg *config.Config) (anonymizer.ProviderSource, *ner.Manager, error) {
	switch cfg.Detector {
	case "onnx":
		manager := ner.NewManager(cfg.ModelDir)
		return manager, manager, nil
	case "regex":
		return anonymizer.StaticSource(ner.NewRegexProvider()), nil, nil
	case "sidecar":
		return anonymizer.StaticSource(ner.NewHTTPProvider(cfg.SidecarURL)), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}

// buildAuditStore creates the audit trail backend. For PostgreSQL a cleanup
// loop prunes old entries; the returned channel stops it.
func buildAuditStore(cfg *config.Config) (store.AuditStore, chan struct{}) {
	if !cfg.Database.Enabled {
		return store.NewMemoryAuditStore(), nil
	}

	pg, err := store.NewPostgresAuditStore(store.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		Database:     cfg.Database.Database,
		Username:     cfg.Database.Username,
		Password:     cfg.Database.Password,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetimeDuration(),
	})
	if err != nil {
		log.Printf("Failed to connect to database, falling back to in-memory audit storage: %v", err)
		return store.NewMemoryAuditStore(), nil
	}

	done := make(chan struct{})
	go cleanupLoop(pg, cfg.Database.CleanupInterval(), done)
	return pg, done
}

// cleanupLoop prunes audit entries older than the retention interval.
func cleanupLoop(s store.AuditStore, olderThan time.Duration, done chan struct{}) {
	if olderThan <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed, err := s.Cleanup(context.Background(), olderThan)
			if err != nil {
				log.Printf("Audit cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Audit cleanup removed %d entries", removed)
			}
		}
	}
}

// loadConfigFromEnv loads configuration from environment variables.
func loadConfigFromEnv(cfg *config.Config) {
	loadApplicationConfig(cfg)
	loadDatabaseConfig(cfg)
	loadLoggingConfig(cfg)
}

// loadApplicationConfig loads application configuration from environment
// variables.
func loadApplicationConfig(cfg *config.Config) {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if detector := os.Getenv("DETECTOR_NAME"); detector != "" {
		cfg.Detector = detector
	}
	if dir := os.Getenv("MODEL_DIR"); dir != "" {
		cfg.ModelDir = dir
	}
	if url := os.Getenv("SIDECAR_URL"); url != "" {
		cfg.SidecarURL = url
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		cfg.SentryDSN = dsn
	}
	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimit.RPS = v
		}
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimit.Burst = v
		}
	}
}

// loadDatabaseConfig loads database configuration from environment
// variables.
func loadDatabaseConfig(cfg *config.Config) {
	if dbEnabled := os.Getenv("DB_ENABLED"); dbEnabled != "" {
		cfg.Database.Enabled = dbEnabled == TRUE
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.Username = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}
	if cleanupHours := os.Getenv("DB_CLEANUP_HOURS"); cleanupHours != "" {
		if hours, err := strconv.Atoi(cleanupHours); err == nil {
			cfg.Database.CleanupHours = hours
		}
	}
}

// loadLoggingConfig loads logging configuration from environment variables.
func loadLoggingConfig(cfg *config.Config) {
	if logRequests := os.Getenv("LOG_REQUESTS"); logRequests != "" {
		cfg.Logging.LogRequests = logRequests == TRUE
	}
	if logEntities := os.Getenv("LOG_ENTITIES"); logEntities != "" {
		cfg.Logging.LogEntities = logEntities == TRUE
	}
	if logVerbose := os.Getenv("LOG_VERBOSE"); logVerbose != "" {
		cfg.Logging.LogVerbose = logVerbose == TRUE
	}
}
