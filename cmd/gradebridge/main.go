package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/gradebridge/internal/config"
	"github.com/BrandonDHaskell/gradebridge/internal/db"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/canvas"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/envelope"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/service"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/source"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store/file"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store/sqlite"
	"github.com/BrandonDHaskell/gradebridge/internal/httpapi"
	"github.com/BrandonDHaskell/gradebridge/internal/logging"
)

const userAgent = "gradebridge/1.0"

func main() {
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "gradebridge: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gradebridge: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogOutput())

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("gradebridge exited with error")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, once bool) error {
	key, err := loadKey(cfg)
	if err != nil {
		return err
	}
	padding, err := envelope.ParsePadding(cfg.RSAPadding)
	if err != nil {
		return err
	}
	policy, err := service.ParseCursorPolicy(cfg.CursorPolicy)
	if err != nil {
		return err
	}

	// Storage
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	mirror := sqlite.NewAuditMirror(sqlDB, writer)
	ledger := sqlite.NewLedger(sqlDB, writer)
	cursor := file.NewCursorStore(cfg.CursorPath)
	auditFile := file.NewAuditLog(cfg.AuditPath)
	audit := store.TeeAuditLog{auditFile, mirror}
	logger.Info().
		Str("cursor_path", cursor.Path()).
		Str("audit_path", auditFile.Path()).
		Str("db_path", cfg.DBPath).
		Msg("state files")

	// Pipeline
	sourceURL := cfg.SourceURL
	if sourceURL == "" {
		sourceURL = source.SpreadsheetCSVURL(cfg.SpreadsheetID)
	}
	fetcher, err := source.NewFetcher(source.FetcherConfig{
		URL:           sourceURL,
		RetryInterval: cfg.FetchRetryInterval,
		MaxAttempts:   cfg.FetchMaxAttempts,
		Timeout:       cfg.HTTPTimeout,
		UserAgent:     userAgent,
	}, logger)
	if err != nil {
		return err
	}

	decryptor, err := envelope.NewDecryptor(key, padding)
	if err != nil {
		return err
	}

	client, err := canvas.New(canvas.Options{
		Host:      cfg.CanvasHost,
		Token:     cfg.CanvasAPIKey,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: userAgent,
	})
	if err != nil {
		return err
	}

	roster := service.NewRosterDirectory(client, cfg.RosterCacheTTL)
	processor := service.NewProcessor(client, roster, ledger, service.ProcessorConfig{
		Comment: cfg.Comment,
	}, logger)

	status := service.NewStatus()
	poller, err := service.NewPoller(service.PollerConfig{
		Marker:       cfg.MagicPrefix,
		Interval:     cfg.PollInterval,
		CursorPolicy: policy,
	}, service.PollerDeps{
		Fetcher:   fetcher,
		Decryptor: decryptor,
		Processor: processor,
		Cursor:    cursor,
		Audit:     audit,
		Status:    status,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if once {
		res, err := poller.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info().
			Int("attempted", res.Attempted).
			Int("failed", res.Failed).
			Str("cursor", res.Cursor).
			Msg("single cycle complete")
		return nil
	}

	pruner := service.NewAuditPruner(mirror, service.PrunerConfig{
		RetentionDays: cfg.AuditRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Status endpoints
	var srv *httpapi.Server
	if cfg.HTTPAddr != "" {
		srv = httpapi.NewServer(httpapi.Dependencies{
			Logger: logger,
			Addr:   cfg.HTTPAddr,
			Status: status,
			Cursor: cursor,
			Audit:  mirror,
		})
		go func() {
			logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server error")
				cancel()
			}
		}()
	}

	var health *httpapi.HealthServer
	if cfg.GRPCAddr != "" {
		health = httpapi.NewHealthServer(httpapi.GRPCDependencies{
			Logger: logger,
			Addr:   cfg.GRPCAddr,
			Status: status,
		})
		go func() {
			if err := health.Start(); err != nil {
				logger.Error().Err(err).Msg("grpc server error")
				cancel()
			}
		}()
	}

	poller.Start(ctx)
	logger.Info().
		Str("source", redactURL(sourceURL)).
		Str("canvas_host", cfg.CanvasHost).
		Msg("gradebridge running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// Let the in-flight record finish and the cursor settle first.
	poller.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if health != nil {
		health.Stop()
	}
	return nil
}

func loadKey(cfg config.Config) (*rsa.PrivateKey, error) {
	if pem := strings.TrimSpace(cfg.PrivateKeyPEM); pem != "" {
		return envelope.ParsePrivateKey([]byte(pem))
	}
	return envelope.LoadPrivateKey(cfg.PrivateKeyPath)
}

// redactURL drops the query string, which may carry access tokens.
func redactURL(u string) string {
	base, _, _ := strings.Cut(u, "?")
	return base
}
