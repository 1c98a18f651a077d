package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/config"
	"github.com/xxxsen/notevault/internal/handler"
	"github.com/xxxsen/notevault/internal/job"
	"github.com/xxxsen/notevault/internal/middleware"
	"github.com/xxxsen/notevault/internal/notify"
	"github.com/xxxsen/notevault/internal/pkg/jwt"
	"github.com/xxxsen/notevault/internal/pkg/retry"
	"github.com/xxxsen/notevault/internal/schedule"
	"github.com/xxxsen/notevault/internal/service"
	"github.com/xxxsen/notevault/internal/store"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "notevault",
		Short: "notevault document store",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run notevault server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	var docID string
	var batch int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "convert legacy documents to chunked storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, docID, batch)
		},
	}
	migrateCmd.Flags().StringVar(&docID, "doc", "", "migrate a single document")
	migrateCmd.Flags().IntVar(&batch, "batch", 100, "documents per batch when migrating everything")

	var userID string
	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "mint an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			token, err := jwt.GenerateToken(userID, []byte(cfg.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&userID, "user", "", "user id to embed")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(runCmd, migrateCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func serviceOptions(cfg *config.Config) service.Options {
	return service.Options{
		TokenBytes: cfg.Share.TokenBytes,
		Retry: retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		},
		OperationTimeout: time.Duration(cfg.OperationTimeoutMs) * time.Millisecond,
		CacheSize:        cfg.ContentCache.Size,
		CacheTTL:         time.Duration(cfg.ContentCache.TTLSeconds) * time.Second,
	}
}

func runMigrate(ctx context.Context, cfg *config.Config, docID string, batch int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()
	notes := service.NewNoteService(backend, notify.NewHub(), serviceOptions(cfg))
	logger := logutil.GetLogger(ctx)

	if docID != "" {
		if err := notes.MigrateDocument(ctx, docID); err != nil {
			return fmt.Errorf("migrate %s: %w", docID, err)
		}
		logger.Info("document migrated", zap.String("doc_id", docID))
		return nil
	}
	total := 0
	for {
		migrated, err := notes.MigrateLegacyBatch(ctx, batch)
		total += migrated
		if err != nil {
			logger.Error("migration batch incomplete", zap.Int("migrated", total), zap.Error(err))
			return err
		}
		if migrated == 0 {
			break
		}
	}
	logger.Info("legacy migration finished", zap.Int("migrated", total))
	return nil
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.Store.Type),
	)

	backend, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub()
	go func() {
		if err := hub.Run(ctx, backend); err != nil && !errors.Is(err, context.Canceled) {
			logutil.GetLogger(ctx).Error("change feed stopped", zap.Error(err))
		}
	}()

	notes := service.NewNoteService(backend, hub, serviceOptions(cfg))

	scheduler := schedule.NewCronScheduler(10 * time.Minute)
	if err := scheduler.AddJob(job.NewTokenSweepJob(notes, cfg.Schedule.TokenSweepBatch), cfg.Schedule.TokenSweepSpec); err != nil {
		return fmt.Errorf("schedule token sweep: %w", err)
	}
	if cfg.Schedule.EnableLegacyMigration {
		if err := scheduler.AddJob(job.NewLegacyMigrationJob(notes, cfg.Schedule.LegacyMigrationBatch), cfg.Schedule.LegacyMigrationSpec); err != nil {
			return fmt.Errorf("schedule legacy migration: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Documents:          handler.NewDocumentHandler(notes),
		Shares:             handler.NewShareHandler(notes),
		JWTSecret:          []byte(cfg.JWTSecret),
		ShareRatePerMinute: cfg.Share.RateLimitPerMinute,
		ShareRateBurst:     cfg.Share.RateLimitBurst,
		EnableMetrics:      cfg.EnableMetrics,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/documents/[^/]+/events$`})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
