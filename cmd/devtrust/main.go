package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/corpsec/device-trust/pkg/audit"
	"github.com/corpsec/device-trust/pkg/bulkops"
	bulkapi "github.com/corpsec/device-trust/pkg/bulkops/api"
	"github.com/corpsec/device-trust/pkg/config"
	"github.com/corpsec/device-trust/pkg/device"
	deviceapi "github.com/corpsec/device-trust/pkg/device/api"
	"github.com/corpsec/device-trust/pkg/fingerprint"
	"github.com/corpsec/device-trust/pkg/mfa"
	"github.com/corpsec/device-trust/pkg/notify"
	"github.com/corpsec/device-trust/pkg/ratelimit"
	"github.com/corpsec/device-trust/pkg/store"
)

func loadEnvFile() {
	envFile := os.Getenv("DEVTRUST_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Info("No .env file found, using process environment", "path", envFile)
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "error", err, "path", envFile)
		return
	}
	slog.Info("Configuration loaded from .env file", "path", envFile)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg := config.Config{}
	cleanenv.ReadEnv(&cfg)

	ctx := context.Background()

	// The embedded store always runs: audit logs live there even when
	// registrations are kept in PostgreSQL.
	st := store.New(store.Options{
		Path:           cfg.StoreConfig.Path,
		MaxInFlight:    cfg.StoreConfig.MaxInFlight,
		BusyTimeoutMs:  cfg.StoreConfig.BusyTimeoutMs,
		CacheSizePages: cfg.StoreConfig.CacheSizePages,
		MmapSizeBytes:  cfg.StoreConfig.MmapSizeBytes,
	})
	if err := st.Connect(ctx); err != nil {
		slog.Error("Failed to connect to store", "error", err, "path", cfg.StoreConfig.Path)
		os.Exit(-1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("Failed to ensure schema", "error", err)
		os.Exit(-1)
	}

	repoConfig := device.RepositoryConfig{Store: st}
	if cfg.StoreConfig.RepositoryKind == "postgres" || cfg.StoreConfig.RepositoryKind == "postgresql" {
		pool, err := pgxpool.New(ctx, cfg.StoreConfig.PostgresURL)
		if err != nil {
			slog.Error("Failed creating dbpool", "error", err)
			os.Exit(-1)
		}
		defer pool.Close()
		repoConfig.DB = pool
	}

	deviceRepo, err := device.NewRepository(cfg.StoreConfig.RepositoryKind, repoConfig)
	if err != nil {
		slog.Error("Failed to create device repository", "error", err, "kind", cfg.StoreConfig.RepositoryKind)
		os.Exit(-1)
	}

	var notifier notify.Notifier
	if cfg.EmailConfig.Enabled {
		emailNotifier, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     cfg.EmailConfig.Host,
			Port:     cfg.EmailConfig.Port,
			Username: cfg.EmailConfig.Username,
			Password: cfg.EmailConfig.Password,
			From:     cfg.EmailConfig.From,
			To:       cfg.EmailConfig.To,
			TLS:      cfg.EmailConfig.TLS,
		})
		if err != nil {
			slog.Error("Failed to create email notifier", "error", err)
			os.Exit(-1)
		}
		notifier = emailNotifier
	}

	auditLogger := audit.NewLogger(audit.NewSqliteRepository(st), notifier)
	hasher := fingerprint.NewHasher(cfg.FingerprintConfig.Pepper)

	deviceService := device.NewService(deviceRepo, hasher, auditLogger, device.Options{
		AutoApprove: cfg.DeviceConfig.AutoApprove,
	})
	bulkService := bulkops.NewService(deviceRepo, auditLogger, bulkops.Options{
		MaxBatchSize: cfg.BulkConfig.MaxBatchSize,
	})
	mfaService := mfa.NewService("device-trust")

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)

	deviceHandle := deviceapi.NewHandle(deviceService, auditLogger, mfaService)
	deviceRouter := chi.NewRouter()
	if cfg.RateLimitConfig.ValidateEnabled {
		rateLimiter := ratelimit.NewMiddleware(&ratelimit.Config{
			PerIPCapacity:         cfg.RateLimitConfig.ValidateCapacity,
			PerIPRefillRate:       cfg.RateLimitConfig.ValidateRefillRate,
			PerEmployeeCapacity:   cfg.RateLimitConfig.ValidateCapacity,
			PerEmployeeRefillRate: cfg.RateLimitConfig.ValidateRefillRate,
			BucketTTL:             time.Hour,
		})
		deviceRouter.Use(rateLimiter.Handler)
	}
	deviceRouter.Mount("/", deviceapi.Routes(deviceHandle))
	server.R.Mount("/api/devices", deviceRouter)

	bulkHandle := bulkapi.NewHandle(bulkService)
	server.R.Mount("/api/admin/devices", bulkapi.Routes(bulkHandle))

	startRetentionLoop(ctx, st, cfg.RetentionConfig)

	server.Run()
}

// startRetentionLoop purges expired audit rows on a fixed interval
func startRetentionLoop(ctx context.Context, st *store.Store, cfg config.RetentionConfig) {
	horizon, err := cfg.HorizonDuration()
	if err != nil {
		slog.Error("Invalid retention horizon, retention disabled", "error", err, "horizon", cfg.Horizon)
		return
	}
	interval, err := cfg.IntervalDuration()
	if err != nil {
		slog.Error("Invalid retention interval, retention disabled", "error", err, "interval", cfg.Interval)
		return
	}

	slog.Info("Retention loop started", "horizon", horizon, "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := st.PurgeOldLogs(ctx, horizon)
				if err != nil {
					slog.Error("Retention purge failed", "error", err)
					continue
				}
				slog.Info("Retention purge complete",
					"accessLogsDeleted", result.AccessLogsDeleted,
					"securityEventsDeleted", result.SecurityEventsDeleted)
			}
		}
	}()
}
