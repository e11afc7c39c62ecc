package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinalytics/platform/pkg/analytics"
	"github.com/clinalytics/platform/pkg/api/auth"
	"github.com/clinalytics/platform/pkg/api/middleware"
	"github.com/clinalytics/platform/pkg/common/config"
	"github.com/clinalytics/platform/pkg/common/database"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/observability/metrics"
	"github.com/clinalytics/platform/pkg/pipeline"
)

func main() {
	logger.Init()
	cfg := config.Load()

	catalog := dataset.Default()
	if cfg.CatalogPath != "" {
		loaded, err := dataset.Load(cfg.CatalogPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load dataset catalog")
		}
		catalog = loaded
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	runRepo := pipeline.NewRunRepository(db)
	if err := runRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate run tables")
	}
	snapshots := analytics.NewSnapshotRepository(db)
	if err := snapshots.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate snapshot tables")
	}

	repo := analytics.NewRepository(db, cfg.WorkingTable)
	service := analytics.NewService(repo, catalog,
		analytics.WithCache(database.GetRedis(), cfg.CacheTTL),
		analytics.WithRunRepository(runRepo),
		analytics.WithSnapshots(snapshots),
	)
	handler := analytics.NewHTTPHandler(service)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/analytics").Subrouter()
	if validator := buildValidator(cfg); validator != nil {
		api.Use(middleware.Authenticate(validator))
	} else {
		logger.Log.Warn("No authentication configured, API is open")
	}
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Analytics service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start analytics service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down analytics service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("analytics service forced to shutdown")
	}
	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Analytics service stopped")
}

// buildValidator prefers OIDC introspection when an issuer is configured
// and falls back to local HS256 validation.
func buildValidator(cfg *config.Config) middleware.TokenValidator {
	if cfg.OIDCIssuer != "" {
		oidc, err := auth.NewOIDCAuthenticator(context.Background(), cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
		if err != nil {
			logger.Log.WithError(err).Warn("OIDC authentication not configured")
		} else {
			return oidc
		}
	}
	if cfg.JWTSecret != "" {
		manager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
		if err != nil {
			logger.Log.WithError(err).Warn("JWT authentication not configured")
		} else {
			return manager
		}
	}
	return nil
}
