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

	"github.com/sequelae-ai/tokenize/pkg/common/config"
	"github.com/sequelae-ai/tokenize/pkg/common/database"
	"github.com/sequelae-ai/tokenize/pkg/common/kafka"
	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
	"github.com/sequelae-ai/tokenize/pkg/runs"
	"github.com/sequelae-ai/tokenize/pkg/statestore"
)

func main() {
	logger.Init()
	cfg := config.Load()
	metrics.Init()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := runs.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate run tables")
	}

	states := statestore.NewStore(database.GetRedis(), cfg.StateTTL)

	producer := kafka.NewProducer("run-events")
	defer producer.Close()

	buildOpts := pipeline.BuildOptions{
		LookupAuth: lookup.Auth{
			TokenURL:     cfg.LookupTokenURL,
			ClientID:     cfg.LookupClientID,
			ClientSecret: cfg.LookupClientSecret,
			Scopes:       cfg.LookupScopes,
		},
		LookupTimeout: cfg.LookupTimeout,
	}

	svc, err := runs.NewService(repo, states, producer, buildOpts, cfg.RunArtifactDir, cfg.MaxRunWorkers)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize run service")
	}
	handler := runs.NewHTTPHandler(svc)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Tokenizer Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Tokenizer Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis connection")
	}

	logger.Log.Info("Tokenizer Service stopped")
}
