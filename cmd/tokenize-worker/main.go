package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sequelae-ai/tokenize/pkg/common/config"
	"github.com/sequelae-ai/tokenize/pkg/common/database"
	"github.com/sequelae-ai/tokenize/pkg/common/kafka"
	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/lookup"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
	"github.com/sequelae-ai/tokenize/pkg/statestore"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
)

// TokenizeWorker encodes individual subject timelines against fitted
// pipelines restored from the state store.
type TokenizeWorker struct {
	consumer  *kafka.Consumer
	producer  *kafka.Producer
	states    *statestore.Store
	buildOpts pipeline.BuildOptions

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

func main() {
	logger.Init()
	cfg := config.Load()
	metrics.Init()

	worker := &TokenizeWorker{
		states: statestore.NewStore(database.GetRedis(), cfg.StateTTL),
		buildOpts: pipeline.BuildOptions{
			LookupAuth: lookup.Auth{
				TokenURL:     cfg.LookupTokenURL,
				ClientID:     cfg.LookupClientID,
				ClientSecret: cfg.LookupClientSecret,
				Scopes:       cfg.LookupScopes,
			},
			LookupTimeout: cfg.LookupTimeout,
		},
		pipelines: make(map[string]*pipeline.Pipeline),
	}

	worker.producer = kafka.NewProducer("tokenized-subjects")
	defer worker.producer.Close()

	worker.consumer = kafka.NewConsumer("subject-timelines", "tokenize-worker")
	defer worker.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := worker.consumer.Consume(ctx, worker.processSubject); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, "8091"),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8091",
		}).Info("Tokenize Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Tokenize Worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis connection")
	}

	logger.Log.Info("Tokenize Worker stopped")
}

// processSubject encodes one subject. Failures restoring the run's
// pipeline are returned so the message is retried; failures encoding
// the subject itself are logged and skipped.
func (w *TokenizeWorker) processSubject(ctx context.Context, tl models.SubjectTimeline) error {
	p, err := w.pipelineFor(ctx, tl.RunID)
	if err != nil {
		return err
	}

	subject := timeline.Timeline(tl.Events).Sorted()
	ids, stamps, err := p.EncodeSubject(subject)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"run_id":     tl.RunID,
			"subject_id": tl.SubjectID,
			"error":      err.Error(),
		}).Warn("Skipping subject that failed to encode")
		metrics.RecordSubjectFailure()
		return nil
	}

	metrics.RecordSubjectTokenized()
	return w.producer.PublishTokenized(ctx, models.TokenizedSubject{
		RunID:      tl.RunID,
		SubjectID:  tl.SubjectID,
		TokenIDs:   ids,
		Timestamps: stamps,
	})
}

func (w *TokenizeWorker) pipelineFor(ctx context.Context, runID string) (*pipeline.Pipeline, error) {
	w.mu.Lock()
	p, ok := w.pipelines[runID]
	w.mu.Unlock()
	if ok {
		return p, nil
	}

	rec, err := w.states.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading state for run %s: %w", runID, err)
	}

	cfg, err := pipeline.Parse([]byte(rec.Spec))
	if err != nil {
		return nil, fmt.Errorf("parsing spec for run %s: %w", runID, err)
	}

	p, err = pipeline.Build(ctx, cfg, w.buildOpts)
	if err != nil {
		return nil, fmt.Errorf("building pipeline for run %s: %w", runID, err)
	}
	if err := p.Restore(rec.State); err != nil {
		return nil, fmt.Errorf("restoring pipeline for run %s: %w", runID, err)
	}

	logger.Log.WithFields(logrus.Fields{
		"run_id":     runID,
		"vocab_size": p.Tokenizer().Len(),
	}).Info("Restored fitted pipeline")

	w.mu.Lock()
	w.pipelines[runID] = p
	w.mu.Unlock()
	return p, nil
}
