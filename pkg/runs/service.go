package runs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sequelae-ai/tokenize/pkg/common/kafka"
	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/observability/metrics"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
	"github.com/sequelae-ai/tokenize/pkg/statestore"
	"github.com/sequelae-ai/tokenize/pkg/timeline"
	"github.com/sequelae-ai/tokenize/pkg/tokenizer"
)

// ErrInvalidRun marks a create request the API should reject.
var ErrInvalidRun = errors.New("invalid run request")

// ErrVocabNotReady is returned when a run has not produced its
// vocabulary artifact yet.
var ErrVocabNotReady = errors.New("run vocabulary not available")

type Service struct {
	repo        *Repository
	states      *statestore.Store
	events      *kafka.Producer
	buildOpts   pipeline.BuildOptions
	artifactDir string
	workerSem   chan struct{}
}

func NewService(repo *Repository, states *statestore.Store, events *kafka.Producer, buildOpts pipeline.BuildOptions, artifactDir string, maxWorkers int) (*Service, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}
	return &Service{
		repo:        repo,
		states:      states,
		events:      events,
		buildOpts:   buildOpts,
		artifactDir: artifactDir,
		workerSem:   make(chan struct{}, maxWorkers),
	}, nil
}

// Create validates the spec, records the run as queued and executes it
// in the background.
func (s *Service) Create(ctx context.Context, req models.CreateRunRequest) (models.TokenizationRun, error) {
	if req.Name == "" {
		return models.TokenizationRun{}, fmt.Errorf("%w: name is required", ErrInvalidRun)
	}
	cfg, err := pipeline.Parse([]byte(req.Spec))
	if err != nil {
		return models.TokenizationRun{}, err
	}

	runID := uuid.New()
	now := time.Now().UTC()
	run := &RunModel{
		ID:        runID,
		Name:      req.Name,
		Spec:      req.Spec,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return models.TokenizationRun{}, err
	}

	go s.run(runID, req, cfg)
	return toDomain(run), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.TokenizationRun, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.TokenizationRun{}, err
	}
	return toDomain(run), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.TokenizationRun, error) {
	items, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.TokenizationRun, 0, len(items))
	for i := range items {
		out = append(out, toDomain(&items[i]))
	}
	return out, nil
}

// VocabPreview reads the head of a run's vocabulary artifact.
func (s *Service) VocabPreview(ctx context.Context, id uuid.UUID, limit int) ([]tokenizer.VocabEntry, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.VocabPath == "" {
		return nil, fmt.Errorf("%w: run %s", ErrVocabNotReady, id)
	}
	return readVocabCSV(run.VocabPath, limit)
}

func (s *Service) run(runID uuid.UUID, req models.CreateRunRequest, cfg *pipeline.Config) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	start := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, runID, StatusRunning, nil, "", "", ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark run running")
	}
	if err := s.repo.SetTimestamps(ctx, runID, &start, nil); err != nil {
		logger.Log.WithError(err).Error("failed to set start timestamp")
	}
	s.publish(ctx, "run-started", runID, map[string]interface{}{"name": req.Name})

	dataset, err := pipeline.DiscoverDataset(cfg.Data.Path)
	if err != nil {
		s.fail(ctx, runID, err)
		return
	}

	p, err := pipeline.Build(ctx, cfg, s.buildOpts)
	if err != nil {
		s.fail(ctx, runID, err)
		return
	}

	if err := p.Fit(ctx, dataset.Source("train")); err != nil {
		s.fail(ctx, runID, fmt.Errorf("fitting pipeline: %w", err))
		return
	}

	snap, err := p.Snapshot()
	if err != nil {
		s.fail(ctx, runID, err)
		return
	}
	rec := statestore.Record{
		RunID:     runID.String(),
		Spec:      req.Spec,
		State:     snap,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.states.Save(ctx, rec); err != nil {
		s.fail(ctx, runID, fmt.Errorf("saving run state: %w", err))
		return
	}

	runDir := filepath.Join(s.artifactDir, runID.String())
	runMetrics := map[string]interface{}{
		"vocab_size":  p.Tokenizer().Len(),
		"fit_seconds": time.Since(start).Seconds(),
	}
	failures := 0
	for _, split := range pipeline.DatasetSplits {
		splitDir := filepath.Join(runDir, split)
		if err := os.MkdirAll(splitDir, 0o755); err != nil {
			s.fail(ctx, runID, err)
			return
		}
		encoded, failed, err := s.encodeSplit(ctx, p, runID.String(), dataset.Source(split), filepath.Join(splitDir, "0.jsonl"))
		if err != nil {
			s.fail(ctx, runID, fmt.Errorf("encoding %s split: %w", split, err))
			return
		}
		runMetrics[split+"_subjects"] = encoded
		failures += failed
	}
	runMetrics["failed_subjects"] = failures

	vocabPath, err := s.writeArtifacts(runDir, runID, req, p)
	if err != nil {
		s.fail(ctx, runID, fmt.Errorf("writing artifacts: %w", err))
		return
	}

	if err := s.repo.UpdateStatus(ctx, runID, StatusCompleted, runMetrics, vocabPath, runDir, ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark run complete")
	}
	completed := time.Now().UTC()
	if err := s.repo.SetTimestamps(ctx, runID, nil, &completed); err != nil {
		logger.Log.WithError(err).Error("failed to set completion timestamp")
	}
	metrics.RecordRunCompleted()
	s.publish(ctx, "run-completed", runID, map[string]interface{}{
		"vocab_size": p.Tokenizer().Len(),
		"output_dir": runDir,
	})

	logger.Log.WithFields(logrus.Fields{
		"run_id":     runID.String(),
		"vocab_size": p.Tokenizer().Len(),
		"failures":   failures,
	}).Info("Tokenization run completed")
}

// encodeSplit streams one split through the fitted pipeline into a
// JSONL artifact. A subject that fails to encode is logged, counted
// and skipped.
func (s *Service) encodeSplit(ctx context.Context, p *pipeline.Pipeline, runID string, src pipeline.Source, outPath string) (int, int, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	encoded, failed := 0, 0
	err = src.Subjects(ctx, func(tl timeline.Timeline) error {
		ids, stamps, encodeErr := p.EncodeSubject(tl)
		if encodeErr != nil {
			logger.Log.WithFields(logrus.Fields{
				"run_id":     runID,
				"subject_id": tl.SubjectID(),
				"error":      encodeErr.Error(),
			}).Warn("Skipping subject during encode")
			metrics.RecordSubjectFailure()
			failed++
			return nil
		}
		encoded++
		metrics.RecordSubjectTokenized()
		return enc.Encode(models.TokenizedSubject{
			RunID:      runID,
			SubjectID:  tl.SubjectID(),
			TokenIDs:   ids,
			Timestamps: stamps,
		})
	})
	if err != nil {
		return encoded, failed, err
	}
	return encoded, failed, nil
}

func (s *Service) writeArtifacts(runDir string, runID uuid.UUID, req models.CreateRunRequest, p *pipeline.Pipeline) (string, error) {
	if err := os.WriteFile(filepath.Join(runDir, "config.yaml"), []byte(req.Spec), 0o644); err != nil {
		return "", err
	}

	metadata := map[string]interface{}{
		"run_id":     runID.String(),
		"run_name":   req.Name,
		"created_at": time.Now().UTC(),
		"vocab_size": p.Tokenizer().Len(),
	}
	payload, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, "metadata.json"), payload, 0o644); err != nil {
		return "", err
	}

	vocabPath := filepath.Join(runDir, "vocab.csv")
	f, err := os.Create(vocabPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := p.Tokenizer().WriteVocabCSV(f); err != nil {
		return "", err
	}
	return vocabPath, nil
}

func (s *Service) fail(ctx context.Context, runID uuid.UUID, err error) {
	logger.Log.WithError(err).WithField("run_id", runID.String()).Error("Tokenization run failed")
	if dbErr := s.repo.UpdateStatus(ctx, runID, StatusFailed, nil, "", "", err.Error()); dbErr != nil {
		logger.Log.WithError(dbErr).Error("failed to mark run failed")
	}
	completed := time.Now().UTC()
	if dbErr := s.repo.SetTimestamps(ctx, runID, nil, &completed); dbErr != nil {
		logger.Log.WithError(dbErr).Error("failed to set completion timestamp")
	}
	metrics.RecordRunFailed()
	s.publish(ctx, "run-failed", runID, map[string]interface{}{"error": err.Error()})
}

func (s *Service) publish(ctx context.Context, eventType string, runID uuid.UUID, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRunEvent(ctx, eventType, runID.String(), data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish run event")
	}
}

func readVocabCSV(path string, limit int) ([]tokenizer.VocabEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	if len(header) != 3 || header[0] != "token" {
		return nil, fmt.Errorf("unexpected vocabulary header in %s: %v", path, header)
	}

	out := make([]tokenizer.VocabEntry, 0, limit)
	for len(out) < limit {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
		}
		id, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("vocabulary %s: bad token id %q", path, rec[0])
		}
		count, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vocabulary %s: bad count %q", path, rec[2])
		}
		out = append(out, tokenizer.VocabEntry{ID: id, Text: rec[1], Count: count})
	}
	return out, nil
}
