package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
)

// ErrSnapshotNotFound is returned when no state was saved for a run.
var ErrSnapshotNotFound = errors.New("statestore: run snapshot not found")

// Record is the persisted fitted state of one run: the spec the
// pipeline was built from plus the learned snapshot to restore into it.
type Record struct {
	RunID     string             `json:"run_id"`
	Spec      string             `json:"spec"`
	State     *pipeline.Snapshot `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store keeps run snapshots in Redis so apply-only workers can load
// fitted pipelines without a training pass.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps a Redis client. A zero ttl keeps snapshots until
// deleted.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func snapshotKey(runID string) string {
	return fmt.Sprintf("tokenize:runs:%s:state", runID)
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("statestore: record requires a run id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding snapshot for run %s: %w", rec.RunID, err)
	}

	key := snapshotKey(rec.RunID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing snapshot %s: %w", key, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Stored run snapshot")
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*Record, error) {
	data, err := s.client.Get(ctx, snapshotKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot for run %s: %w", runID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding snapshot for run %s: %w", runID, err)
	}
	return &rec, nil
}
