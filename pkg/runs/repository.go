package runs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("tokenization run not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

func (r *Repository) Create(ctx context.Context, run *RunModel) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, runID uuid.UUID, status string, metrics map[string]interface{}, vocabPath, outputDir, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"vocab_path":    vocabPath,
		"output_dir":    outputDir,
		"error_message": errorMessage,
		"updated_at":    time.Now().UTC(),
	}
	if metrics != nil {
		updates["metrics"] = datatypes.JSONMap(metrics)
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repository) SetTimestamps(ctx context.Context, runID uuid.UUID, startedAt, completedAt *time.Time) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if startedAt != nil {
		updates["started_at"] = *startedAt
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repository) Get(ctx context.Context, runID uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RunModel
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&out)
	return out, result.Error
}
