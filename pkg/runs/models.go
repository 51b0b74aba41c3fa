package runs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Name         string            `gorm:"column:name"`
	Spec         string            `gorm:"column:spec"`
	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	VocabPath    string            `gorm:"column:vocab_path"`
	OutputDir    string            `gorm:"column:output_dir"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "tokenization_runs"
}

func toDomain(run *RunModel) models.TokenizationRun {
	result := models.TokenizationRun{
		ID:           run.ID,
		Name:         run.Name,
		Spec:         run.Spec,
		Status:       run.Status,
		VocabPath:    run.VocabPath,
		OutputDir:    run.OutputDir,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.Metrics != nil {
		result.Metrics = map[string]interface{}(run.Metrics)
	}
	return result
}
