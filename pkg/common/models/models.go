package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the canonical unit of a subject timeline. A nil Time marks a
// static/context event; static events sort before all timed events.
type Event struct {
	SubjectID    string     `json:"subject_id"`
	Code         *string    `json:"code"`
	NumericValue *float64   `json:"numeric_value,omitempty"`
	TextValue    *string    `json:"text_value,omitempty"`
	Time         *time.Time `json:"time"`
}

func (e Event) HasTime() bool {
	return e.Time != nil
}

func (e Event) CodeString() string {
	if e.Code == nil {
		return ""
	}
	return *e.Code
}

func String(s string) *string {
	return &s
}

func Float(f float64) *float64 {
	return &f
}

func Timestamp(t time.Time) *time.Time {
	return &t
}

// Bus payloads
type SubjectTimeline struct {
	RunID     string  `json:"run_id"`
	SubjectID string  `json:"subject_id"`
	Events    []Event `json:"events"`
}

type TokenizedSubject struct {
	RunID      string    `json:"run_id"`
	SubjectID  string    `json:"subject_id"`
	Tokens     []string  `json:"tokens,omitempty"`
	TokenIDs   []int     `json:"token_ids"`
	Timestamps []float64 `json:"timestamps"`
}

type RunEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run-started, run-completed, run-failed
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Run API models
type TokenizationRun struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Spec         string                 `json:"spec,omitempty"`
	Status       string                 `json:"status"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	VocabPath    string                 `json:"vocab_path,omitempty"`
	OutputDir    string                 `json:"output_dir,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

type CreateRunRequest struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
}
