package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus represents the status of a transcription task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// MaxTaskAttempts bounds redelivery of a failed transcription task.
const MaxTaskAttempts = 3

// JSONB represents a JSONB field for PostgreSQL
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
}

// Task represents one queued audio clip awaiting transcription
type Task struct {
	ID                string     `json:"id" db:"id"`
	TelegramMessageID int64      `json:"telegram_message_id" db:"telegram_message_id"`
	ChatID            int64      `json:"chat_id" db:"chat_id"`
	FileID            string     `json:"file_id" db:"file_id"`
	ContentType       string     `json:"content_type" db:"content_type"`
	Status            TaskStatus `json:"status" db:"status"`
	JobName           *string    `json:"job_name,omitempty" db:"job_name"`
	Attempts          int        `json:"attempts" db:"attempts"`
	ErrorText         *string    `json:"error_text,omitempty" db:"error_text"`
	Meta              JSONB      `json:"meta" db:"meta"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Transcript represents a transcribed clip
type Transcript struct {
	ID           string    `json:"id" db:"id"`
	TaskID       string    `json:"task_id" db:"task_id"`
	Text         string    `json:"text" db:"text"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	LanguageCode string    `json:"language_code" db:"language_code"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// IsCompleted returns true if the task is in a final state
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.Attempts < MaxTaskAttempts
}

// IncrementAttempts increases the attempt counter
func (t *Task) IncrementAttempts() {
	t.Attempts++
}

// SetError sets the task status to failed with error message
func (t *Task) SetError(errorText string) {
	t.Status = TaskStatusFailed
	t.ErrorText = &errorText
	t.UpdatedAt = time.Now()
}

// SetCompleted sets the task status to done
func (t *Task) SetCompleted() {
	t.Status = TaskStatusDone
	t.ErrorText = nil
	t.UpdatedAt = time.Now()
}

// SetInProgress sets the task status to in progress, recording the provider
// job name when known
func (t *Task) SetInProgress(jobName string) {
	t.Status = TaskStatusInProgress
	if jobName != "" {
		t.JobName = &jobName
	}
	t.UpdatedAt = time.Now()
}

// ConsultationStatus tracks a clinical encounter
type ConsultationStatus string

const (
	ConsultationStatusOpen       ConsultationStatus = "open"
	ConsultationStatusInProgress ConsultationStatus = "in_progress"
	ConsultationStatusClosed     ConsultationStatus = "closed"
)

// Consultation is one clinical encounter opened from a chat
type Consultation struct {
	ID             string             `json:"id" db:"id"`
	ChatID         int64              `json:"chat_id" db:"chat_id"`
	Status         ConsultationStatus `json:"status" db:"status"`
	ChiefComplaint string             `json:"chief_complaint" db:"chief_complaint"`
	PatientAge     *int               `json:"patient_age,omitempty" db:"patient_age"`
	PatientGender  *string            `json:"patient_gender,omitempty" db:"patient_gender"`
	Allergies      *string            `json:"allergies,omitempty" db:"allergies"`
	Vitals         *string            `json:"vitals,omitempty" db:"vitals"`
	Notes          *string            `json:"notes,omitempty" db:"notes"`
	OpenedAt       time.Time          `json:"opened_at" db:"opened_at"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty" db:"closed_at"`
}

// Diagnosis is a persisted differential
type Diagnosis struct {
	ID             string          `json:"id" db:"id"`
	ConsultationID string          `json:"consultation_id" db:"consultation_id"`
	ConditionName  string          `json:"condition_name" db:"condition_name"`
	Confidence     decimal.Decimal `json:"confidence" db:"confidence_score"`
	Reasoning      string          `json:"reasoning" db:"reasoning"`
	Source         string          `json:"source" db:"source"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ImageAnalysis is a persisted reading of a clinical image
type ImageAnalysis struct {
	ID             string    `json:"id" db:"id"`
	ConsultationID *string   `json:"consultation_id,omitempty" db:"consultation_id"`
	MediaType      string    `json:"media_type" db:"media_type"`
	Description    string    `json:"description" db:"description"`
	Findings       []string  `json:"findings" db:"findings"`
	AnalyzedAt     time.Time `json:"analyzed_at" db:"analyzed_at"`
}

// LabResult is one laboratory measurement recorded for a consultation
type LabResult struct {
	ID             string              `json:"id" db:"id"`
	ConsultationID string              `json:"consultation_id" db:"consultation_id"`
	TestName       string              `json:"test_name" db:"test_name"`
	NumericValue   decimal.NullDecimal `json:"numeric_value" db:"numeric_value"`
	Unit           *string             `json:"unit,omitempty" db:"unit"`
	IsAbnormal     *bool               `json:"is_abnormal,omitempty" db:"is_abnormal"`
	ReferenceRange *string             `json:"reference_range,omitempty" db:"reference_range"`
	RecordedAt     time.Time           `json:"recorded_at" db:"recorded_at"`
}
