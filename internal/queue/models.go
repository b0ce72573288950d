package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a handler failure that retrying cannot fix. Such
// deliveries are rejected without requeue and land in the dead-letter queue.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer does not requeue the delivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// TranscriptionTask asks a worker to transcribe one audio attachment
type TranscriptionTask struct {
	TaskID            string    `json:"task_id"`
	ChatID            int64     `json:"chat_id"`
	TelegramMessageID int64     `json:"telegram_message_id"`
	FileID            string    `json:"file_id"`
	FileName          string    `json:"file_name,omitempty"`
	ContentType       string    `json:"content_type"`
	FileSize          int64     `json:"file_size"`
	Duration          int       `json:"duration"`
	CreatedAt         time.Time `json:"created_at"`
}

// DecodeTask parses a delivery body. A body that can never be decoded is a
// permanent failure.
func DecodeTask(body []byte) (*TranscriptionTask, error) {
	var task TranscriptionTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, Permanent(fmt.Errorf("failed to unmarshal task: %w", err))
	}
	if task.TaskID == "" || task.FileID == "" {
		return nil, Permanent(fmt.Errorf("task is missing task_id or file_id"))
	}
	return &task, nil
}
