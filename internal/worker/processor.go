package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/internal/queue"
	"github.com/mawule-gabriel/synthesis/internal/storage"
	"github.com/mawule-gabriel/synthesis/internal/transcribe"
	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

const (
	msgTimeout     = "Transcription timed out. Try a shorter audio clip (< 30 seconds recommended)."
	msgGaveUp      = "Could not transcribe this audio after several attempts."
	msgNoSpeech    = "No speech was recognized in this clip."
	transcriptHead = "Transcript (confidence %.0f%%):\n\n%s"
)

type TaskStore interface {
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	SaveTranscript(ctx context.Context, transcript *model.Transcript) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Job, error)
}

// Messenger fetches attachments from and replies to the chat a task came from.
type Messenger interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
	Reply(chatID, messageID int64, text string) error
}

type Processor struct {
	store       TaskStore
	transcriber Transcriber
	messenger   Messenger
	cache       cache.Cache
}

// NewProcessor creates a new worker processor
func NewProcessor(store TaskStore, transcriber Transcriber, messenger Messenger, c cache.Cache) *Processor {
	return &Processor{
		store:       store,
		transcriber: transcriber,
		messenger:   messenger,
		cache:       c,
	}
}

// ProcessTask handles one queued transcription task. Returning an error wrapped
// with queue.Permanent drops the delivery; any other error requeues it.
func (p *Processor) ProcessTask(ctx context.Context, body []byte) error {
	msg, err := queue.DecodeTask(body)
	if err != nil {
		metrics.TasksProcessed.WithLabelValues("rejected").Inc()
		return err
	}

	log := logger.With(
		zap.String("task_id", msg.TaskID),
		zap.Int64("chat_id", msg.ChatID))
	log.Info("Processing transcription task")

	if p.alreadyDone(ctx, msg.TaskID, log) {
		log.Info("Task already completed, skipping")
		metrics.TasksProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	task, err := p.store.GetTaskByID(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("failed to get task from db: %w", err)
	}
	if task.Status == model.TaskStatusDone {
		p.markDone(ctx, task.ID, log)
		metrics.TasksProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	task.SetInProgress("")
	if err := p.store.UpdateTask(ctx, task); err != nil {
		log.Error("Failed to update task status", zap.Error(err))
	}

	audio, err := p.messenger.Download(ctx, msg.FileID)
	if err != nil {
		return p.retryOrGiveUp(ctx, task, fmt.Errorf("failed to download file: %w", err), log)
	}

	log.Info("File downloaded from Telegram", zap.Int("size", len(audio)))

	job, err := p.transcriber.Transcribe(ctx, transcribe.Request{
		ID:          task.ID,
		Audio:       audio,
		ContentType: msg.ContentType,
		FileName:    msg.FileName,
	})
	if job != nil {
		task.JobName = &job.ID
	}
	if err != nil {
		return p.handleTranscribeError(ctx, task, err, log)
	}

	transcript := &model.Transcript{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		Text:         job.Result.Transcript,
		Confidence:   job.Result.Confidence,
		LanguageCode: job.Result.LanguageCode,
		CreatedAt:    time.Now(),
	}
	if err := p.store.SaveTranscript(ctx, transcript); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	task.SetCompleted()
	if err := p.store.UpdateTask(ctx, task); err != nil {
		log.Error("Failed to update task status to done", zap.Error(err))
	}

	p.markDone(ctx, task.ID, log)
	if err := p.cache.Set(ctx, cache.TranscriptCacheKey(task.ID), transcript); err != nil {
		log.Warn("Failed to cache transcript", zap.Error(err))
	}

	p.reply(task, formatTranscript(transcript), log)

	metrics.TasksProcessed.WithLabelValues("done").Inc()
	log.Info("Task completed successfully",
		zap.Int("text_length", len(transcript.Text)),
		zap.Float64("confidence", transcript.Confidence))

	return nil
}

func (p *Processor) handleTranscribeError(ctx context.Context, task *model.Task, err error, log *zap.Logger) error {
	switch {
	case errors.Is(err, transcribe.ErrPollingInterrupted):
		log.Warn("Transcription interrupted, task will be redelivered", zap.Error(err))
		metrics.TasksProcessed.WithLabelValues("interrupted").Inc()
		return err
	case errors.Is(err, transcribe.ErrUnsupportedMediaType), errors.Is(err, transcribe.ErrEmptyMedia):
		p.fail(ctx, task, err, log)
		p.reply(task, err.Error(), log)
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return queue.Permanent(err)
	case errors.Is(err, transcribe.ErrTranscriptionTimeout):
		p.fail(ctx, task, err, log)
		p.reply(task, msgTimeout, log)
		metrics.TasksProcessed.WithLabelValues("timed_out").Inc()
		return queue.Permanent(err)
	default:
		return p.retryOrGiveUp(ctx, task, err, log)
	}
}

// retryOrGiveUp requeues the task until it has used MaxTaskAttempts.
func (p *Processor) retryOrGiveUp(ctx context.Context, task *model.Task, err error, log *zap.Logger) error {
	task.IncrementAttempts()
	p.fail(ctx, task, err, log)

	if task.CanRetry() {
		metrics.TasksProcessed.WithLabelValues("retry").Inc()
		return err
	}

	p.reply(task, msgGaveUp, log)
	metrics.TasksProcessed.WithLabelValues("failed").Inc()
	return queue.Permanent(err)
}

// fail records err on the task
func (p *Processor) fail(ctx context.Context, task *model.Task, err error, log *zap.Logger) {
	log.Error("Task processing error",
		zap.Int("attempts", task.Attempts),
		zap.Error(err))

	task.SetError(err.Error())
	if updateErr := p.store.UpdateTask(ctx, task); updateErr != nil {
		log.Error("Failed to update task error", zap.Error(updateErr))
	}
}

func (p *Processor) reply(task *model.Task, text string, log *zap.Logger) {
	if err := p.messenger.Reply(task.ChatID, task.TelegramMessageID, text); err != nil {
		log.Error("Failed to send result to user", zap.Error(err))
	}
}

func (p *Processor) alreadyDone(ctx context.Context, taskID string, log *zap.Logger) bool {
	done, err := p.cache.Exists(ctx, cache.TaskDoneCacheKey(taskID))
	if err != nil {
		log.Warn("Failed to check task cache", zap.Error(err))
		return false
	}
	return done
}

func (p *Processor) markDone(ctx context.Context, taskID string, log *zap.Logger) {
	if err := p.cache.Set(ctx, cache.TaskDoneCacheKey(taskID), true); err != nil {
		log.Warn("Failed to mark task done in cache", zap.Error(err))
	}
}

func formatTranscript(t *model.Transcript) string {
	if t.Text == "" {
		return msgNoSpeech
	}
	return fmt.Sprintf(transcriptHead, t.Confidence*100, t.Text)
}
