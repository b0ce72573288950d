package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/mawule-gabriel/synthesis/internal/clinical"
	"github.com/mawule-gabriel/synthesis/internal/parser"
	"github.com/mawule-gabriel/synthesis/internal/queue"
	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

const (
	activeChatTTL  = 30 * 24 * time.Hour
	requestTimeout = 2 * time.Minute
)

type QueuePublisher interface {
	PublishTask(ctx context.Context, task *queue.TranscriptionTask) error
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
}

// Clinician runs the clinical workflows behind the chat commands.
type Clinician interface {
	OpenConsultation(ctx context.Context, req clinical.OpenConsultationRequest) (*model.Consultation, error)
	Diagnose(ctx context.Context, req clinical.DiagnoseRequest) (*clinical.DiagnosticReport, error)
	PlanTreatment(ctx context.Context, req clinical.TreatmentRequest) (*parser.TreatmentPlan, error)
	AnalyzeImage(ctx context.Context, req clinical.ImageRequest) (*clinical.ImageReport, error)
	Diagnoses(ctx context.Context, consultationID string) ([]model.Diagnosis, error)
	AddLabResult(ctx context.Context, req clinical.LabResultRequest) (*model.LabResult, error)
	LabResults(ctx context.Context, consultationID string) ([]model.LabResult, error)
	CloseConsultation(ctx context.Context, consultationID string) error
}

type Bot struct {
	tb     *tele.Bot
	store  TaskStore
	q      QueuePublisher
	clinic Clinician
	cache  cache.Cache
}

func NewBot(token string, store TaskStore, q QueuePublisher, clinic Clinician, redisCache cache.Cache) (*Bot, error) {
	logger.Info("Starting bot initialization")

	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	tb, err := tele.NewBot(tele.Settings{
		Token: token,
		Poller: &tele.LongPoller{
			Timeout: 10 * time.Second,
		},
		OnError: func(err error, c tele.Context) {
			logger.Error("Telegram handler failed", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created successfully", zap.String("username", tb.Me.Username))

	bot := &Bot{
		tb:     tb,
		store:  store,
		q:      q,
		clinic: clinic,
		cache:  redisCache,
	}

	bot.registerHandlers()
	return bot, nil
}

func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/stop", b.handleStop)
	b.tb.Handle("/diagnose", b.handleDiagnose)
	b.tb.Handle("/treat", b.handleTreat)
	b.tb.Handle("/lab", b.handleLab)
	b.tb.Handle("/history", b.handleHistory)
	b.tb.Handle("/close", b.handleClose)
	b.tb.Handle(tele.OnAudio, b.handleAudio)
	b.tb.Handle(tele.OnVoice, b.handleVoice)
	b.tb.Handle(tele.OnDocument, b.handleDocument)
	b.tb.Handle(tele.OnPhoto, b.handlePhoto)
}

// handleStart enables media processing for the chat
func (b *Bot) handleStart(c tele.Context) error {
	chatID := c.Chat().ID
	ctx := context.Background()

	key := cache.ChatActiveCacheKey(chatID)
	if err := b.cache.SetWithTTL(ctx, key, "true", activeChatTTL); err != nil {
		logger.Error("Failed to save chat active state to cache", zap.Error(err))
	}

	logger.Info("Bot activated for chat", zap.Int64("chat_id", chatID))

	return c.Send(helpText)
}

// handleStop disables media processing for the chat
func (b *Bot) handleStop(c tele.Context) error {
	chatID := c.Chat().ID
	ctx := context.Background()

	key := cache.ChatActiveCacheKey(chatID)
	if err := b.cache.Delete(ctx, key); err != nil {
		logger.Error("Failed to delete chat active state from cache", zap.Error(err))
	}

	logger.Info("Bot deactivated for chat", zap.Int64("chat_id", chatID))

	return c.Send("Bot stopped.\nSend /start to resume.")
}

// isActive reports whether media processing is enabled for the chat
func (b *Bot) isActive(chatID int64) bool {
	ctx := context.Background()
	key := cache.ChatActiveCacheKey(chatID)

	var value string
	if err := b.cache.Get(ctx, key, &value); err != nil {
		return false
	}

	return value == "true"
}

// activeConsultation returns the consultation the chat last opened, if any
func (b *Bot) activeConsultation(ctx context.Context, chatID int64) string {
	var id string
	if err := b.cache.Get(ctx, cache.ChatConsultationCacheKey(chatID), &id); err != nil {
		return ""
	}
	return id
}

func (b *Bot) Start() {
	logger.Info("Bot started")
	b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
	logger.Info("Bot stopped")
}
