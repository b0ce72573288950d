package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/mawule-gabriel/synthesis/internal/clinical"
	"github.com/mawule-gabriel/synthesis/internal/parser"
	"github.com/mawule-gabriel/synthesis/internal/queue"
	"github.com/mawule-gabriel/synthesis/internal/transcribe"
	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

const (
	msgProcessing    = "Processing..."
	msgVoiceNotes    = "Voice notes are recorded as OGG, which cannot be transcribed. Send the clip as an audio file instead (WAV, MP3, MP4/M4A)."
	msgQueueFailure  = "Failed to queue the audio for transcription. Please try again."
	msgStoreFailure  = "Failed to save the transcription task."
	msgServiceFailed = "The clinical assistant is unavailable right now. Please try again."
	msgMalformed     = "The clinical assistant returned an unreadable answer. Please try again."

	msgNoConsultation = "No active consultation. Start one with /diagnose."

	labUsage = "Usage: /lab [value=9.2] [unit=g/dL] [ref=12-16] [abnormal=yes] <test name>"
)

// audioFile is the part of an incoming attachment the transcription task needs.
type audioFile struct {
	FileID      string
	FileName    string
	ContentType string
	FileSize    int64
	Duration    int
}

func (b *Bot) handleAudio(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Audio == nil {
		return c.Reply("Error: audio not found")
	}
	if !b.isActive(msg.Chat.ID) {
		return nil
	}

	return c.Reply(b.enqueueAudio(context.Background(), msg.Chat.ID, int64(msg.ID), audioFile{
		FileID:      msg.Audio.FileID,
		FileName:    msg.Audio.FileName,
		ContentType: msg.Audio.MIME,
		FileSize:    int64(msg.Audio.FileSize),
		Duration:    msg.Audio.Duration,
	}))
}

func (b *Bot) handleVoice(c tele.Context) error {
	if !b.isActive(c.Chat().ID) {
		return nil
	}
	return c.Reply(msgVoiceNotes)
}

// handleDocument routes files sent without compression by their MIME type.
func (b *Bot) handleDocument(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Document == nil {
		return c.Reply("Error: document not found")
	}
	if !b.isActive(msg.Chat.ID) {
		return nil
	}

	doc := msg.Document
	mime := strings.ToLower(doc.MIME)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return b.replyImageAnalysis(c, &doc.File, mime, msg.Caption)
	case strings.HasPrefix(mime, "audio/"):
		return c.Reply(b.enqueueAudio(context.Background(), msg.Chat.ID, int64(msg.ID), audioFile{
			FileID:      doc.FileID,
			FileName:    doc.FileName,
			ContentType: doc.MIME,
			FileSize:    int64(doc.FileSize),
		}))
	default:
		return c.Reply(fmt.Sprintf("Unsupported file type %q. Send audio (WAV, MP3, MP4/M4A) or an image (JPEG, PNG).", doc.MIME))
	}
}

// handlePhoto analyzes compressed photos, which Telegram always re-encodes as JPEG.
func (b *Bot) handlePhoto(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return c.Reply("Error: photo not found")
	}
	if !b.isActive(msg.Chat.ID) {
		return nil
	}

	return b.replyImageAnalysis(c, &msg.Photo.File, "image/jpeg", msg.Caption)
}

func (b *Bot) replyImageAnalysis(c tele.Context, file *tele.File, mediaType, caption string) error {
	if file.FileSize > clinical.MaxImageSize {
		return c.Reply("Image file is too large. Maximum size is 5MB.")
	}

	_ = c.Notify(tele.Typing)

	image, err := b.download(file, clinical.MaxImageSize+1)
	if err != nil {
		logger.Error("Failed to download image", zap.Error(err))
		return c.Reply("Failed to download the image.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return c.Reply(b.analyzeImage(ctx, c.Chat().ID, image, mediaType, caption))
}

func (b *Bot) download(file *tele.File, limit int64) ([]byte, error) {
	rc, err := b.tb.File(file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, limit))
}

func (b *Bot) handleDiagnose(c tele.Context) error {
	_ = c.Notify(tele.Typing)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return c.Send(b.diagnose(ctx, c.Chat().ID, c.Message().Payload))
}

func (b *Bot) handleTreat(c tele.Context) error {
	_ = c.Notify(tele.Typing)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return c.Send(b.treat(ctx, c.Message().Payload))
}

func (b *Bot) handleLab(c tele.Context) error {
	return c.Send(b.lab(context.Background(), c.Chat().ID, c.Message().Payload))
}

func (b *Bot) handleHistory(c tele.Context) error {
	return c.Send(b.history(context.Background(), c.Chat().ID))
}

func (b *Bot) handleClose(c tele.Context) error {
	return c.Send(b.closeConsultation(context.Background(), c.Chat().ID))
}

// enqueueAudio stores a transcription task and hands it to the workers. It
// returns the reply for the user.
func (b *Bot) enqueueAudio(ctx context.Context, chatID, messageID int64, file audioFile) string {
	if !transcribe.IsSupportedContentType(file.ContentType) {
		return fmt.Sprintf("Unsupported audio format %q. Supported formats: WAV, MP3, MP4/M4A.", file.ContentType)
	}

	now := time.Now()
	task := model.Task{
		ID:                uuid.New().String(),
		TelegramMessageID: messageID,
		ChatID:            chatID,
		FileID:            file.FileID,
		ContentType:       file.ContentType,
		Status:            model.TaskStatusQueued,
		Meta: model.JSONB{
			"duration":  file.Duration,
			"file_size": file.FileSize,
			"file_name": file.FileName,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := b.store.CreateTask(ctx, &task); err != nil {
		logger.Error("Failed to create task in database",
			zap.Error(err),
			zap.String("task_id", task.ID))
		return msgStoreFailure
	}

	logger.Info("Task created in database",
		zap.String("task_id", task.ID),
		zap.Int64("telegram_message_id", task.TelegramMessageID),
		zap.Int64("chat_id", task.ChatID))

	err := b.q.PublishTask(ctx, &queue.TranscriptionTask{
		TaskID:            task.ID,
		ChatID:            task.ChatID,
		TelegramMessageID: task.TelegramMessageID,
		FileID:            task.FileID,
		FileName:          file.FileName,
		ContentType:       file.ContentType,
		FileSize:          file.FileSize,
		Duration:          file.Duration,
		CreatedAt:         task.CreatedAt,
	})
	if err != nil {
		logger.Error("Failed to publish task to queue",
			zap.Error(err),
			zap.String("task_id", task.ID))
		return msgQueueFailure
	}

	logger.Info("Task published to queue", zap.String("task_id", task.ID))

	return msgProcessing
}

// diagnose opens a consultation from the command payload and runs a
// differential diagnosis on it. The consultation becomes the chat's active one.
func (b *Bot) diagnose(ctx context.Context, chatID int64, payload string) string {
	args := parseArgs(payload)
	if args.text == "" {
		return "Usage: /diagnose [age=45] [gender=female] [allergies=penicillin] <chief complaint>"
	}

	req := clinical.OpenConsultationRequest{
		ChatID:         chatID,
		ChiefComplaint: args.text,
		PatientGender:  args.str("gender"),
		Allergies:      args.str("allergies"),
		Vitals:         args.str("vitals"),
	}
	if age, ok := args.int("age"); ok {
		req.PatientAge = &age
	}

	consultation, err := b.clinic.OpenConsultation(ctx, req)
	if err != nil {
		return b.failureReply("open consultation", err)
	}

	if err := b.cache.Set(ctx, cache.ChatConsultationCacheKey(chatID), consultation.ID); err != nil {
		logger.Warn("Failed to remember active consultation", zap.Error(err))
	}

	report, err := b.clinic.Diagnose(ctx, clinical.DiagnoseRequest{ConsultationID: consultation.ID})
	if err != nil {
		return b.failureReply("diagnose", err)
	}

	return formatReport(report)
}

func (b *Bot) treat(ctx context.Context, payload string) string {
	args := parseArgs(payload)
	if args.text == "" {
		return "Usage: /treat [weight=70] [age=45] [renal=normal|impaired] <condition>"
	}

	req := clinical.TreatmentRequest{Condition: args.text}
	if weight, ok := args.float("weight"); ok {
		req.WeightKg = &weight
	}
	if age, ok := args.int("age"); ok {
		req.AgeYears = &age
	}
	if renal := args.str("renal"); renal != nil {
		normal := strings.EqualFold(*renal, "normal")
		req.RenalFunctionNormal = &normal
	}

	plan, err := b.clinic.PlanTreatment(ctx, req)
	if err != nil {
		return b.failureReply("plan treatment", err)
	}

	return formatPlan(plan)
}

// analyzeImage links the analysis to the chat's active consultation when
// there is one.
func (b *Bot) analyzeImage(ctx context.Context, chatID int64, image []byte, mediaType, caption string) string {
	report, err := b.clinic.AnalyzeImage(ctx, clinical.ImageRequest{
		Image:           image,
		MediaType:       mediaType,
		ClinicalContext: caption,
		ConsultationID:  b.activeConsultation(ctx, chatID),
	})
	if err != nil {
		return b.failureReply("analyze image", err)
	}

	return formatImageReport(report)
}

// lab records a measurement on the chat's active consultation.
func (b *Bot) lab(ctx context.Context, chatID int64, payload string) string {
	id := b.activeConsultation(ctx, chatID)
	if id == "" {
		return msgNoConsultation
	}

	args := parseArgs(payload)
	if args.text == "" {
		return labUsage
	}

	req := clinical.LabResultRequest{
		ConsultationID: id,
		TestName:       args.text,
		Unit:           args.str("unit"),
		ReferenceRange: args.str("ref"),
	}
	if v := args.str("value"); v != nil {
		value, err := decimal.NewFromString(*v)
		if err != nil {
			return fmt.Sprintf("Invalid value %q. %s", *v, labUsage)
		}
		req.NumericValue = decimal.NewNullDecimal(value)
	}
	if v := args.str("abnormal"); v != nil {
		abnormal, ok := parseYesNo(*v)
		if !ok {
			return fmt.Sprintf("Invalid abnormal flag %q. Use yes or no.", *v)
		}
		req.IsAbnormal = &abnormal
	}

	r, err := b.clinic.AddLabResult(ctx, req)
	if err != nil {
		return b.failureReply("add lab result", err)
	}

	return "Lab result saved: " + clinical.FormatLabResult(*r)
}

// history lists what was stored for the chat's active consultation.
func (b *Bot) history(ctx context.Context, chatID int64) string {
	id := b.activeConsultation(ctx, chatID)
	if id == "" {
		return msgNoConsultation
	}

	diagnoses, err := b.clinic.Diagnoses(ctx, id)
	if err != nil {
		return b.failureReply("list diagnoses", err)
	}

	labs, err := b.clinic.LabResults(ctx, id)
	if err != nil {
		return b.failureReply("list lab results", err)
	}

	return formatHistory(diagnoses, labs)
}

func (b *Bot) closeConsultation(ctx context.Context, chatID int64) string {
	id := b.activeConsultation(ctx, chatID)
	if id == "" {
		return msgNoConsultation
	}

	if err := b.clinic.CloseConsultation(ctx, id); err != nil {
		return b.failureReply("close consultation", err)
	}

	if err := b.cache.Delete(ctx, cache.ChatConsultationCacheKey(chatID)); err != nil {
		logger.Warn("Failed to forget active consultation", zap.Error(err))
	}

	return "Consultation closed."
}

func (b *Bot) failureReply(op string, err error) string {
	switch {
	case errors.Is(err, clinical.ErrValidation):
		return strings.TrimPrefix(err.Error(), clinical.ErrValidation.Error()+": ")
	case errors.Is(err, parser.ErrMalformedResponse):
		logger.Warn("Malformed model response", zap.String("op", op), zap.Error(err))
		return msgMalformed
	default:
		logger.Error("Clinical request failed", zap.String("op", op), zap.Error(err))
		return msgServiceFailed
	}
}

// commandArgs splits a payload into leading key=value options and free text.
type commandArgs struct {
	opts map[string]string
	text string
}

func parseArgs(payload string) commandArgs {
	args := commandArgs{opts: map[string]string{}}
	fields := strings.Fields(payload)

	i := 0
	for ; i < len(fields); i++ {
		key, value, ok := strings.Cut(fields[i], "=")
		if !ok || key == "" || value == "" {
			break
		}
		args.opts[strings.ToLower(key)] = value
	}

	args.text = strings.Join(fields[i:], " ")
	return args
}

func (a commandArgs) str(key string) *string {
	v, ok := a.opts[key]
	if !ok {
		return nil
	}
	return &v
}

func (a commandArgs) int(key string) (int, bool) {
	n, err := strconv.Atoi(a.opts[key])
	return n, err == nil
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "yes", "y", "true", "1":
		return true, true
	case "no", "n", "false", "0":
		return false, true
	}
	return false, false
}

func (a commandArgs) float(key string) (float64, bool) {
	f, err := strconv.ParseFloat(a.opts[key], 64)
	return f, err == nil
}
