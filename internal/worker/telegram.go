package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// maxDownloadSize matches the Bot API limit for files fetched by bots.
const maxDownloadSize = 20 << 20

// Telegram implements Messenger on top of a telebot client.
type Telegram struct {
	bot        *tele.Bot
	httpClient *http.Client
}

func NewTelegram(bot *tele.Bot) *Telegram {
	return &Telegram{
		bot: bot,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Download downloads file from Telegram
func (t *Telegram) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.bot.FileByID(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	fileURL := t.bot.URL + "/file/bot" + t.bot.Token + "/" + file.FilePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}

	return data, nil
}

// Reply sends text as a reply to the original message
func (t *Telegram) Reply(chatID, messageID int64, text string) error {
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ReplyTo: &tele.Message{ID: int(messageID)},
	})
	return err
}
