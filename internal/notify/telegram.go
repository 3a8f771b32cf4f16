// Package notify delivers signal notifications: the Telegram notifier and
// the queue-draining worker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// sendTimeout bounds every Telegram API call.
const sendTimeout = 10 * time.Second

// Notifier is the outbound message contract. Implementations tolerate
// rate limits by returning a retryable error.
type Notifier interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, caption string, photo []byte) error
}

// RetryableError marks transient delivery failures (rate limit, 5xx).
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient delivery failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Telegram sends messages through the Bot API. The bot token never
// appears in logs or stored payloads.
type Telegram struct {
	token  string
	client *http.Client
}

// NewTelegram creates the notifier for the given bot token.
func NewTelegram(token string) *Telegram {
	return &Telegram{
		token:  token,
		client: &http.Client{Timeout: sendTimeout},
	}
}

func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	body, _ := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID, caption string, photo []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("chat_id", chatID)
	w.WriteField("caption", caption)
	part, err := w.CreateFormFile("photo", "chart.png")
	if err != nil {
		return fmt.Errorf("telegram: build photo: %w", err)
	}
	part.Write(photo)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) apiURL(method string) string {
	return "https://api.telegram.org/bot" + t.token + "/" + method
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("telegram: send: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{Err: fmt.Errorf("telegram: status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}
}

// EscapeMarkdown escapes the characters Telegram MarkdownV2 reserves.
func EscapeMarkdown(s string) string {
	specials := "_*[]()~`>#+-=|{}.!"
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(specials); j++ {
			if s[i] == specials[j] {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

// logSendFailure logs without the chat id's full value.
func logSendFailure(err error, userID string) {
	log.Warn().Err(err).Str("user", userID).Msg("notification send failed")
}
