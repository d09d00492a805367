package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WPPConnectConfig locates the WPPConnect server that owns the WhatsApp session.
type WPPConnectConfig struct {
	BaseURL string
	Session string
	Token   string
	Timeout time.Duration
}

// WebhookEvent is the payload WPPConnect posts to its webhook. Message
// events carry the message fields at the top level.
type WebhookEvent struct {
	Event   string `json:"event" binding:"required"`
	Session string `json:"session"`
	InboundMessage
}

// WPPConnect implements Client on top of the WPPConnect server REST API.
// Inbound messages arrive through HandleWebhook.
type WPPConnect struct {
	cfg  WPPConnectConfig
	http *http.Client
	log  zerolog.Logger

	mu       sync.RWMutex
	handlers []AudioHandler
}

var _ Client = (*WPPConnect)(nil)

// NewWPPConnect creates a client for the given server and session
func NewWPPConnect(cfg WPPConnectConfig, log zerolog.Logger) *WPPConnect {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WPPConnect{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// OnInboundAudio registers a handler for audio messages
func (w *WPPConnect) OnInboundAudio(handler AudioHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// HandleWebhook dispatches a webhook event. Only new audio messages reach
// the registered handlers.
func (w *WPPConnect) HandleWebhook(ctx context.Context, ev WebhookEvent) {
	if !strings.EqualFold(ev.Event, "onmessage") {
		w.log.Debug().Str("event", ev.Event).Msg("Ignoring webhook event")
		return
	}

	msg := ev.InboundMessage
	if !msg.IsAudio() {
		w.log.Info().Str("type", msg.Type).Str("from", msg.From).Msg("Received message is not audio")
		return
	}
	if msg.ID == "" || msg.From == "" {
		w.log.Warn().Msg("Audio message without id or sender, skipping")
		return
	}

	w.mu.RLock()
	handlers := append([]AudioHandler(nil), w.handlers...)
	w.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

type downloadMediaResponse struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
}

// Decrypt returns the decrypted media bytes of an audio message
func (w *WPPConnect) Decrypt(ctx context.Context, msg InboundMessage) ([]byte, error) {
	if !msg.IsAudio() {
		return nil, ErrNotAudio
	}
	if msg.Body != "" {
		if data, err := decodeMedia(msg.Body); err == nil && len(data) > 0 {
			return data, nil
		}
	}

	var resp downloadMediaResponse
	if err := w.post(ctx, "download-media", map[string]any{"messageId": msg.ID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to download media for %s: %w", msg.ID, err)
	}

	data, err := decodeMedia(resp.Base64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media for %s: %w", msg.ID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty media for %s", msg.ID)
	}
	return data, nil
}

// Reply sends text to chatID as a reply to inReplyTo
func (w *WPPConnect) Reply(ctx context.Context, chatID, text, inReplyTo string) error {
	phone, server, _ := strings.Cut(chatID, "@")
	body := map[string]any{
		"phone":     phone,
		"isGroup":   server == "g.us",
		"message":   text,
		"messageId": inReplyTo,
	}
	if err := w.post(ctx, "send-reply", body, nil); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", chatID, err)
	}
	return nil
}

func (w *WPPConnect) post(ctx context.Context, action string, payload any, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/%s/%s", w.cfg.BaseURL, url.PathEscape(w.cfg.Session), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wppconnect %s returned status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeMedia accepts plain base64 or a data URI.
func decodeMedia(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, after, ok := strings.Cut(s, ","); ok {
			s = after
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
