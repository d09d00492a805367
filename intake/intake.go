// Package intake turns inbound voice notes into queued transcription jobs.
package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/messaging"
)

// Decrypter fetches the audio bytes of a message.
type Decrypter interface {
	Decrypt(ctx context.Context, msg messaging.InboundMessage) ([]byte, error)
}

// Submitter persists a job for a saved audio file.
type Submitter interface {
	NewRequestID() string
	Submit(ctx context.Context, filePath, userID, messageID, requestID string) (int64, error)
}

// Waker is notified after every successful enqueue.
type Waker interface {
	Notify()
}

// Handler saves inbound audio under uploadDir and enqueues it.
type Handler struct {
	uploadDir string
	decrypter Decrypter
	submitter Submitter
	waker     Waker
	log       zerolog.Logger
}

// NewHandler creates an intake handler
func NewHandler(uploadDir string, d Decrypter, s Submitter, w Waker, log zerolog.Logger) *Handler {
	return &Handler{
		uploadDir: uploadDir,
		decrypter: d,
		submitter: s,
		waker:     w,
		log:       log,
	}
}

// HandleAudio is a messaging.AudioHandler. Failures are logged; the sender
// gets no reply for a note that never made it into the queue.
func (h *Handler) HandleAudio(ctx context.Context, msg messaging.InboundMessage) {
	if _, err := h.Enqueue(ctx, msg); err != nil {
		h.log.Error().Err(err).
			Str("message_id", msg.ID).
			Str("user_id", msg.UserID()).
			Msg("Failed to enqueue audio")
	}
}

// Enqueue saves the audio of msg as {uploadDir}/{requestId}.wav, records a
// pending job and wakes the processor. It returns the job id.
func (h *Handler) Enqueue(ctx context.Context, msg messaging.InboundMessage) (int64, error) {
	userID := msg.UserID()
	if userID == "" {
		return 0, errors.New("message has no sender")
	}
	requestID := h.submitter.NewRequestID()

	data, err := h.decrypter.Decrypt(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt audio: %w", err)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(h.uploadDir, requestID+".wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to save audio: %w", err)
	}
	h.log.Info().Str("file", path).Str("request_id", requestID).Msg("Audio saved")

	id, err := h.submitter.Submit(ctx, path, userID, msg.ID, requestID)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			h.log.Warn().Err(rmErr).Str("file", path).Msg("Failed to remove orphaned audio file")
		}
		return 0, err
	}

	h.waker.Notify()
	return id, nil
}
