// Package transcriber talks to the external transcription service: it uploads
// voice notes and extracts the plain text from the rendered result page.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/models"
)

const maxErrorBody = 512

// Acknowledgement is the JSON the service answers an upload with.
type Acknowledgement map[string]any

// Client uploads audio files to the transcription service.
type Client struct {
	baseURL  string
	defaults models.TranscriptionOptions
	http     *http.Client
	log      zerolog.Logger
}

// NewClient creates a client for the service at baseURL. A zero timeout
// leaves the upload unbounded. Zero fields of defaults fall back to
// models.DefaultTranscriptionOptions.
func NewClient(baseURL string, defaults models.TranscriptionOptions, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		defaults: defaults.WithDefaults(),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Submit uploads the file at filePath with the job's correlation fields. Zero
// fields in opts use the client's defaults.
func (c *Client) Submit(ctx context.Context, filePath, userID, requestID string, opts models.TranscriptionOptions) (Acknowledgement, error) {
	opts = c.merge(opts)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUpload(mw, f, filepath.Base(filePath), map[string]string{
			"user_id":      userID,
			"request_id":   requestID,
			"model":        opts.Model,
			"beam_size":    strconv.Itoa(opts.BeamSize),
			"chunk_length": strconv.Itoa(opts.ChunkLength),
		}))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Debug().Str("request_id", requestID).Str("model", opts.Model).Msg("Uploading audio")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TranscriptionServiceError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TranscriptionServiceError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TranscriptionServiceError{
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}

	ack := Acknowledgement{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			return nil, &TranscriptionServiceError{Message: "invalid acknowledgement: " + err.Error()}
		}
	}
	return ack, nil
}

func (c *Client) merge(opts models.TranscriptionOptions) models.TranscriptionOptions {
	if opts.Model == "" {
		opts.Model = c.defaults.Model
	}
	if opts.BeamSize <= 0 {
		opts.BeamSize = c.defaults.BeamSize
	}
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = c.defaults.ChunkLength
	}
	return opts
}

// writeUpload streams the multipart body: the file part first, then the form fields.
func writeUpload(mw *multipart.Writer, src io.Reader, fileName string, fields map[string]string) error {
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	for _, k := range []string{"user_id", "request_id", "model", "beam_size", "chunk_length"} {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}
	return mw.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
