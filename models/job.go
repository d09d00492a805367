package models

import (
	"time"
)

// JobStatus represents the current state of a job in the system
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
)

// Valid reports whether s is one of the known job statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// chatSuffix is appended to a user id to address a private conversation.
const chatSuffix = "@c.us"

// Job represents one voice note waiting for (or done with) transcription
type Job struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"file_path"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	RequestID string    `json:"request_id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatID returns the conversation the reply for this job goes to
func (j *Job) ChatID() string {
	return j.UserID + chatSuffix
}

// TranscriptionOptions are the tuning knobs sent with every upload
type TranscriptionOptions struct {
	Model       string `json:"model" mapstructure:"model"`
	BeamSize    int    `json:"beam_size" mapstructure:"beam_size"`
	ChunkLength int    `json:"chunk_length" mapstructure:"chunk_length"`
}

// DefaultTranscriptionOptions returns the options the transcription service expects by default
func DefaultTranscriptionOptions() TranscriptionOptions {
	return TranscriptionOptions{
		Model:       "large-v2",
		BeamSize:    5,
		ChunkLength: 30,
	}
}

// WithDefaults fills every zero field from DefaultTranscriptionOptions
func (o TranscriptionOptions) WithDefaults() TranscriptionOptions {
	d := DefaultTranscriptionOptions()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.BeamSize <= 0 {
		o.BeamSize = d.BeamSize
	}
	if o.ChunkLength <= 0 {
		o.ChunkLength = d.ChunkLength
	}
	return o
}
