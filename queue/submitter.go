package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Submitter turns an inbound voice note that is already on disk into a
// pending job.
type Submitter struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewSubmitter creates a submitter backed by store
func NewSubmitter(store Store, log zerolog.Logger) *Submitter {
	return &Submitter{store: store, log: log, now: time.Now}
}

// NewRequestID returns a fresh correlation token: the unix time in
// milliseconds followed by eight hex characters of a random UUID.
func (s *Submitter) NewRequestID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", s.now().UnixMilli(), suffix)
}

// Submit enqueues the job and returns its id
func (s *Submitter) Submit(ctx context.Context, filePath, userID, messageID, requestID string) (int64, error) {
	id, err := s.store.Insert(ctx, filePath, userID, messageID, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.log.Info().
		Int64("job_id", id).
		Str("request_id", requestID).
		Str("user_id", userID).
		Str("file", filePath).
		Msg("Job enqueued")
	return id, nil
}
