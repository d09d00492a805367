package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jupark12/voice-transcriber/models"
)

var (
	// ErrJobNotFound is returned when a job id does not exist in the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidStatus is returned when listing with an unknown status filter.
	ErrInvalidStatus = errors.New("invalid job status")
)

// Store is the durable job table. Every write is persisted before the call
// returns, and rows are never deleted.
type Store interface {
	// Insert creates a pending job and returns its id.
	Insert(ctx context.Context, filePath, userID, messageID, requestID string) (int64, error)
	// ClaimOldestPending atomically moves the lowest-id pending job to
	// processing and returns it. It returns nil, nil when nothing is pending.
	ClaimOldestPending(ctx context.Context) (*models.Job, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	// ResetProcessing moves every job left in processing back to pending and
	// reports how many were reset.
	ResetProcessing(ctx context.Context) (int64, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	// ListJobs returns jobs ordered by id. An empty status lists every job.
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	Ping(ctx context.Context) error
	Close() error
}

func validateInsert(filePath, userID, messageID, requestID string) error {
	var missing []string
	if strings.TrimSpace(filePath) == "" {
		missing = append(missing, "file_path")
	}
	if strings.TrimSpace(userID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(messageID) == "" {
		missing = append(missing, "message_id")
	}
	if strings.TrimSpace(requestID) == "" {
		missing = append(missing, "request_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validateStatusFilter(status models.JobStatus) error {
	if status == "" || status.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
}
