package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/models"
)

const jobColumns = `id, file_path, user_id, message_id, request_id, status, created_at, updated_at`

// PostgresStore keeps the queue in Postgres. Its claim is a single
// conditional UPDATE, so several processes may share one table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresStore connects to dsn, applies migrations and returns the store.
func NewPostgresStore(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	log.Info().Msg("Postgres queue store ready")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Insert creates a pending job
func (s *PostgresStore) Insert(ctx context.Context, filePath, userID, messageID, requestID string) (int64, error) {
	if err := validateInsert(filePath, userID, messageID, requestID); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue (file_path, user_id, message_id, request_id, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING id`,
		filePath, userID, messageID, requestID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

// ClaimOldestPending moves the lowest-id pending job to processing. Rows
// locked by a concurrent claimer are skipped rather than waited on.
func (s *PostgresStore) ClaimOldestPending(ctx context.Context) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE queue SET status = 'processing', updated_at = now()
		 WHERE id = (
		     SELECT id FROM queue
		     WHERE status = 'pending'
		     ORDER BY id
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 ) AND status = 'pending'
		 RETURNING `+jobColumns)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, models.StatusProcessing)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, models.StatusCompleted)
}

func (s *PostgresStore) setStatus(ctx context.Context, id int64, status models.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %d %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	return nil
}

// ResetProcessing returns orphaned processing jobs to pending
func (s *PostgresStore) ResetProcessing(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue SET status = 'pending', updated_at = now() WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob retrieves a job by ID
func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM queue WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs in insertion order, optionally filtered by status
func (s *PostgresStore) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	if err := validateStatusFilter(status); err != nil {
		return nil, err
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM queue ORDER BY id`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM queue WHERE status = $1 ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job    models.Job
		status string
	)
	if err := row.Scan(&job.ID, &job.FilePath, &job.UserID, &job.MessageID, &job.RequestID,
		&status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}
