package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jupark12/voice-transcriber/models"
)

// jobRecord is the gorm mapping of the queue table.
type jobRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	FilePath  string    `gorm:"not null"`
	UserID    string    `gorm:"not null"`
	MessageID string    `gorm:"not null"`
	RequestID string    `gorm:"not null;uniqueIndex"`
	Status    string    `gorm:"not null;default:pending;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (jobRecord) TableName() string { return "queue" }

func (r *jobRecord) toModel() *models.Job {
	return &models.Job{
		ID:        r.ID,
		FilePath:  r.FilePath,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		RequestID: r.RequestID,
		Status:    models.JobStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// errClaimLost signals that another writer moved the selected row first.
var errClaimLost = errors.New("claim lost")

const maxClaimAttempts = 5

// SQLiteStore keeps the queue in a local SQLite file.
type SQLiteStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// queue table. WAL journaling with synchronous=FULL makes every committed
// write durable before the call returns.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate queue table: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite queue store ready")
	return &SQLiteStore{db: db, log: log}, nil
}

// Insert creates a pending job
func (s *SQLiteStore) Insert(ctx context.Context, filePath, userID, messageID, requestID string) (int64, error) {
	if err := validateInsert(filePath, userID, messageID, requestID); err != nil {
		return 0, err
	}

	rec := &jobRecord{
		FilePath:  filePath,
		UserID:    userID,
		MessageID: messageID,
		RequestID: requestID,
		Status:    string(models.StatusPending),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return rec.ID, nil
}

// ClaimOldestPending selects the lowest-id pending job and flips it to
// processing with a conditional update inside one transaction.
func (s *SQLiteStore) ClaimOldestPending(ctx context.Context) (*models.Job, error) {
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		var claimed *jobRecord

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec jobRecord
			res := tx.Where("status = ?", models.StatusPending).Order("id").Limit(1).Find(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			now := time.Now().UTC()
			upd := tx.Model(&jobRecord{}).
				Where("id = ? AND status = ?", rec.ID, models.StatusPending).
				Updates(map[string]any{"status": string(models.StatusProcessing), "updated_at": now})
			if upd.Error != nil {
				return upd.Error
			}
			if upd.RowsAffected == 0 {
				return errClaimLost
			}

			rec.Status = string(models.StatusProcessing)
			rec.UpdatedAt = now
			claimed = &rec
			return nil
		})

		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if claimed == nil {
			return nil, nil
		}
		return claimed.toModel(), nil
	}
	return nil, fmt.Errorf("failed to claim job after %d attempts: %w", maxClaimAttempts, errClaimLost)
}

// MarkProcessing unconditionally sets the job status to processing
func (s *SQLiteStore) MarkProcessing(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, models.StatusProcessing)
}

// MarkCompleted unconditionally sets the job status to completed
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, models.StatusCompleted)
}

func (s *SQLiteStore) setStatus(ctx context.Context, id int64, status models.JobStatus) error {
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job %d %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	return nil
}

// ResetProcessing returns orphaned processing jobs to pending
func (s *SQLiteStore) ResetProcessing(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("status = ?", models.StatusProcessing).
		Updates(map[string]any{"status": string(models.StatusPending), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset processing jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return rec.toModel(), nil
}

// ListJobs returns jobs in insertion order, optionally filtered by status
func (s *SQLiteStore) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	if err := validateStatusFilter(status); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Order("id")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var recs []jobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(recs))
	for i := range recs {
		jobs = append(jobs, recs[i].toModel())
	}
	return jobs, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger routes gorm's query log into zerolog.
type gormLogger struct {
	log           zerolog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(log zerolog.Logger) gormlogger.Interface {
	return &gormLogger{
		log:           log.With().Str("component", "gorm").Logger(),
		level:         gormlogger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: l.log, level: level, slowThreshold: l.slowThreshold}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info().Msgf(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn().Msgf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error().Msgf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Query error")
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Query")
	}
}
