package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jupark12/voice-transcriber/logger"
	"github.com/jupark12/voice-transcriber/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"), logger.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s Store, req string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), req+".wav", "551199999999", "msg-"+req, req)
	if err != nil {
		t.Fatalf("insert %s: %v", req, err)
	}
	return id
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "a.wav", "551199999999", "m1", "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.FilePath != "a.wav" || job.UserID != "551199999999" || job.MessageID != "m1" || job.RequestID != "r1" {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestSQLiteStore_InsertValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(context.Background(), "", "u", "", "r")
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
	jobs, _ := s.ListJobs(context.Background(), "")
	if len(jobs) != 0 {
		t.Errorf("invalid insert should not create a row, got %d", len(jobs))
	}
}

func TestSQLiteStore_DuplicateRequestID(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, "r1")

	if _, err := s.Insert(context.Background(), "b.wav", "u", "m2", "r1"); err == nil {
		t.Fatal("expected unique constraint violation on request_id")
	}
}

func TestSQLiteStore_IDsIncrease(t *testing.T) {
	s := newTestStore(t)
	prev := int64(0)
	for i := 0; i < 5; i++ {
		id := mustInsert(t, s, fmt.Sprintf("r%d", i))
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestSQLiteStore_ClaimOldestPending_FIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustInsert(t, s, "r1")
	second := mustInsert(t, s, "r2")

	job, err := s.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil || job.ID != first {
		t.Fatalf("claimed %+v, want id %d", job, first)
	}
	if job.Status != models.StatusProcessing {
		t.Errorf("claimed status = %s, want processing", job.Status)
	}

	stored, _ := s.GetJob(ctx, first)
	if stored.Status != models.StatusProcessing {
		t.Errorf("stored status = %s, want processing", stored.Status)
	}

	job, err = s.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil || job.ID != second {
		t.Fatalf("claimed %+v, want id %d", job, second)
	}

	job, err = s.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Errorf("expected no pending job, got %+v", job)
	}
}

func TestSQLiteStore_ClaimEmpty(t *testing.T) {
	s := newTestStore(t)
	job, err := s.ClaimOldestPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job, got %+v", job)
	}
}

func TestSQLiteStore_ConcurrentClaimsNeverShareAJob(t *testing.T) {
	s := newTestStore(t)
	const n = 20
	for i := 0; i < n; i++ {
		mustInsert(t, s, fmt.Sprintf("r%d", i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimOldestPending(context.Background())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %d claimed %d times", id, count)
		}
	}
}

func TestSQLiteStore_MarkTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustInsert(t, s, "r1")

	if err := s.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	job, _ := s.GetJob(ctx, id)
	if job.Status != models.StatusProcessing {
		t.Errorf("status = %s, want processing", job.Status)
	}

	if err := s.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	job, _ = s.GetJob(ctx, id)
	if job.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}

	if err := s.MarkCompleted(ctx, 999); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_ResetProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := mustInsert(t, s, "r1")
	done := mustInsert(t, s, "r2")
	if _, err := s.ClaimOldestPending(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, done); err != nil {
		t.Fatal(err)
	}

	n, err := s.ResetProcessing(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d jobs, want 1", n)
	}

	job, _ := s.GetJob(ctx, orphan)
	if job.Status != models.StatusPending {
		t.Errorf("orphan status = %s, want pending", job.Status)
	}
	job, _ = s.GetJob(ctx, done)
	if job.Status != models.StatusCompleted {
		t.Errorf("completed job should be untouched, got %s", job.Status)
	}
}

func TestSQLiteStore_ListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, "r1")
	b := mustInsert(t, s, "r2")
	mustInsert(t, s, "r3")
	if err := s.MarkCompleted(ctx, b); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListJobs(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].ID != a {
		t.Fatalf("unexpected list: %d jobs", len(all))
	}

	pending, err := s.ListJobs(ctx, models.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}

	if _, err := s.ListJobs(ctx, "failed"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSQLiteStore_GetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), 42); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := NewSQLiteStore(path, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	id := mustInsert(t, s, "r1")
	s.Close()

	s, err = NewSQLiteStore(path, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	job, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("job lost after reopen: %v", err)
	}
	if job.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
}
