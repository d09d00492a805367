package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/models"
	"github.com/jupark12/voice-transcriber/queue"
	"github.com/jupark12/voice-transcriber/transcriber"
)

const (
	transcriptionPrefix = "Segue a transcrição do áudio:\n\n"
	errorPrefix         = "Ocorreu um erro ao processar o áudio: "
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("processor already running")

// Transcriber uploads a voice note to the transcription service.
type Transcriber interface {
	Submit(ctx context.Context, filePath, userID, requestID string, opts models.TranscriptionOptions) (transcriber.Acknowledgement, error)
}

// Extractor fetches the finished transcription text.
type Extractor interface {
	Fetch(ctx context.Context, userID, requestID string) (string, bool)
}

// Replier delivers text back to the chat a job came from.
type Replier interface {
	Reply(ctx context.Context, chatID, text, inReplyTo string) error
}

// Config tunes the processor.
type Config struct {
	Options        models.TranscriptionOptions
	RecoverOnStart bool
}

// Processor is the single queue worker. Run owns the right to claim jobs, so
// at most one job is in processing at any time; Notify wakes it after an
// enqueue.
type Processor struct {
	store       queue.Store
	transcriber Transcriber
	extractor   Extractor
	replier     Replier
	cfg         Config
	log         zerolog.Logger

	wake    chan struct{}
	running atomic.Bool

	mu       sync.RWMutex
	notifier func(job *models.Job)
}

// NewProcessor creates a processor; call Run to start it
func NewProcessor(store queue.Store, t Transcriber, e Extractor, r Replier, cfg Config, log zerolog.Logger) *Processor {
	return &Processor{
		store:       store,
		transcriber: t,
		extractor:   e,
		replier:     r,
		cfg:         cfg,
		log:         log,
		wake:        make(chan struct{}, 1),
	}
}

// SetNotifier sets a callback invoked on every status change of a job
func (p *Processor) SetNotifier(fn func(job *models.Job)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = fn
}

// Notify wakes the worker. It never blocks; wake-ups that arrive while one
// is already pending are merged, since a single pass drains the whole backlog.
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run processes the backlog and then every batch signalled by Notify until
// ctx is cancelled. A job already claimed when ctx is cancelled still runs to
// completion.
func (p *Processor) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	if p.cfg.RecoverOnStart {
		n, err := p.store.ResetProcessing(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover orphaned jobs: %w", err)
		}
		if n > 0 {
			p.log.Warn().Int64("jobs", n).Msg("Reset jobs left in processing by a previous run")
		}
	}

	p.log.Info().Msg("Queue processor started")
	p.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Queue processor stopped")
			return nil
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

// drain processes jobs until none is pending. A store failure ends the pass;
// the next Notify starts a new one.
func (p *Processor) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := p.processNext(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("Queue pass aborted")
			return
		}
		if !processed {
			return
		}
	}
}

// processNext claims the oldest pending job and takes it to completed. It
// reports false when nothing was pending.
func (p *Processor) processNext(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimOldestPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx := context.WithoutCancel(ctx)
	log := p.log.With().
		Int64("job_id", job.ID).
		Str("request_id", job.RequestID).
		Str("user_id", job.UserID).
		Logger()

	log.Info().Msg("Processing job")
	p.notify(job)

	p.dispatch(jobCtx, job, log)

	if err := p.store.MarkCompleted(jobCtx, job.ID); err != nil {
		return false, fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}
	job.Status = models.StatusCompleted
	p.notify(job)

	if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", job.FilePath).Msg("Failed to remove audio file")
	}

	log.Info().Msg("Job completed")
	return true, nil
}

// dispatch transcribes the job and replies with the text, or with the error
// when transcription fails. Nothing is sent when the result page holds no text.
func (p *Processor) dispatch(ctx context.Context, job *models.Job, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Delivery panicked")
		}
	}()

	text, err := p.transcribe(ctx, job, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to process audio")
		p.replyError(ctx, job, err, log)
		return
	}
	if text == "" {
		log.Warn().Msg("Could not extract text from the transcription page")
		return
	}

	if err := p.replier.Reply(ctx, job.ChatID(), transcriptionPrefix+text, job.MessageID); err != nil {
		log.Error().Err(err).Msg("Failed to deliver transcription")
		p.replyError(ctx, job, err, log)
		return
	}
	log.Info().Str("chat_id", job.ChatID()).Msg("Transcription delivered")
}

func (p *Processor) transcribe(ctx context.Context, job *models.Job, log zerolog.Logger) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ack, err := p.transcriber.Submit(ctx, job.FilePath, job.UserID, job.RequestID, p.cfg.Options)
	if err != nil {
		return "", err
	}
	log.Debug().Interface("ack", ack).Msg("Audio accepted by transcription service")

	text, ok := p.extractor.Fetch(ctx, job.UserID, job.RequestID)
	if !ok {
		return "", nil
	}
	return text, nil
}

func (p *Processor) replyError(ctx context.Context, job *models.Job, cause error, log zerolog.Logger) {
	if err := p.replier.Reply(ctx, job.ChatID(), errorPrefix+cause.Error(), job.MessageID); err != nil {
		log.Error().Err(err).Msg("Failed to deliver error reply")
	}
}

func (p *Processor) notify(job *models.Job) {
	p.mu.RLock()
	fn := p.notifier
	p.mu.RUnlock()
	if fn == nil {
		return
	}
	snapshot := *job
	fn(&snapshot)
}
