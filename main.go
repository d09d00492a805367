package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/jupark12/voice-transcriber/config"
	"github.com/jupark12/voice-transcriber/intake"
	"github.com/jupark12/voice-transcriber/logger"
	"github.com/jupark12/voice-transcriber/messaging"
	"github.com/jupark12/voice-transcriber/models"
	"github.com/jupark12/voice-transcriber/queue"
	"github.com/jupark12/voice-transcriber/server"
	"github.com/jupark12/voice-transcriber/transcriber"
	"github.com/jupark12/voice-transcriber/worker"
)

func main() {
	configFile := flag.StringP("config", "c", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Transcriber stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger.Component(log, "queue"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	tc := cfg.Transcription
	opts := models.TranscriptionOptions{Model: tc.Model, BeamSize: tc.BeamSize, ChunkLength: tc.ChunkLength}
	client := transcriber.NewClient(tc.BaseURL, opts, tc.Timeout, logger.Component(log, "transcriber"))
	extractor := transcriber.NewExtractor(tc.BaseURL, tc.FetchAttempts, tc.FetchInterval, logger.Component(log, "extractor"))

	wpp := messaging.NewWPPConnect(messaging.WPPConnectConfig{
		BaseURL: cfg.Messaging.BaseURL,
		Session: cfg.Messaging.Session,
		Token:   cfg.Messaging.Token,
	}, logger.Component(log, "messaging"))

	processor := worker.NewProcessor(store, client, extractor, wpp, worker.Config{
		Options:        opts,
		RecoverOnStart: cfg.Queue.RecoverOnStart,
	}, logger.Component(log, "worker"))

	submitter := queue.NewSubmitter(store, logger.Component(log, "submitter"))
	handler := intake.NewHandler(cfg.Storage.UploadDir, wpp, submitter, processor, logger.Component(log, "intake"))
	wpp.OnInboundAudio(handler.HandleAudio)

	if log.GetLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	broadcaster := server.NewBroadcaster(logger.Component(log, "websocket"))
	srv := server.New(cfg.Server.Addr, store, wpp, broadcaster, logger.Component(log, "server"))
	processor.SetNotifier(srv.NotifyJobUpdate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		broadcaster.Run(ctx)
	}()

	procErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		procErr <- processor.Run(ctx)
	}()

	if err := srv.Start(); err != nil {
		stop()
		wg.Wait()
		return err
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("driver", cfg.Database.Driver).
		Str("transcription_url", tc.BaseURL).
		Msg("Voice note transcriber started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err = <-procErr:
		if err != nil {
			log.Error().Err(err).Msg("Queue processor exited")
		}
		stop()
	}

	if stopErr := srv.Stop(context.Background()); stopErr != nil {
		log.Error().Err(stopErr).Msg("HTTP server shutdown failed")
	}
	wg.Wait()
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (queue.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return queue.NewPostgresStore(ctx, cfg.DSN, log)
	default:
		return queue.NewSQLiteStore(cfg.DSN, log)
	}
}
