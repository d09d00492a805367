// Package server exposes the WPPConnect webhook, job inspection endpoints and
// a websocket feed of job status changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/messaging"
	"github.com/jupark12/voice-transcriber/models"
	"github.com/jupark12/voice-transcriber/queue"
)

// WebhookReceiver consumes decoded webhook events.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, ev messaging.WebhookEvent)
}

// Server handles HTTP requests for the relay
type Server struct {
	store       queue.Store
	webhook     WebhookReceiver
	broadcaster *Broadcaster
	engine      *gin.Engine
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// New creates a server listening on addr. Routes are registered immediately;
// Start binds the port.
func New(addr string, store queue.Store, webhook WebhookReceiver, broadcaster *Broadcaster, log zerolog.Logger) *Server {
	engine := gin.New()
	s := &Server{
		store:       store,
		webhook:     webhook,
		broadcaster: broadcaster,
		engine:      engine,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	engine.Use(recovery(log), cors(), requestLogger(log))
	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/jobs", s.handleJobs)
	engine.GET("/jobs/:id", s.handleJobDetails)
	engine.GET("/health", s.handleHealth)
	engine.GET("/ws", s.handleWebSocket)

	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info().Msg("HTTP server shut down")
	return nil
}

// NotifyJobUpdate forwards a job status change to websocket clients.
func (s *Server) NotifyJobUpdate(job *models.Job) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastJobUpdate(job)
	}
}

func (s *Server) handleWebhook(c *gin.Context) {
	var ev messaging.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}

	// Intake is detached from the request so a dropped connection does not
	// abort a half-saved note.
	s.webhook.HandleWebhook(context.WithoutCancel(c.Request.Context()), ev)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// handleJobs lists jobs, optionally filtered by ?status=
func (s *Server) handleJobs(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status parameter"})
		return
	}

	jobs, err := s.store.ListJobs(c.Request.Context(), status)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleJobDetails(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	job, err := s.store.GetJob(c.Request.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("job_id", id).Msg("Failed to get job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "store": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleWebSocket sends the current job list, then streams job updates
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Updates are disabled"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	jobs, err := s.store.ListJobs(c.Request.Context(), "")
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list jobs for websocket client")
		jobs = []*models.Job{}
	}
	initial, err := json.Marshal(map[string]any{
		"type": "initial_jobs",
		"jobs": jobs,
	})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			conn.Close()
			return
		}
	}

	// Only the broadcaster writes to conn once it is registered.
	if !s.broadcaster.Register(conn) {
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.broadcaster.Unregister(conn)
				return
			}
		}
	}()
}
