package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jupark12/voice-transcriber/models"
)

const (
	writeWait       = 10 * time.Second
	broadcastBuffer = 64
)

// JobUpdate is the websocket message sent on every job status change.
type JobUpdate struct {
	Type      string           `json:"type"`
	JobID     int64            `json:"job_id"`
	RequestID string           `json:"request_id"`
	Status    models.JobStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// Broadcaster fans job updates out to connected websocket clients.
type Broadcaster struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewBroadcaster creates a broadcaster; call Run to start delivering
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run delivers registrations and broadcasts until ctx is cancelled, then
// closes every client. Run must be called at most once.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				client.Close()
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			n := len(b.clients)
			b.mu.Unlock()
			b.log.Debug().Int("clients", n).Msg("WebSocket client connected")
		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				client.Close()
			}
			n := len(b.clients)
			b.mu.Unlock()
			b.log.Debug().Int("clients", n).Msg("WebSocket client disconnected")
		case message := <-b.broadcast:
			b.mu.Lock()
			for client := range b.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					b.log.Warn().Err(err).Msg("Dropping websocket client")
					client.Close()
					delete(b.clients, client)
				}
			}
			b.mu.Unlock()
		}
	}
}

// BroadcastJobUpdate queues a job_update message. Updates are dropped when
// the buffer is full so the queue processor never waits on slow clients.
func (b *Broadcaster) BroadcastJobUpdate(job *models.Job) {
	data, err := json.Marshal(JobUpdate{
		Type:      "job_update",
		JobID:     job.ID,
		RequestID: job.RequestID,
		Status:    job.Status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to marshal job update")
		return
	}

	select {
	case b.broadcast <- data:
	default:
		b.log.Warn().Int64("job_id", job.ID).Msg("Broadcast buffer full, dropping job update")
	}
}

// Register adds a connection. It reports false once Run has returned.
func (b *Broadcaster) Register(conn *websocket.Conn) bool {
	select {
	case b.register <- conn:
		return true
	case <-b.done:
		return false
	}
}

// Unregister removes and closes a connection.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	select {
	case b.unregister <- conn:
	case <-b.done:
		conn.Close()
	}
}

// ClientCount reports the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
