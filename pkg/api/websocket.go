package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// progressMessage is the wire shape pushed to a /ws/progress/:taskID
// subscriber. Exactly one of preview/progress (repeated), then exactly one
// of complete/error ends the stream, mirroring pipeline.ImageHandlers.
type progressMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Completed int64     `json:"completed,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type cancellableTask interface {
	Cancel()
}

// progressStream is one in-flight gateway load's event channel; handlers
// push into it from the pipeline's own goroutine, the WebSocket connection
// (if any ever attaches) drains it.
type progressStream struct {
	ch     chan progressMessage
	mu     sync.Mutex
	task   cancellableTask
	closed bool
}

func (s *progressStream) send(msg progressMessage) {
	msg.Timestamp = time.Now()
	select {
	case s.ch <- msg:
	default:
		// Slow or absent subscriber; drop rather than block the pipeline.
	}
}

func (s *progressStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// progressHub tracks one progressStream per in-flight gateway task.
type progressHub struct {
	mu      sync.Mutex
	streams map[string]*progressStream
}

func newProgressHub() *progressHub {
	return &progressHub{streams: make(map[string]*progressStream)}
}

func (h *progressHub) open(taskID string) *progressStream {
	stream := &progressStream{ch: make(chan progressMessage, 64)}
	h.mu.Lock()
	h.streams[taskID] = stream
	h.mu.Unlock()
	return stream
}

func (h *progressHub) bind(taskID string, task cancellableTask) {
	h.mu.Lock()
	if s, ok := h.streams[taskID]; ok {
		s.task = task
	}
	h.mu.Unlock()
}

func (h *progressHub) bindData(taskID string, task cancellableTask) {
	h.bind(taskID, task)
}

func (h *progressHub) take(taskID string) (*progressStream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[taskID]
	if ok {
		delete(h.streams, taskID)
	}
	return s, ok
}

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// progressWebsocketHandler streams a single task's progress messages until
// the task completes, errors, or the socket is closed by the client. A
// client that connects after the task has already finished still receives
// the messages buffered for it, then sees the connection close.
func (s *Server) progressWebsocketHandler(c *gin.Context) {
	taskID := c.Param("taskID")
	stream, ok := s.progress.take(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_task"})
		return
	}

	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade progress websocket", "error", err, "task_id", taskID)
		return
	}
	defer conn.Close()

	go s.drainClientReads(conn, stream)

	for msg := range stream.ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		if msg.Type == "complete" || msg.Type == "error" {
			return
		}
	}
}

// drainClientReads discards inbound frames (this stream is one-directional)
// but honors a close from the client as a cancellation of the task.
func (s *Server) drainClientReads(conn *websocket.Conn, stream *progressStream) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if stream.task != nil {
				stream.task.Cancel()
			}
			return
		}
	}
}
