package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// StreamMessage is the frame pushed to decision stream subscribers. Frames
// carry plot records rather than full decisions so prompt text never leaves
// the evaluate response and the decision store.
type StreamMessage struct {
	Type      string             `json:"type"` // "decision" | "heartbeat"
	Record    *models.PlotRecord `json:"record,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// StreamHub fans rendered decisions out to WebSocket subscribers. A slow
// subscriber drops frames rather than stalling evaluation.
type StreamHub struct {
	log    *zap.Logger
	mu     sync.Mutex
	subs   map[chan StreamMessage]struct{}
	closed bool
}

// NewStreamHub creates an empty hub.
func NewStreamHub(log *zap.Logger) *StreamHub {
	return &StreamHub{
		log:  log,
		subs: make(map[chan StreamMessage]struct{}),
	}
}

// Subscribe registers a new subscriber channel.
func (h *StreamHub) Subscribe() chan StreamMessage {
	ch := make(chan StreamMessage, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber.
func (h *StreamHub) Unsubscribe(ch chan StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Broadcast pushes a decision's plot record to all subscribers, dropping
// frames for full channels. Decisions that never reached the statistical
// layer produce no frame.
func (h *StreamHub) Broadcast(d *models.Decision) {
	rec := models.PlotRecordFromDecision(d)
	if rec == nil {
		return
	}
	msg := StreamMessage{Type: "decision", Record: rec, Timestamp: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber is not keeping up; skip this frame.
		}
	}
}

// Close shuts down the hub and all subscriber channels.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// defaultOrigins are the development origins allowed when no explicit list
// is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds a WebSocket upgrader enforcing the configured origin
// allow list. Requests without an Origin header (non-browser clients) are
// always allowed; "*" allows any origin.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range origins {
				if allowed == "*" {
					return true
				}
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleDecisionStream upgrades the connection and pushes every rendered
// decision to the client until it disconnects.
func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.config.Server.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	s.log.Info("decision stream subscriber connected", zap.String("remote", r.RemoteAddr))

	// Discard client frames; detect disconnects.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-readDone:
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(StreamMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}
