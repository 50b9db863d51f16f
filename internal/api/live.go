package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 54 * time.Second

	// Clients only send control frames.
	maxMessageSize = 512

	sendBuffer = 256
)

// Message types sent to live clients.
const (
	MessageProgress    = "progress"
	MessageError       = "error"
	MessageSystemAlert = "system_alert"
)

// Message is the envelope for every live update.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type session struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Live pushes progress and error events to websocket sessions. Slow
// sessions whose buffer fills up are disconnected.
type Live struct {
	upgrader websocket.Upgrader
	progress *events.Hub[model.ProgressEvent]
	errors   *events.Hub[model.ErrorEvent]
	subs     [2]int

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewLive subscribes to both hubs. allowedOrigins are matched by prefix;
// "*" admits any origin.
func NewLive(progress *events.Hub[model.ProgressEvent], errs *events.Hub[model.ErrorEvent], allowedOrigins []string) *Live {
	l := &Live{
		progress: progress,
		errors:   errs,
		sessions: make(map[*session]struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	l.subs[0] = progress.Subscribe(func(ev model.ProgressEvent) {
		l.broadcast(Message{Type: MessageProgress, Data: ev})
	})
	l.subs[1] = errs.Subscribe(func(ev model.ErrorEvent) {
		l.broadcast(Message{Type: MessageError, Data: ev})
		if ev.Severity == model.SeverityCritical {
			l.broadcast(Message{Type: MessageSystemAlert, Data: map[string]any{
				"message":   ev.UserMessage,
				"error_id":  ev.ErrorID,
				"component": ev.Component,
				"timestamp": ev.Timestamp,
			}})
		}
	})
	return l
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.HasPrefix(origin, a) {
				return true
			}
		}
		return false
	}
}

// Sessions returns the number of connected sessions.
func (l *Live) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// ServeHTTP upgrades the request and streams updates until the peer goes
// away.
func (l *Live) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("api: websocket upgrade failed", zap.Error(err))
		return
	}
	s := &session{conn: conn, send: make(chan []byte, sendBuffer)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.sessions[s] = struct{}{}
	l.mu.Unlock()
	zap.L().Debug("api: live session opened", zap.String("remote", r.RemoteAddr))

	go l.writePump(s)
	l.readPump(s)
}

// Close disconnects every session and stops listening to the hubs.
func (l *Live) Close() {
	l.progress.Unsubscribe(l.subs[0])
	l.errors.Unsubscribe(l.subs[1])

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for s := range l.sessions {
		delete(l.sessions, s)
		s.close()
	}
}

func (l *Live) broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		zap.L().Error("api: marshal live message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.sessions {
		select {
		case s.send <- payload:
		default:
			zap.L().Warn("api: live session too slow, disconnecting")
			delete(l.sessions, s)
			s.close()
		}
	}
}

func (l *Live) remove(s *session) {
	l.mu.Lock()
	delete(l.sessions, s)
	l.mu.Unlock()
	s.close()
}

func (l *Live) readPump(s *session) {
	defer func() {
		l.remove(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				zap.L().Warn("api: live session read error", zap.Error(err))
			}
			return
		}
	}
}

func (l *Live) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				zap.L().Debug("api: live write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
