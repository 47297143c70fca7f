package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session represents a single live WebSocket connection.
// Lifecycle: NewSession -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// registered is closed by the hub once the session is admitted and
	// its replay backlog is attached; inbound frames are held until then
	// so a sender can never miss the echo of its own first post.
	registered chan struct{}
	// backlog holds the encoded history replay, set by the hub before
	// registered is closed and written by the pump before any queued
	// broadcast. It bypasses the bounded send queue so rooms larger than
	// the queue can still join.
	backlog [][]byte
	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBufSize),
		id:         uuid.New().String(),
		registered: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the opaque session identity (used only for logging).
func (s *Session) ID() string { return s.id }

// Start launches the pump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (s *Session) Start(ctx context.Context, cancel context.CancelFunc) {
	s.cancel = cancel
	s.wg.Add(2)
	go s.writePump(ctx)
	go s.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close signals the session to stop. Safe to call multiple times from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		s.conn.Close()
	})
}

// readPump reads frames from the connection and hands them to the hub,
// sequentially — no concurrent frame processing within one session.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (s *Session) readPump(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.hub.maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline session=%s: %v", s.id, err)
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mt, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error session=%s: %v", s.id, err)
			}
			return
		}

		// Hold frames until the hub has admitted this session, so the
		// history replay always precedes the session's own first echo.
		select {
		case <-s.registered:
		case <-ctx.Done():
			return
		}

		s.hub.HandleFrame(ctx, s, mt, raw)
	}
}

// writePump writes queued frames to the connection.
// Exits on ctx cancellation, write error, or connection close.
func (s *Session) writePump(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	// Replay runs before the queue loop: nothing reaches s.send until the
	// hub has admitted the session, and the backlog has no size bound.
	select {
	case <-ctx.Done():
		return
	case <-s.registered:
	}
	for _, data := range s.backlog {
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			logger.Errorf("ws set write deadline session=%s: %v", s.id, err)
			return
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	s.backlog = nil

	for {
		select {
		case <-ctx.Done():
			if err := s.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message session=%s: %v", s.id, err)
			}
			return
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline session=%s: %v", s.id, err)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline session=%s: %v", s.id, err)
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
