// Package ws implements the relay: the session registry, the per-connection
// pumps and the frame dispatch that applies client frames to the store and
// rebroadcasts the canonical result to every live session.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/store"
	"github.com/gorilla/websocket"
)

type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	total    int

	maxConns       int
	sendBufSize    int
	maxMessageSize int64

	store *store.Store

	register   chan *Session
	unregister chan *Session
	done       chan struct{}
}

func NewHub(st *store.Store, maxConns, sendBufSize int, maxMessageSize int64) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if sendBufSize <= 0 {
		sendBufSize = 256
	}
	if maxMessageSize <= 0 {
		maxMessageSize = 1 << 20
	}
	return &Hub{
		sessions:       make(map[*Session]struct{}),
		maxConns:       maxConns,
		sendBufSize:    sendBufSize,
		maxMessageSize: maxMessageSize,
		store:          st,
		register:       make(chan *Session, 64),
		unregister:     make(chan *Session, 64),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all sessions under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Session, 0, h.total)
	for s := range h.sessions {
		all = append(all, s)
	}
	h.sessions = make(map[*Session]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, s := range all {
		s.Close()
	}
	for _, s := range all {
		s.Wait()
	}
}

// addSession admits a session and replays the full history to it before it
// can observe any live broadcast. Both the history read and the backlog
// handoff happen under the write lock: store mutations broadcast under the
// read lock, so a session is admitted either strictly before or strictly
// after any given message — never in between, which would double-deliver
// or drop it. Replay goes through the session backlog, not the bounded
// send queue, so history of any size survives admission.
func (h *Hub) addSession(s *Session) {
	h.mu.Lock()
	history := h.store.All()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting session=%s", h.maxConns, s.id)
		s.Close()
		return
	}
	backlog := make([][]byte, 0, len(history))
	for _, m := range history {
		data, err := EncodeMessage(m)
		if err != nil {
			logger.Errorf("ws encode history id=%d: %v", m.ID, err)
			continue
		}
		backlog = append(backlog, data)
	}
	s.backlog = backlog
	h.sessions[s] = struct{}{}
	h.total++
	h.mu.Unlock()

	close(s.registered)
	logger.Infof("ws session connected id=%s history=%d", s.id, len(history))
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	h.total--
	h.mu.Unlock()

	// Network I/O outside the lock.
	s.Close()
	logger.Infof("ws session disconnected id=%s", s.id)
}

// HandleFrame classifies one inbound frame and applies it. Errors never
// surface to the sender — the protocol has no negative-acknowledgment frame.
// A panic while processing is confined to this frame.
func (h *Hub) HandleFrame(ctx context.Context, s *Session, messageType int, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws frame panic session=%s: %v", s.id, r)
		}
	}()
	defer logger.DeferLogDuration("ws.HandleFrame", time.Now())()

	if messageType != websocket.TextMessage {
		logger.Errorf("ws unsupported frame type %d session=%s — only text frames are accepted", messageType, s.id)
		return
	}

	in := DecodeInbound(raw)
	if in.IsReaction() {
		h.handleReaction(ctx, s, in)
		return
	}
	h.handleMessagePost(ctx, s, in)
}

func (h *Hub) handleMessagePost(ctx context.Context, s *Session, in Inbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m, err := h.store.Append(ctx, in.Username, in.Content, in.Image)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			logger.Errorf("ws discarding empty message post session=%s", s.id)
		} else {
			logger.Errorf("ws append session=%s: %v", s.id, err)
		}
		return
	}

	data, err := EncodeMessage(m)
	if err != nil {
		logger.Errorf("ws encode message id=%d: %v", m.ID, err)
		return
	}
	h.broadcastLocked(data)
}

func (h *Hub) handleReaction(ctx context.Context, s *Session, in Inbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	username := in.Username
	if username == "" {
		username = model.AnonymousUsername
	}
	m, err := h.store.ToggleReaction(ctx, in.MessageID, in.Emoji, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Errorf("ws reaction toggle for unknown message id=%d session=%s", in.MessageID, s.id)
		} else {
			logger.Errorf("ws reaction toggle session=%s: %v", s.id, err)
		}
		return
	}

	data, err := EncodeReactionUpdate(m)
	if err != nil {
		logger.Errorf("ws encode reaction update id=%d: %v", m.ID, err)
		return
	}
	h.broadcastLocked(data)
}

// Broadcast delivers a frame to every registered session whose transport is
// still open. Closed sessions are skipped; they are reaped by their own
// disconnect path, not here.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(data)
}

// broadcastLocked requires h.mu held (read or write). enqueue never blocks,
// so holding the lock across the fan-out is safe.
func (h *Hub) broadcastLocked(data []byte) {
	for s := range h.sessions {
		if !s.enqueue(data) {
			// Backpressure: send buffer full, close the slow session.
			logger.Errorf("ws send buffer full, closing slow session=%s", s.id)
			s.Close()
		}
	}
}

// enqueue pushes a frame to the session's write pump without blocking.
// Returns false if the session is closed or its buffer is full.
func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return true // closed sessions are skipped, not an error
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.done:
		s.Close()
	}
}

func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}
