// Package client maintains a local, ordered view of the shared conversation:
// it merges optimistic locally-sent messages with the server's authoritative
// echo without duplicates, and survives connection loss with automatic
// reconnection.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/ws"
	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPendingWindow  = 5 * time.Second
)

var (
	// ErrEmptyMessage is returned locally, before any network call.
	ErrEmptyMessage = errors.New("message must have either content or image")
	// ErrNotConnected is returned when the transport is not open.
	ErrNotConnected = errors.New("not connected to relay")
	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("client is closed")
)

// LocalMessage is a message as seen by this client. IsSent marks messages
// this client originated, recognized by matching the authoritative echo
// against the pending list.
type LocalMessage struct {
	model.Message
	IsSent bool `json:"isSent,omitempty"`
}

// pendingLocal tracks a message sent but not yet echoed back.
type pendingLocal struct {
	username       string
	content        string
	image          string
	localTimestamp int64 // ms
}

type Options struct {
	// URL of the relay endpoint, e.g. "ws://localhost:3000/chat".
	URL      string
	Username string
	Dialer   *websocket.Dialer
	// ReconnectDelay between a drop and the retry attempt. Default 3s.
	ReconnectDelay time.Duration
	// PendingWindow bounds |localTimestamp - serverTimestamp| for self-echo
	// matching. Default 5s.
	PendingWindow time.Duration
	// OnUpdate, if set, fires after every change to the local view.
	OnUpdate func()
}

type Reconciler struct {
	opts Options

	mu             sync.Mutex
	state          State
	lastErr        error
	conn           *websocket.Conn
	reconnectArmed bool
	closed         bool

	messages []*LocalMessage
	pending  []pendingLocal

	// now is overridable in tests.
	now func() int64

	wg sync.WaitGroup
}

func New(opts Options) *Reconciler {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PendingWindow <= 0 {
		opts.PendingWindow = defaultPendingWindow
	}
	if opts.Username == "" {
		opts.Username = model.AnonymousUsername
	}
	return &Reconciler{
		opts:  opts,
		state: StateDisconnected,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Connect dials the relay. On handshake failure the reconnect timer is armed
// just as for a mid-session drop, so a single Connect call is enough to keep
// trying. Connect on an already connecting/connected client is a no-op.
func (r *Reconciler) Connect() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return nil
	}
	r.state = StateConnecting
	r.mu.Unlock()

	conn, _, err := r.opts.Dialer.Dial(r.opts.URL, nil)
	if err != nil {
		r.mu.Lock()
		r.state = StateDisconnected
		r.lastErr = fmt.Errorf("dial %s: %w", r.opts.URL, err)
		r.scheduleReconnectLocked()
		r.mu.Unlock()
		return fmt.Errorf("client: dial %s: %w", r.opts.URL, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	r.conn = conn
	r.state = StateConnected
	r.lastErr = nil
	r.mu.Unlock()

	r.wg.Add(1)
	go r.readLoop(conn)
	return nil
}

// Disconnect closes the transport and stops any pending reconnect attempt.
func (r *Reconciler) Disconnect() {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	r.wg.Wait()
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the last connection error, cleared on successful connect.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Messages returns the local view sorted ascending by timestamp.
func (r *Reconciler) Messages() []LocalMessage {
	r.mu.Lock()
	out := make([]LocalMessage, 0, len(r.messages))
	for _, m := range r.messages {
		cp := LocalMessage{Message: *m.Message.Clone(), IsSent: m.IsSent}
		out = append(out, cp)
	}
	r.mu.Unlock()

	sortView(out)
	return out
}

// SendMessage registers a pending entry for later self-echo matching and
// transmits the post. Rejected locally when both fields are empty or the
// transport is down — no network round-trip.
func (r *Reconciler) SendMessage(content, image string) error {
	if content == "" && image == "" {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	if r.state != StateConnected || r.conn == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	r.pending = append(r.pending, pendingLocal{
		username:       r.opts.Username,
		content:        content,
		image:          image,
		localTimestamp: r.now(),
	})
	frame := ws.Inbound{Username: r.opts.Username, Content: content, Image: image}
	data, err := json.Marshal(frame)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("client: encode post: %w", err)
	}
	// Write under the lock: gorilla allows a single concurrent writer.
	err = r.conn.WriteMessage(websocket.TextMessage, data)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// ToggleReaction transmits a reaction-toggle frame. No optimistic local
// update is applied — the view changes when the broadcast echo arrives.
// A no-op while disconnected.
func (r *Reconciler) ToggleReaction(messageID int64, emoji string) error {
	r.mu.Lock()
	if r.state != StateConnected || r.conn == nil {
		r.mu.Unlock()
		return nil
	}
	frame := ws.Inbound{Type: ws.TypeReaction, MessageID: messageID, Emoji: emoji, Username: r.opts.Username}
	data, err := json.Marshal(frame)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("client: encode reaction: %w", err)
	}
	err = r.conn.WriteMessage(websocket.TextMessage, data)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("client: send reaction: %w", err)
	}
	return nil
}

// readLoop is the single goroutine consuming transport frames for one
// connection; all view mutation happens through it or under r.mu.
func (r *Reconciler) readLoop(conn *websocket.Conn) {
	defer r.wg.Done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			r.handleDisconnect(conn, err)
			return
		}
		r.handleFrame(raw)
	}
}

func (r *Reconciler) handleDisconnect(conn *websocket.Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		// A stale loop for a connection already replaced; nothing to do.
		return
	}
	r.conn = nil
	r.state = StateDisconnected
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		r.lastErr = err
		logger.Errorf("client: connection lost: %v", err)
	}
	r.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms a single deferred reconnect attempt. The guard
// ensures only one timer is ever in flight, and the state check at fire time
// skips the attempt when a connection was re-established in the interim.
func (r *Reconciler) scheduleReconnectLocked() {
	if r.closed || r.reconnectArmed {
		return
	}
	r.reconnectArmed = true
	time.AfterFunc(r.opts.ReconnectDelay, func() {
		r.mu.Lock()
		r.reconnectArmed = false
		fire := !r.closed && r.state == StateDisconnected
		r.mu.Unlock()
		if fire {
			if err := r.Connect(); err != nil {
				logger.Errorf("client: reconnect: %v", err)
			}
		}
	})
}

// handleFrame classifies one server frame: reaction update, idempotent
// replacement of a known message, or a new message (possibly the echo of
// one of our own pending posts).
func (r *Reconciler) handleFrame(raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Errorf("client: parse frame: %v", err)
		return
	}

	if env.Type == ws.TypeReaction {
		var upd ws.ReactionUpdate
		if err := json.Unmarshal(raw, &upd); err != nil || upd.Message == nil {
			logger.Errorf("client: parse reaction update: %v", err)
			return
		}
		r.applyReactionUpdate(upd.Message)
		return
	}

	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Errorf("client: parse message: %v", err)
		return
	}
	r.applyMessage(&m)
}

func (r *Reconciler) applyMessage(m *model.Message) {
	r.mu.Lock()
	for _, existing := range r.messages {
		if existing.ID == m.ID {
			// Authoritative replacement; keep the locally-tracked flag.
			existing.Message = *m
			r.mu.Unlock()
			r.notify()
			return
		}
	}

	isSent := r.consumePendingLocked(m)
	r.messages = append(r.messages, &LocalMessage{Message: *m, IsSent: isSent})
	r.mu.Unlock()
	r.notify()
}

// consumePendingLocked scans the pending list oldest-first and consumes at
// most one entry matching exactly on username/content/image within the
// timestamp window. Caller holds r.mu.
func (r *Reconciler) consumePendingLocked(m *model.Message) bool {
	window := r.opts.PendingWindow.Milliseconds()
	for i, p := range r.pending {
		if p.username != m.Username ||
			p.content != model.Deref(m.Content) ||
			p.image != model.Deref(m.Image) {
			continue
		}
		delta := p.localTimestamp - m.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta >= window {
			continue
		}
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		return true
	}
	return false
}

func (r *Reconciler) applyReactionUpdate(m *model.Message) {
	r.mu.Lock()
	for _, existing := range r.messages {
		if existing.ID == m.ID {
			existing.Message = *m
			r.mu.Unlock()
			r.notify()
			return
		}
	}
	r.mu.Unlock()
	// Message not known locally yet — discard; a later full frame closes the gap.
}

func (r *Reconciler) notify() {
	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate()
	}
}

// sortView orders by timestamp only (no id tie-break — the display ordering
// is looser than the store's, a known discrepancy kept as-is).
func sortView(msgs []LocalMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
