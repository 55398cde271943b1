// Package session connects live editing sessions to the store over websockets.
//
// A session receives the whole document on connect and after every mutation,
// and sends back whole-document snapshots plus accept/reject commands. The
// store decides whether a snapshot is applied or dropped.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/redline/internal/eventbus"
	"github.com/steveyegge/redline/internal/types"
)

// Message types.
const (
	// client -> server
	MsgSnapshot  = "snapshot"
	MsgAccept    = "accept"
	MsgReject    = "reject"
	MsgAcceptAll = "acceptAll"
	MsgRejectAll = "rejectAll"

	// server -> client
	MsgDocument = "document"
	MsgChanges  = "changes"
	MsgResolved = "resolved"
	MsgError    = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
	// snapshots carry whole documents
	maxMessageSize = 16 << 20
)

// Message is the single envelope used in both directions.
type Message struct {
	Type string `json:"type"`

	// Session is the id the hub assigned to the connection (document messages only).
	Session  string          `json:"session,omitempty"`
	Document *types.Document `json:"document,omitempty"`
	// Root is the snapshot tree sent by a client.
	Root *types.Node `json:"root,omitempty"`
	// ID targets accept/reject.
	ID      string               `json:"id,omitempty"`
	Changes []types.ChangeResult `json:"changes,omitempty"`
	Action  string               `json:"action,omitempty"`
	NodeIDs []string             `json:"nodeIds,omitempty"`
	Count   int                  `json:"count,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Store is what the hub needs from the document store.
type Store interface {
	Document() *types.Document
	ApplySnapshot(ctx context.Context, sessionID string, root *types.Node) (bool, error)
	Accept(ctx context.Context, origin, id string) (int, error)
	Reject(ctx context.Context, origin, id string) (int, error)
	AcceptAll(ctx context.Context, origin string) int
	RejectAll(ctx context.Context, origin string) int
}

// Hub tracks connected sessions and fans store events out to them.
type Hub struct {
	store    Store
	log      *slog.Logger
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*client
}

// Options configures a Hub.
type Options struct {
	Logger *slog.Logger
	// CheckOrigin overrides the upgrader's origin check. Nil allows any origin,
	// which is only safe on loopback listeners.
	CheckOrigin func(r *http.Request) bool
}

// NewHub creates a hub serving st.
func NewHub(st Store, opts Options) *Hub {
	h := &Hub{
		store:   st,
		log:     opts.Logger,
		clients: make(map[string]*client),
	}
	if h.log == nil {
		h.log = slog.New(slog.DiscardHandler)
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     check,
	}
	return h
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue reports false when the send buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeHTTP upgrades the request and runs the session until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   "s" + strconv.FormatUint(h.nextID.Add(1), 10),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("session connected", "session", c.id, "remote", r.RemoteAddr, "sessions", n)

	h.deliver(c, Message{Type: MsgDocument, Session: c.id, Document: h.store.Document()})

	go h.writePump(c)
	h.readPump(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c.id)
	n = len(h.clients)
	h.mu.Unlock()
	c.close()
	h.log.Info("session disconnected", "session", c.id, "sessions", n)
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("session read failed", "session", c.id, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.deliver(c, Message{Type: MsgError, Error: fmt.Sprintf("invalid message: %v", err)})
			continue
		}
		if err := h.handle(ctx, c, msg); err != nil {
			h.deliver(c, Message{Type: MsgError, Action: msg.Type, ID: msg.ID, Error: err.Error()})
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *client, msg Message) error {
	switch msg.Type {
	case MsgSnapshot:
		applied, err := h.store.ApplySnapshot(ctx, c.id, msg.Root)
		if err != nil {
			return err
		}
		if !applied {
			// The agent's version stays; resync the session to it.
			h.deliver(c, Message{Type: MsgDocument, Session: c.id, Document: h.store.Document()})
		}
		return nil
	case MsgAccept:
		_, err := h.store.Accept(ctx, c.id, msg.ID)
		return err
	case MsgReject:
		_, err := h.store.Reject(ctx, c.id, msg.ID)
		return err
	case MsgAcceptAll:
		h.store.AcceptAll(ctx, c.id)
		return nil
	case MsgRejectAll:
		h.store.RejectAll(ctx, c.id)
		return nil
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues msg for c. A session that cannot keep up is disconnected.
func (h *Hub) deliver(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode session message", "type", msg.Type, "error", err)
		return
	}
	h.queue(c, data)
}

func (h *Hub) queue(c *client, data []byte) {
	if !c.enqueue(data) {
		h.log.Warn("session too slow, disconnecting", "session", c.id)
		c.close()
	}
}

// broadcast sends msg to every session except skip.
func (h *Hub) broadcast(msg Message, skip string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.queue(c, data)
	}
	return len(targets)
}

// Handler returns the event-bus handler that pushes store mutations to sessions.
func (h *Hub) Handler() eventbus.Handler {
	return eventbus.Func("session-hub", 20, h.onEvent,
		eventbus.EventChangesApplied,
		eventbus.EventPendingResolved,
		eventbus.EventDocumentReplaced,
		eventbus.EventDocumentOpened,
	)
}

func (h *Hub) onEvent(_ context.Context, ev *eventbus.Event) error {
	doc := ev.Document
	if doc == nil {
		doc = h.store.Document()
	}
	switch ev.Type {
	case eventbus.EventChangesApplied:
		h.broadcast(Message{Type: MsgChanges, Document: doc, Changes: ev.Changes, Count: ev.Applied}, "")
	case eventbus.EventPendingResolved:
		h.broadcast(Message{Type: MsgResolved, Document: doc, Action: ev.Action, NodeIDs: ev.NodeIDs, Count: ev.Resolved}, "")
	case eventbus.EventDocumentReplaced:
		// The originating session already has this content unless ids were
		// assigned to its new blocks.
		skip := ev.Origin
		if ev.AssignedIDs > 0 {
			skip = ""
		}
		h.broadcast(Message{Type: MsgDocument, Document: doc}, skip)
	case eventbus.EventDocumentOpened:
		h.broadcast(Message{Type: MsgDocument, Document: doc}, "")
	}
	return nil
}
