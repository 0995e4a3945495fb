package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ossrs/go-oryx-lib/errors"

	"webrtc101/internal/app/rooms"
	"webrtc101/pkg/webrtc/protocol"
)

const (
	defaultReadLimit   = 64 * 1024
	pongWait           = 60 * time.Second
	pingInterval       = 40 * time.Second
	writeTimeout       = 10 * time.Second
	sendBuffer         = 64
	upgradeReadBuffer  = 1024
	upgradeWriteBuffer = 1024
)

// HubOptions configures a Hub instance.
type HubOptions struct {
	Logger   *slog.Logger
	Upgrader *websocket.Upgrader
	// StrictReplies answers unknown rooms and rejected shares with explicit
	// room-not-found / share-rejected events instead of dropping them.
	StrictReplies bool
	// Mirror receives room membership and sharer updates. Optional.
	Mirror Mirror
}

// ConnOptions controls how a connection is registered.
type ConnOptions struct {
	// ID overrides the generated connection id used in logs.
	ID string
	// Context lets the caller cancel the connection (defaults to Background).
	Context context.Context
	// Codec selects the frame encoding (defaults to JSON).
	Codec protocol.Codec
}

// Hub owns the room registry and every live connection, and routes inbound
// events between them.
type Hub struct {
	rooms    *rooms.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
	strict   bool
	mirror   *mirrorQueue

	mu      sync.RWMutex
	clients map[*client]struct{}
	members map[string]map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type client struct {
	id      string
	conn    *websocket.Conn
	codec   protocol.Codec
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	session session
}

// NewHub builds a Hub around registry.
func NewHub(registry *rooms.Registry, opts HubOptions) *Hub {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  upgradeReadBuffer,
		WriteBufferSize: upgradeWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		rooms:    registry,
		upgrader: upgrader,
		logger:   logger,
		strict:   opts.StrictReplies,
		clients:  make(map[*client]struct{}),
		members:  make(map[string]map[*client]struct{}),
	}
	if opts.Mirror.enabled() {
		h.mirror = newMirrorQueue(opts.Mirror, logger)
	}
	return h
}

// HTTPHandler upgrades HTTP connections and registers them with the Hub.
// The codec query parameter selects json (default) or msgpack frames.
func (h *Hub) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		codec, ok := protocol.CodecByName(r.URL.Query().Get("codec"))
		if !ok {
			http.Error(w, "unsupported codec", http.StatusBadRequest)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("ws: upgrade failed", "err", err)
			return
		}
		// The connection outlives r.Context().
		if err := h.Accept(conn, ConnOptions{Codec: codec}); err != nil {
			h.logger.Warn("ws: accept failed", "err", err)
			conn.Close()
		}
	})
}

// ErrHubClosed is returned by Accept after Close.
var ErrHubClosed = errors.New("hub closed")

// Accept registers an already-upgraded WebSocket connection with an empty session.
func (h *Hub) Accept(conn *websocket.Conn, opts ConnOptions) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	codec := opts.Codec
	if codec == nil {
		codec = protocol.JSON
	}
	c := &client{
		id:     id,
		conn:   conn,
		codec:  codec,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		logger: h.logger.With("conn", id),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	c.logger.Debug("ws: registered", "codec", codec.Name(), "remote", conn.RemoteAddr().String())

	go c.writePump()
	go c.readPump(h)
	return nil
}

// unregister runs once per connection, after its read loop ends.
func (h *Hub) unregister(c *client) {
	if roomID, peerID, ok := c.session.take(); ok {
		h.release(c, roomID, peerID)
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.logger.Debug("ws: unregistered")
}

// Close disconnects every client, waits for their cleanup and flushes the mirror.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()

	for _, c := range list {
		c.cancel()
		_ = c.conn.Close()
	}
	h.wg.Wait()

	if h.mirror != nil {
		h.mirror.close()
	}
}

// CreateRoom creates an empty room and returns its id.
func (h *Hub) CreateRoom() string {
	id := h.rooms.CreateRoom()
	h.pushMirror(mirrorOp{kind: mirrorPeers, roomID: id, peers: []string{}})
	h.logger.Info("ws: room created", "room", id)
	return id
}

// Snapshot returns the state of one room.
func (h *Hub) Snapshot(roomID string) (rooms.Snapshot, error) {
	return h.rooms.Snapshot(roomID)
}

// Rooms returns the state of every room.
func (h *Hub) Rooms() []rooms.Snapshot {
	return h.rooms.Rooms()
}

// RunReaper drops rooms left empty for longer than idle, checking every
// interval until ctx is done.
func (h *Hub) RunReaper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap(idle)
		}
	}
}

func (h *Hub) reap(idle time.Duration) {
	for _, id := range h.rooms.Reap(idle) {
		h.pushMirror(mirrorOp{kind: mirrorDrop, roomID: id})
		h.logger.Info("ws: idle room reaped", "room", id)
	}
}

// attach adds c to the fanout set of roomID. Called under the room lock.
func (h *Hub) attach(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.members[roomID]
	if set == nil {
		set = make(map[*client]struct{})
		h.members[roomID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) detach(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.members[roomID]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.members, roomID)
	}
}

// broadcast emits to every connection in roomID except skip. Callers hold
// the room lock so emission order follows mutation order.
func (h *Hub) broadcast(roomID string, skip *client, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.members[roomID] {
		if cl == skip {
			continue
		}
		cl.emit(event, payload)
	}
}

func (h *Hub) pushMirror(op mirrorOp) {
	if h.mirror != nil {
		h.mirror.push(op)
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.cancel()
		_ = c.conn.Close()
		h.wg.Done()
	}()

	c.conn.SetReadLimit(defaultReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				errors.Cause(err) != websocket.ErrCloseSent {
				c.logger.Debug("ws: read error", "err", err)
			}
			return
		}

		frame, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("ws: bad frame", "err", err)
			continue
		}
		h.dispatch(c, frame)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(msgType, msg); err != nil {
				c.logger.Debug("ws: write failed", "err", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// emit queues one event for the client. Delivery is fire-and-forget: a full
// buffer drops the event.
func (c *client) emit(event string, payload any) {
	data, err := c.codec.Encode(event, payload)
	if err != nil {
		c.logger.Error("ws: encode failed", "event", event, "err", err)
		return
	}
	select {
	case <-c.ctx.Done():
	case c.send <- data:
	default:
		c.logger.Warn("ws: send buffer full, dropping event", "event", event)
	}
}
