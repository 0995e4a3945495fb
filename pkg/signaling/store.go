package signaling

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	mirrorQueueSize = 256
	mirrorTimeout   = 2 * time.Second
)

// PresenceStore mirrors the ordered participant list of each room.
type PresenceStore interface {
	Reset(ctx context.Context) error
	SetPeers(ctx context.Context, roomID string, peers []string) error
	DropRoom(ctx context.Context, roomID string) error
}

// ShareStore mirrors the current screen-sharer of each room.
type ShareStore interface {
	Reset(ctx context.Context) error
	SetSharer(ctx context.Context, roomID, peerID string) error
	DropRoom(ctx context.Context, roomID string) error
}

// Mirror pairs the presence and share stores. Either may be nil. The hub only
// writes to the mirror; room state is never read back from it.
type Mirror struct {
	Presence PresenceStore
	Sharing  ShareStore
}

func (m Mirror) enabled() bool {
	return m.Presence != nil || m.Sharing != nil
}

// Reset clears both stores, typically once at startup.
func (m Mirror) Reset(ctx context.Context) error {
	if m.Presence != nil {
		if err := m.Presence.Reset(ctx); err != nil {
			return err
		}
	}
	if m.Sharing != nil {
		return m.Sharing.Reset(ctx)
	}
	return nil
}

type mirrorKind int

const (
	mirrorPeers mirrorKind = iota
	mirrorSharer
	mirrorDrop
)

type mirrorOp struct {
	kind   mirrorKind
	roomID string
	peers  []string
	sharer string
}

func (m Mirror) apply(ctx context.Context, op mirrorOp) error {
	switch op.kind {
	case mirrorPeers:
		if m.Presence != nil {
			return m.Presence.SetPeers(ctx, op.roomID, op.peers)
		}
	case mirrorSharer:
		if m.Sharing != nil {
			return m.Sharing.SetSharer(ctx, op.roomID, op.sharer)
		}
	case mirrorDrop:
		if m.Presence != nil {
			if err := m.Presence.DropRoom(ctx, op.roomID); err != nil {
				return err
			}
		}
		if m.Sharing != nil {
			return m.Sharing.DropRoom(ctx, op.roomID)
		}
	}
	return nil
}

// mirrorQueue applies mirror writes on a single goroutine so they land in
// the order they were queued and never block event handling.
type mirrorQueue struct {
	mu     sync.RWMutex
	closed bool
	mirror Mirror
	ops    chan mirrorOp
	done   chan struct{}
	logger *slog.Logger
}

func newMirrorQueue(m Mirror, logger *slog.Logger) *mirrorQueue {
	q := &mirrorQueue{
		mirror: m,
		ops:    make(chan mirrorOp, mirrorQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.run()
	return q
}

func (q *mirrorQueue) push(op mirrorOp) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ops <- op:
	default:
		q.logger.Warn("mirror: queue full, dropping update", "room", op.roomID)
	}
}

func (q *mirrorQueue) run() {
	defer close(q.done)
	for op := range q.ops {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := q.mirror.apply(ctx, op); err != nil {
			q.logger.Error("mirror: write failed", "room", op.roomID, "err", err)
		}
		cancel()
	}
}

// close stops accepting updates and waits for queued ones to flush.
func (q *mirrorQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()
	<-q.done
}
