package signaling

import (
	"github.com/ossrs/go-oryx-lib/errors"

	"webrtc101/internal/app/rooms"
	"webrtc101/pkg/webrtc/protocol"
)

type eventHandler func(h *Hub, c *client, f protocol.Frame) error

var eventHandlers = map[string]eventHandler{
	protocol.EventCreateRoom:   handleCreateRoom,
	protocol.EventJoinRoom:     handleJoinRoom,
	protocol.EventLeaveRoom:    handleLeaveRoom,
	protocol.EventStartSharing: handleStartSharing,
	protocol.EventStopSharing:  handleStopSharing,
}

// dispatch runs the handler for one inbound frame. Failures are logged and
// never end the connection.
func (h *Hub) dispatch(c *client, f protocol.Frame) {
	handler, ok := eventHandlers[f.Event]
	if !ok {
		c.logger.Warn("ws: unknown event", "event", f.Event)
		return
	}
	if err := handler(h, c, f); err != nil {
		c.logger.Warn("ws: event failed", "event", f.Event, "err", err)
	}
}

func handleCreateRoom(h *Hub, c *client, _ protocol.Frame) error {
	id := h.CreateRoom()
	c.emit(protocol.EventRoomCreated, protocol.RoomCreated{RoomID: id})
	return nil
}

func handleJoinRoom(h *Hub, c *client, f protocol.Frame) error {
	p, err := bindRoomParams(f)
	if err != nil {
		return err
	}

	if roomID, peerID := c.session.binding(); roomID == p.RoomID && peerID == p.PeerID {
		return rejoin(h, c, p)
	}

	var prevRoom, prevPeer string
	_, err = h.rooms.JoinRoom(p.RoomID, p.PeerID, func(res rooms.JoinResult) {
		prevRoom, prevPeer = c.session.bind(res.RoomID, p.PeerID)
		h.attach(res.RoomID, c)

		c.emit(protocol.EventGetUsers, protocol.GetUsers{RoomID: res.RoomID, Participants: res.Participants})
		h.broadcast(res.RoomID, c, protocol.EventUserJoined, protocol.PeerEvent{PeerID: p.PeerID})
		if res.Sharer != "" {
			c.emit(protocol.EventUserStartedSharing, protocol.PeerEvent{PeerID: res.Sharer})
		}
		h.pushMirror(mirrorOp{kind: mirrorPeers, roomID: res.RoomID, peers: res.Participants})
	})
	if errors.Cause(err) == rooms.ErrNotFound {
		c.logger.Info("ws: join unknown room", "room", p.RoomID, "peer", p.PeerID)
		if h.strict {
			c.emit(protocol.EventRoomNotFound, protocol.RoomNotFound{RoomID: p.RoomID})
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "join %s", p.RoomID)
	}
	c.logger.Info("ws: joined", "room", p.RoomID, "peer", p.PeerID)

	// A connection holds one membership; joining elsewhere releases the old one.
	if prevRoom != "" && prevPeer != "" {
		h.release(c, prevRoom, prevPeer)
	}
	return nil
}

// rejoin answers a join repeated on the same connection with the current
// state instead of listing the peer twice.
func rejoin(h *Hub, c *client, p protocol.RoomParams) error {
	snap, err := h.rooms.Snapshot(p.RoomID)
	if err != nil {
		return errors.Wrapf(err, "rejoin %s", p.RoomID)
	}
	c.emit(protocol.EventGetUsers, protocol.GetUsers{RoomID: snap.ID, Participants: snap.Participants})
	if snap.Sharer != "" {
		c.emit(protocol.EventUserStartedSharing, protocol.PeerEvent{PeerID: snap.Sharer})
	}
	return nil
}

func handleLeaveRoom(h *Hub, c *client, _ protocol.Frame) error {
	roomID, peerID, ok := c.session.take()
	if !ok {
		return nil
	}
	h.release(c, roomID, peerID)
	return nil
}

// release removes peerID from roomID on behalf of c and tells the rest of
// the room.
func (h *Hub) release(c *client, roomID, peerID string) {
	res := h.rooms.LeaveRoom(roomID, peerID, func(res rooms.LeaveResult) {
		if c.session.room() != roomID {
			h.detach(roomID, c)
		}
		h.broadcast(roomID, c, protocol.EventUserLeaved, protocol.PeerEvent{PeerID: peerID})
		if res.SharingStopped {
			h.broadcast(roomID, c, protocol.EventUserStoppedSharing, nil)
		}

		if res.Reaped {
			h.pushMirror(mirrorOp{kind: mirrorDrop, roomID: roomID})
			return
		}
		h.pushMirror(mirrorOp{kind: mirrorPeers, roomID: roomID, peers: res.Remaining})
		if res.SharingStopped {
			h.pushMirror(mirrorOp{kind: mirrorSharer, roomID: roomID})
		}
	})
	if !res.Removed {
		if c.session.room() != roomID {
			h.detach(roomID, c)
		}
		c.logger.Debug("ws: stale leave", "room", roomID, "peer", peerID)
		return
	}
	c.logger.Info("ws: left", "room", roomID, "peer", peerID, "reaped", res.Reaped)
}

func handleStartSharing(h *Hub, c *client, f protocol.Frame) error {
	p, err := bindRoomParams(f)
	if err != nil {
		return err
	}

	found := false
	res := h.rooms.StartSharing(p.RoomID, p.PeerID, func(res rooms.ShareResult) {
		found = true
		if !res.Accepted {
			if h.strict {
				c.emit(protocol.EventShareRejected, protocol.ShareRejected{PeerID: p.PeerID, SharerID: res.Sharer})
			}
			return
		}
		h.broadcast(p.RoomID, c, protocol.EventUserStartedSharing, protocol.PeerEvent{PeerID: p.PeerID})
		h.pushMirror(mirrorOp{kind: mirrorSharer, roomID: p.RoomID, sharer: p.PeerID})
	})
	switch {
	case !found:
		c.logger.Info("ws: share in unknown room", "room", p.RoomID, "peer", p.PeerID)
		if h.strict {
			c.emit(protocol.EventRoomNotFound, protocol.RoomNotFound{RoomID: p.RoomID})
		}
	case res.Accepted:
		c.logger.Info("ws: sharing started", "room", p.RoomID, "peer", p.PeerID)
	default:
		c.logger.Info("ws: share rejected", "room", p.RoomID, "peer", p.PeerID, "sharer", res.Sharer)
	}
	return nil
}

// handleStopSharing takes the room id as a bare string payload.
func handleStopSharing(h *Hub, c *client, f protocol.Frame) error {
	var roomID string
	if err := f.Bind(&roomID); err != nil {
		return errors.Wrapf(err, "decode %s", f.Event)
	}
	if roomID == "" {
		return errors.Errorf("%s: empty room id", f.Event)
	}

	ok := h.rooms.StopSharing(roomID, func() {
		h.broadcast(roomID, c, protocol.EventUserStoppedSharing, nil)
		h.pushMirror(mirrorOp{kind: mirrorSharer, roomID: roomID})
	})
	if !ok {
		c.logger.Info("ws: stop sharing in unknown room", "room", roomID)
		return nil
	}
	c.logger.Info("ws: sharing stopped", "room", roomID)
	return nil
}

func bindRoomParams(f protocol.Frame) (protocol.RoomParams, error) {
	var p protocol.RoomParams
	if err := f.Bind(&p); err != nil {
		return p, errors.Wrapf(err, "decode %s", f.Event)
	}
	if p.RoomID == "" || p.PeerID == "" {
		return p, errors.Errorf("%s: roomId and peerId are required", f.Event)
	}
	return p, nil
}
