package protocol

// Inbound event names (client -> server).
const (
	EventCreateRoom   = "create-room"
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventStartSharing = "start-sharing"
	EventStopSharing  = "stop-sharing"
)

// Outbound event names (server -> client).
const (
	EventRoomCreated        = "room-created"
	EventGetUsers           = "get-users"
	EventUserJoined         = "user-joined"
	EventUserLeaved         = "user-leaved"
	EventUserStartedSharing = "user-started-sharing"
	EventUserStoppedSharing = "user-stopped-sharing"
	EventRoomNotFound       = "room-not-found"
	EventShareRejected      = "share-rejected"
)

// ICEServer describes STUN/TURN servers advertised to clients.
type ICEServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

// RoomParams is the payload of join-room and start-sharing.
type RoomParams struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
	PeerID string `json:"peerId" msgpack:"peerId"`
}

type RoomCreated struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
}

type GetUsers struct {
	RoomID       string   `json:"roomId" msgpack:"roomId"`
	Participants []string `json:"participants" msgpack:"participants"`
}

// PeerEvent carries the peer an event is about (user-joined, user-leaved,
// user-started-sharing).
type PeerEvent struct {
	PeerID string `json:"peerId" msgpack:"peerId"`
}

type RoomNotFound struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
}

type ShareRejected struct {
	PeerID   string `json:"peerId" msgpack:"peerId"`
	SharerID string `json:"sharerId" msgpack:"sharerId"`
}
