package signaling

import "sync"

// session is the per-connection binding of room and peer id. It starts empty
// and is filled by the first successful join.
type session struct {
	mu     sync.Mutex
	roomID string
	peerID string
}

// bind stores a new binding and returns the one it replaced.
func (s *session) bind(roomID, peerID string) (prevRoom, prevPeer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevRoom, prevPeer = s.roomID, s.peerID
	s.roomID, s.peerID = roomID, peerID
	return prevRoom, prevPeer
}

func (s *session) binding() (roomID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.peerID
}

func (s *session) room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// take clears the binding and returns it. Only the first caller after a
// bind gets ok=true, so leave-room and disconnect clean up once.
func (s *session) take() (roomID, peerID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == "" || s.peerID == "" {
		return "", "", false
	}
	roomID, peerID = s.roomID, s.peerID
	s.roomID, s.peerID = "", ""
	return roomID, peerID, true
}
