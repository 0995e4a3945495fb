package rooms

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a room id does not exist.
var ErrNotFound = errors.New("room not found")

// JoinResult describes a room right after a successful join.
type JoinResult struct {
	RoomID string
	// Participants is the full list after the append, in join order.
	Participants []string
	// Sharer is the current screen-sharer, empty when nobody shares.
	Sharer string
}

// LeaveResult describes the effect of a leave.
type LeaveResult struct {
	RoomID string
	PeerID string
	// Removed is false when the room or the peer was already gone.
	Removed bool
	// SharingStopped is true when the leaving peer was the screen-sharer.
	SharingStopped bool
	// Remaining is the participant list after the removal.
	Remaining []string
	// Reaped is true when the room was discarded because it became empty.
	Reaped bool
}

// ShareResult describes a start-sharing attempt.
type ShareResult struct {
	RoomID   string
	Accepted bool
	// Sharer is the sharer after the call (the caller when accepted).
	Sharer string
}

// Snapshot is a point-in-time copy of a room.
type Snapshot struct {
	ID           string    `json:"roomId"`
	Participants []string  `json:"participants"`
	Sharer       string    `json:"sharer,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Registry is the in-memory room table. Every operation on a room runs under
// that room's lock; operations on different rooms only share the map lookup.
//
// Mutating operations take an optional hook that runs while the room is
// still locked, so callers can emit events in the same order as mutations.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

type room struct {
	mu           sync.Mutex
	id           string
	participants []string
	sharer       string
	createdAt    time.Time
	emptySince   time.Time
	closed       bool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

// CreateRoom registers an empty room under a fresh UUID and returns its id.
func (r *Registry) CreateRoom() string {
	now := r.now().UTC()
	rm := &room{
		id:         uuid.NewString(),
		createdAt:  now,
		emptySince: now,
	}

	r.mu.Lock()
	r.rooms[rm.id] = rm
	r.mu.Unlock()
	return rm.id
}

// JoinRoom appends peerID to the room. The same peer joining twice is
// appended twice. Returns ErrNotFound for unknown rooms without mutating.
func (r *Registry) JoinRoom(roomID, peerID string, hook func(JoinResult)) (JoinResult, error) {
	rm := r.lock(roomID)
	if rm == nil {
		return JoinResult{}, ErrNotFound
	}
	defer rm.mu.Unlock()

	rm.participants = append(rm.participants, peerID)
	res := JoinResult{
		RoomID:       roomID,
		Participants: rm.copyParticipants(),
		Sharer:       rm.sharer,
	}
	if hook != nil {
		hook(res)
	}
	return res, nil
}

// LeaveRoom removes one instance of peerID. Unknown rooms and absent peers
// are a no-op. The room is reaped when its last participant leaves.
func (r *Registry) LeaveRoom(roomID, peerID string, hook func(LeaveResult)) LeaveResult {
	res := LeaveResult{RoomID: roomID, PeerID: peerID}
	rm := r.lock(roomID)
	if rm == nil {
		return res
	}
	defer rm.mu.Unlock()

	idx := -1
	for i, p := range rm.participants {
		if p == peerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return res
	}

	rm.participants = append(rm.participants[:idx], rm.participants[idx+1:]...)
	res.Removed = true
	if rm.sharer == peerID {
		rm.sharer = ""
		res.SharingStopped = true
	}
	res.Remaining = rm.copyParticipants()

	if len(rm.participants) == 0 {
		r.reap(rm)
		res.Reaped = true
	}
	if hook != nil {
		hook(res)
	}
	return res
}

// StartSharing makes peerID the room's screen-sharer unless someone already
// is. Unknown rooms reject.
func (r *Registry) StartSharing(roomID, peerID string, hook func(ShareResult)) ShareResult {
	res := ShareResult{RoomID: roomID}
	rm := r.lock(roomID)
	if rm == nil {
		return res
	}
	defer rm.mu.Unlock()

	if rm.sharer != "" {
		res.Sharer = rm.sharer
	} else {
		rm.sharer = peerID
		res.Accepted = true
		res.Sharer = peerID
	}
	if hook != nil {
		hook(res)
	}
	return res
}

// StopSharing clears the room's screen-sharer. It reports whether the room
// exists; the hook only runs for existing rooms.
func (r *Registry) StopSharing(roomID string, hook func()) bool {
	rm := r.lock(roomID)
	if rm == nil {
		return false
	}
	defer rm.mu.Unlock()

	rm.sharer = ""
	if hook != nil {
		hook()
	}
	return true
}

// Snapshot copies the current state of one room.
func (r *Registry) Snapshot(roomID string) (Snapshot, error) {
	rm := r.lock(roomID)
	if rm == nil {
		return Snapshot{}, ErrNotFound
	}
	defer rm.mu.Unlock()
	return rm.snapshot(), nil
}

// Rooms copies every room, oldest first.
func (r *Registry) Rooms() []Snapshot {
	r.mu.RLock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, rm := range list {
		rm.mu.Lock()
		if !rm.closed {
			out = append(out, rm.snapshot())
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Reap drops rooms that have been empty for at least idle and returns their
// ids. This covers rooms that were created but never joined.
func (r *Registry) Reap(idle time.Duration) []string {
	r.mu.RLock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.RUnlock()

	cutoff := r.now().UTC().Add(-idle)
	var reaped []string
	for _, rm := range list {
		rm.mu.Lock()
		if !rm.closed && len(rm.participants) == 0 && !rm.emptySince.After(cutoff) {
			r.reap(rm)
			reaped = append(reaped, rm.id)
		}
		rm.mu.Unlock()
	}
	return reaped
}

// lock returns the room locked, or nil when it does not exist. A room reaped
// between the lookup and the lock is reported as missing.
func (r *Registry) lock(roomID string) *room {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil
	}
	return rm
}

// reap removes rm from the table. Caller holds rm.mu.
func (r *Registry) reap(rm *room) {
	rm.closed = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

func (rm *room) copyParticipants() []string {
	out := make([]string, len(rm.participants))
	copy(out, rm.participants)
	return out
}

func (rm *room) snapshot() Snapshot {
	return Snapshot{
		ID:           rm.id,
		Participants: rm.copyParticipants(),
		Sharer:       rm.sharer,
		CreatedAt:    rm.createdAt,
	}
}
