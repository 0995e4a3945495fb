package signaling

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrtc101/internal/app/rooms"
	"webrtc101/pkg/webrtc/protocol"
)

const (
	eventTimeout = 2 * time.Second
	quietPeriod  = 200 * time.Millisecond
)

type testEnv struct {
	hub      *Hub
	registry *rooms.Registry
	url      string
}

func newTestEnv(t *testing.T, opts HubOptions) *testEnv {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := rooms.NewRegistry()
	hub := NewHub(registry, opts)
	srv := httptest.NewServer(hub.HTTPHandler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testEnv{
		hub:      hub,
		registry: registry,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

type testPeer struct {
	t      *testing.T
	conn   *websocket.Conn
	codec  protocol.Codec
	frames chan protocol.Frame
}

func (e *testEnv) dial(t *testing.T) *testPeer {
	return e.dialCodec(t, protocol.JSON)
}

func (e *testEnv) dialCodec(t *testing.T, codec protocol.Codec) *testPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url+"?codec="+codec.Name(), nil)
	require.NoError(t, err)

	p := &testPeer{t: t, conn: conn, codec: codec, frames: make(chan protocol.Frame, 64)}
	go p.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func (p *testPeer) readLoop() {
	defer close(p.frames)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := p.codec.Decode(data)
		if err != nil {
			continue
		}
		p.frames <- frame
	}
}

func (p *testPeer) send(event string, data any) {
	p.t.Helper()
	frame, err := p.codec.Encode(event, data)
	require.NoError(p.t, err)
	msgType := websocket.TextMessage
	if p.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	require.NoError(p.t, p.conn.WriteMessage(msgType, frame))
}

func (p *testPeer) expect(event string, into any) {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		require.True(p.t, ok, "connection closed while waiting for %s", event)
		require.Equal(p.t, event, f.Event)
		if into != nil {
			require.NoError(p.t, f.Bind(into))
		}
	case <-time.After(eventTimeout):
		p.t.Fatalf("timed out waiting for %s", event)
	}
}

func (p *testPeer) expectNothing() {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		if ok {
			p.t.Fatalf("unexpected event %s", f.Event)
		}
	case <-time.After(quietPeriod):
	}
}

func (p *testPeer) createRoom() string {
	p.t.Helper()
	p.send(protocol.EventCreateRoom, nil)
	var created protocol.RoomCreated
	p.expect(protocol.EventRoomCreated, &created)
	require.NotEmpty(p.t, created.RoomID)
	return created.RoomID
}

func (p *testPeer) join(roomID, peerID string) protocol.GetUsers {
	p.t.Helper()
	p.send(protocol.EventJoinRoom, protocol.RoomParams{RoomID: roomID, PeerID: peerID})
	var users protocol.GetUsers
	p.expect(protocol.EventGetUsers, &users)
	return users
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, eventTimeout, 10*time.Millisecond)
}

func TestCreateAndJoinRoom(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()

	users := p1.join(roomID, "p1")
	assert.Equal(t, protocol.GetUsers{RoomID: roomID, Participants: []string{"p1"}}, users)

	users = p2.join(roomID, "p2")
	assert.Equal(t, protocol.GetUsers{RoomID: roomID, Participants: []string{"p1", "p2"}}, users)

	var joined protocol.PeerEvent
	p1.expect(protocol.EventUserJoined, &joined)
	assert.Equal(t, "p2", joined.PeerID)

	p2.expectNothing()
}

func TestJoinUnknownRoomIsSilent(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)

	p1.send(protocol.EventJoinRoom, protocol.RoomParams{RoomID: "never-created", PeerID: "p1"})
	p1.expectNothing()
	assert.Equal(t, 0, env.registry.Len())
}

func TestStrictRepliesReportFailures(t *testing.T) {
	env := newTestEnv(t, HubOptions{StrictReplies: true})
	p1 := env.dial(t)
	p2 := env.dial(t)

	p1.send(protocol.EventJoinRoom, protocol.RoomParams{RoomID: "never-created", PeerID: "p1"})
	var missing protocol.RoomNotFound
	p1.expect(protocol.EventRoomNotFound, &missing)
	assert.Equal(t, "never-created", missing.RoomID)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)

	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	p2.expect(protocol.EventUserStartedSharing, nil)

	p2.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p2"})
	var rejected protocol.ShareRejected
	p2.expect(protocol.EventShareRejected, &rejected)
	assert.Equal(t, protocol.ShareRejected{PeerID: "p2", SharerID: "p1"}, rejected)
	p1.expectNothing()
}

func TestScreenShareSingleSharer(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)

	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	var started protocol.PeerEvent
	p2.expect(protocol.EventUserStartedSharing, &started)
	assert.Equal(t, "p1", started.PeerID)
	p1.expectNothing()

	p2.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p2"})
	p1.expectNothing()
	p2.expectNothing()

	snap, err := env.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.Sharer)
}

func TestLateJoinerLearnsCurrentSharer(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	waitFor(t, func() bool {
		snap, err := env.registry.Snapshot(roomID)
		return err == nil && snap.Sharer == "p1"
	})

	p2.join(roomID, "p2")
	var sharer protocol.PeerEvent
	p2.expect(protocol.EventUserStartedSharing, &sharer)
	assert.Equal(t, "p1", sharer.PeerID)
}

func TestStopSharingBroadcastsToOthers(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)

	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	p2.expect(protocol.EventUserStartedSharing, nil)

	// stop-sharing carries the bare room id.
	p1.send(protocol.EventStopSharing, roomID)
	p2.expect(protocol.EventUserStoppedSharing, nil)
	p1.expectNothing()

	p2.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p2"})
	p1.expect(protocol.EventUserStartedSharing, nil)
}

func TestSharerDisconnectNotifiesRoom(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)
	p3 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)
	p3.join(roomID, "p3")
	p1.expect(protocol.EventUserJoined, nil)
	p2.expect(protocol.EventUserJoined, nil)

	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	p2.expect(protocol.EventUserStartedSharing, nil)
	p3.expect(protocol.EventUserStartedSharing, nil)

	require.NoError(t, p1.conn.Close())

	for _, p := range []*testPeer{p2, p3} {
		var left protocol.PeerEvent
		p.expect(protocol.EventUserLeaved, &left)
		assert.Equal(t, "p1", left.PeerID)
		p.expect(protocol.EventUserStoppedSharing, nil)
		p.expectNothing()
	}

	snap, err := env.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p3"}, snap.Participants)
	assert.Empty(t, snap.Sharer)
}

func TestLeaveThenDisconnectCleansUpOnce(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)

	p1.send(protocol.EventLeaveRoom, nil)
	p1.send(protocol.EventLeaveRoom, nil)
	require.NoError(t, p1.conn.Close())

	var left protocol.PeerEvent
	p2.expect(protocol.EventUserLeaved, &left)
	assert.Equal(t, "p1", left.PeerID)
	p2.expectNothing()

	snap, err := env.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, snap.Participants)
}

func TestDisconnectBeforeJoinIsNoop(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")

	require.NoError(t, p2.conn.Close())
	p1.expectNothing()

	snap, err := env.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, snap.Participants)
}

func TestLastLeaveReapsRoom(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	require.NoError(t, p1.conn.Close())

	waitFor(t, func() bool { return env.registry.Len() == 0 })
	_, err := env.registry.Snapshot(roomID)
	assert.ErrorIs(t, err, rooms.ErrNotFound)
}

func TestJoinOtherRoomReleasesPrevious(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	first := p1.createRoom()
	second := p1.createRoom()
	p2.join(first, "p2")
	p1.join(first, "p1")
	p2.expect(protocol.EventUserJoined, nil)

	users := p1.join(second, "p1")
	assert.Equal(t, []string{"p1"}, users.Participants)

	var left protocol.PeerEvent
	p2.expect(protocol.EventUserLeaved, &left)
	assert.Equal(t, "p1", left.PeerID)

	snap, err := env.registry.Snapshot(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, snap.Participants)

	// p1 no longer hears about the first room.
	p2.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: first, PeerID: "p2"})
	p1.expectNothing()
}

func TestRepeatedJoinOnSameConnection(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)

	users := p1.join(roomID, "p1")
	assert.Equal(t, []string{"p1", "p2"}, users.Participants)
	p2.expectNothing()
}

// Two connections claiming the same peer id are both listed.
func TestDuplicatePeerIDsAcrossConnections(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	a := env.dial(t)
	b := env.dial(t)

	roomID := a.createRoom()
	a.join(roomID, "p1")
	users := b.join(roomID, "p1")
	assert.Equal(t, []string{"p1", "p1"}, users.Participants)
	a.expect(protocol.EventUserJoined, nil)

	require.NoError(t, b.conn.Close())
	a.expect(protocol.EventUserLeaved, nil)

	snap, err := env.registry.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, snap.Participants)
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dial(t)

	require.NoError(t, p1.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	p1.send("no-such-event", nil)
	p1.send(protocol.EventJoinRoom, "wrong shape")
	p1.send(protocol.EventStopSharing, nil)

	p1.createRoom()
}

func TestMsgpackCodec(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	p1 := env.dialCodec(t, protocol.MsgPack)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	users := p1.join(roomID, "p1")
	assert.Equal(t, []string{"p1"}, users.Participants)

	p2.join(roomID, "p2")
	var joined protocol.PeerEvent
	p1.expect(protocol.EventUserJoined, &joined)
	assert.Equal(t, "p2", joined.PeerID)

	p2.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p2"})
	p1.expect(protocol.EventUserStartedSharing, nil)
	p2.send(protocol.EventStopSharing, roomID)
	p1.expect(protocol.EventUserStoppedSharing, nil)
}

func TestUnknownCodecRejected(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	_, resp, err := websocket.DefaultDialer.Dial(env.url+"?codec=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConcurrentStartSharingOverConnections(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	owner := env.dial(t)
	roomID := owner.createRoom()
	owner.join(roomID, "owner")

	const n = 8
	peers := make([]*testPeer, n)
	for i := range peers {
		peers[i] = env.dial(t)
		peers[i].join(roomID, "peer-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i, p := range peers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame, err := p.codec.Encode(protocol.EventStartSharing,
				protocol.RoomParams{RoomID: roomID, PeerID: "peer-" + string(rune('a'+i))})
			if assert.NoError(t, err) {
				assert.NoError(t, p.conn.WriteMessage(websocket.TextMessage, frame))
			}
		}()
	}
	wg.Wait()

	// The owner hears exactly one user-started-sharing among the join noise.
	started := 0
	deadline := time.After(eventTimeout)
	for {
		select {
		case f := <-owner.frames:
			if f.Event == protocol.EventUserStartedSharing {
				started++
			}
			continue
		case <-deadline:
		}
		break
	}
	assert.Equal(t, 1, started)
}

type fakeStores struct {
	mu      sync.Mutex
	peers   map[string][]string
	sharers map[string]string
	resets  int
}

func newFakeStores() *fakeStores {
	return &fakeStores{peers: map[string][]string{}, sharers: map[string]string{}}
}

func (f *fakeStores) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.peers = map[string][]string{}
	f.sharers = map[string]string{}
	return nil
}

func (f *fakeStores) SetPeers(_ context.Context, roomID string, peers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[roomID] = append([]string(nil), peers...)
	return nil
}

func (f *fakeStores) SetSharer(_ context.Context, roomID, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if peerID == "" {
		delete(f.sharers, roomID)
		return nil
	}
	f.sharers[roomID] = peerID
	return nil
}

func (f *fakeStores) DropRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, roomID)
	delete(f.sharers, roomID)
	return nil
}

func (f *fakeStores) state(roomID string) ([]string, bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	peers, ok := f.peers[roomID]
	return peers, ok, f.sharers[roomID]
}

func TestMirrorFollowsRoomState(t *testing.T) {
	stores := newFakeStores()
	env := newTestEnv(t, HubOptions{Mirror: Mirror{Presence: stores, Sharing: stores}})
	p1 := env.dial(t)
	p2 := env.dial(t)

	roomID := p1.createRoom()
	p1.join(roomID, "p1")
	p2.join(roomID, "p2")
	p1.expect(protocol.EventUserJoined, nil)
	p1.send(protocol.EventStartSharing, protocol.RoomParams{RoomID: roomID, PeerID: "p1"})
	p2.expect(protocol.EventUserStartedSharing, nil)

	waitFor(t, func() bool {
		peers, _, sharer := stores.state(roomID)
		return assert.ObjectsAreEqual([]string{"p1", "p2"}, peers) && sharer == "p1"
	})

	require.NoError(t, p1.conn.Close())
	p2.expect(protocol.EventUserLeaved, nil)
	waitFor(t, func() bool {
		peers, _, sharer := stores.state(roomID)
		return assert.ObjectsAreEqual([]string{"p2"}, peers) && sharer == ""
	})

	require.NoError(t, p2.conn.Close())
	waitFor(t, func() bool {
		_, ok, _ := stores.state(roomID)
		return !ok
	})
}

func TestReaperDropsUnusedRooms(t *testing.T) {
	stores := newFakeStores()
	env := newTestEnv(t, HubOptions{Mirror: Mirror{Presence: stores}})

	roomID := env.hub.CreateRoom()
	waitFor(t, func() bool {
		_, ok, _ := stores.state(roomID)
		return ok
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.RunReaper(ctx, 10*time.Millisecond, time.Nanosecond)

	waitFor(t, func() bool { return env.registry.Len() == 0 })
	waitFor(t, func() bool {
		_, ok, _ := stores.state(roomID)
		return !ok
	})
}

func TestAcceptAfterCloseFails(t *testing.T) {
	env := newTestEnv(t, HubOptions{})
	env.hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	if err == nil {
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(eventTimeout))
		_, _, err = conn.ReadMessage()
	}
	assert.Error(t, err)
}

func TestAcceptReturnsErrHubClosed(t *testing.T) {
	hub := NewHub(rooms.NewRegistry(), HubOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	hub.Close()

	accepted := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		accepted <- hub.Accept(conn, ConnOptions{})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-accepted:
		assert.ErrorIs(t, err, ErrHubClosed)
	case <-time.After(eventTimeout):
		t.Fatal("accept did not return")
	}
}
