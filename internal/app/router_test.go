package app

import (
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/glagius/signal-server/internal/core"
	"github.com/glagius/signal-server/internal/domain"
)

// fakeConn records every frame routed to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) envelopes(t *testing.T) []core.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		env, err := core.DecodeEnvelope(fr)
		if err != nil {
			t.Fatalf("recorded frame does not decode: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) lastEnvelope(t *testing.T) core.Envelope {
	t.Helper()
	envs := f.envelopes(t)
	if len(envs) == 0 {
		t.Fatal("no frames recorded")
	}
	return envs[len(envs)-1]
}

func authEnvelope(login, name string) core.Envelope {
	return core.Envelope{
		Kind:    core.KindAuthenticate,
		Payload: &core.Payload{Login: login, Name: name},
	}
}

// connect authenticates a fresh client and returns its id and connection.
func connect(t *testing.T, r *Router, login, name string) (string, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sid := r.Dispatch("", conn, authEnvelope(login, name))
	if sid == "" {
		t.Fatalf("authenticate did not bind a sender id for %q", login)
	}
	return sid, conn
}

func TestDispatchAuthenticateRepliesAndBroadcasts(t *testing.T) {
	r := NewRouter(NewStore())

	_, alice := connect(t, r, "alice", "Alice")
	_, bob := connect(t, r, "bob", "Bob")

	envs := alice.envelopes(t)
	if envs[0].Kind != core.KindAuthenticate || envs[0].Payload == nil || envs[0].Payload.User == nil {
		t.Fatalf("expected authenticate reply with user, got %+v", envs[0])
	}
	if envs[0].Payload.User.Login != "alice" {
		t.Fatalf("reply carries wrong user: %+v", envs[0].Payload.User)
	}

	// Bob's authenticate broadcast reaches every connection, Alice included.
	last := alice.lastEnvelope(t)
	if last.Kind != core.KindUsers || len(last.Payload.Users) != 2 {
		t.Fatalf("expected users broadcast with 2 users, got %+v", last)
	}
	bobLast := bob.lastEnvelope(t)
	if bobLast.Kind != core.KindUsers || len(bobLast.Payload.Users) != 2 {
		t.Fatalf("new connection missed the broadcast: %+v", bobLast)
	}
}

func TestDispatchAuthenticateMissingFields(t *testing.T) {
	r := NewRouter(NewStore())
	conn := &fakeConn{}

	sid := r.Dispatch("", conn, core.Envelope{Kind: core.KindAuthenticate})
	if sid != "" {
		t.Fatalf("bound sender id despite missing payload: %q", sid)
	}
	env := conn.lastEnvelope(t)
	if env.Kind != core.KindError || env.Payload.Error == "" {
		t.Fatalf("expected error reply, got %+v", env)
	}
	if len(r.Store.Users()) != 0 {
		t.Fatal("users table changed on invalid authenticate")
	}
}

func TestDispatchUsersReadOnly(t *testing.T) {
	r := NewRouter(NewStore())
	sid, conn := connect(t, r, "alice", "Alice")

	r.Dispatch(sid, conn, core.Envelope{Kind: core.KindUsers})

	env := conn.lastEnvelope(t)
	if env.Kind != core.KindUsers || len(env.Payload.Users) != 1 {
		t.Fatalf("expected users snapshot, got %+v", env)
	}
}

func TestDispatchRoomsReadOnly(t *testing.T) {
	r := NewRouter(NewStore())
	sid, conn := connect(t, r, "alice", "Alice")

	r.Dispatch(sid, conn, core.Envelope{Kind: core.KindRooms})

	env := conn.lastEnvelope(t)
	if env.Kind != core.KindRooms {
		t.Fatalf("expected rooms reply, got %+v", env)
	}
	if _, ok := env.Payload.Rooms[domain.DefaultRoomID]; !ok {
		t.Fatalf("rooms snapshot misses default room: %+v", env.Payload.Rooms)
	}
}

func TestDispatchCallOnlineTarget(t *testing.T) {
	r := NewRouter(NewStore())
	aliceID, alice := connect(t, r, "alice", "Alice")
	bobID, bob := connect(t, r, "bob", "Bob")

	aliceBefore := len(alice.envelopes(t))
	bobBefore := len(bob.envelopes(t))

	r.Dispatch(bobID, bob, core.Envelope{Kind: core.KindCall, Payload: &core.Payload{ID: aliceID}})

	aliceEnvs := alice.envelopes(t)
	if len(aliceEnvs) != aliceBefore+1 {
		t.Fatalf("expected one forwarded frame for alice, got %d new", len(aliceEnvs)-aliceBefore)
	}
	forwarded := aliceEnvs[len(aliceEnvs)-1]
	if forwarded.Kind != core.KindCall || forwarded.Payload.ID != bobID {
		t.Fatalf("expected call carrying caller id %q, got %+v", bobID, forwarded)
	}
	if len(bob.envelopes(t)) != bobBefore {
		t.Fatal("caller received an unexpected reply")
	}
}

func TestDispatchCallOfflineTarget(t *testing.T) {
	r := NewRouter(NewStore())
	bobID, bob := connect(t, r, "bob", "Bob")

	r.Dispatch(bobID, bob, core.Envelope{Kind: core.KindCall, Payload: &core.Payload{ID: "nobody"}})

	env := bob.lastEnvelope(t)
	if env.Kind != core.KindCall || env.Payload.Error != TargetOfflineMsg {
		t.Fatalf("expected offline error reply, got %+v", env)
	}
}

func TestDispatchCallWithoutTargetID(t *testing.T) {
	r := NewRouter(NewStore())
	bobID, bob := connect(t, r, "bob", "Bob")

	r.Dispatch(bobID, bob, core.Envelope{Kind: core.KindCall})

	env := bob.lastEnvelope(t)
	if env.Kind != core.KindError {
		t.Fatalf("expected protocol error, got %+v", env)
	}
}

func TestDispatchForwardRequiresAuthentication(t *testing.T) {
	r := NewRouter(NewStore())
	aliceID, _ := connect(t, r, "alice", "Alice")

	stranger := &fakeConn{}
	r.Dispatch("", stranger, core.Envelope{Kind: core.KindCall, Payload: &core.Payload{ID: aliceID}})

	env := stranger.lastEnvelope(t)
	if env.Kind != core.KindError || !strings.Contains(env.Payload.Error, "authenticate") {
		t.Fatalf("expected authenticate-first error, got %+v", env)
	}
}

func TestDispatchOfferForwardsSDPWithSenderID(t *testing.T) {
	r := NewRouter(NewStore())
	aliceID, alice := connect(t, r, "alice", "Alice")
	bobID, bob := connect(t, r, "bob", "Bob")

	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	r.Dispatch(bobID, bob, core.Envelope{
		Kind:    core.KindOffer,
		Payload: &core.Payload{ID: aliceID, Offer: offer},
	})

	env := alice.lastEnvelope(t)
	if env.Kind != core.KindOffer {
		t.Fatalf("expected forwarded offer, got %+v", env)
	}
	if env.Payload.ID != bobID {
		t.Fatalf("forwarded id not rewritten to sender: %+v", env.Payload)
	}
	if env.Payload.Offer == nil || env.Payload.Offer.SDP != "v=0\r\n" {
		t.Fatalf("SDP lost in forwarding: %+v", env.Payload)
	}
}

func TestDispatchJoinAndLeaveRoom(t *testing.T) {
	r := NewRouter(NewStore())
	if err := r.Store.CreateRoom("lobby", "Lobby"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	aliceID, alice := connect(t, r, "alice", "Alice")

	r.Dispatch(aliceID, alice, core.Envelope{Kind: core.KindJoin, Payload: &core.Payload{ID: "lobby"}})

	envs := alice.envelopes(t)
	var joinReply *core.Envelope
	for i := range envs {
		if envs[i].Kind == core.KindJoin {
			joinReply = &envs[i]
		}
	}
	if joinReply == nil || joinReply.Payload.User == nil {
		t.Fatalf("expected join reply with user, got %+v", envs)
	}
	if !joinReply.Payload.User.InRoom("lobby") {
		t.Fatalf("join reply user not in lobby: %+v", joinReply.Payload.User)
	}

	r.Dispatch(aliceID, alice, core.Envelope{Kind: core.KindLeave, Payload: &core.Payload{ID: "lobby"}})
	if len(r.Store.Rooms()["lobby"].Users) != 0 {
		t.Fatal("lobby membership survived leave")
	}
}

func TestDispatchJoinUnknownRoom(t *testing.T) {
	r := NewRouter(NewStore())
	aliceID, alice := connect(t, r, "alice", "Alice")

	r.Dispatch(aliceID, alice, core.Envelope{Kind: core.KindJoin, Payload: &core.Payload{ID: "nowhere"}})

	env := alice.lastEnvelope(t)
	if env.Kind != core.KindJoin || env.Payload.Error == "" {
		t.Fatalf("expected join error reply, got %+v", env)
	}
}

func TestMembershipReplyWhenSenderRemoved(t *testing.T) {
	r := NewRouter(NewStore())
	conn := &fakeConn{}

	// The membership update succeeds but the sender vanishes before the
	// reply lookup; the reply must be an error, never a zero-value user.
	r.handleMembership("ghost", conn, core.Envelope{
		Kind:    core.KindJoin,
		Payload: &core.Payload{ID: string(domain.DefaultRoomID)},
	}, func(string, domain.RoomID) error { return nil })

	env := conn.lastEnvelope(t)
	if env.Kind != core.KindError || env.Payload.Error == "" {
		t.Fatalf("expected error reply for a removed sender, got %+v", env)
	}
	for _, e := range conn.envelopes(t) {
		if e.Kind == core.KindJoin && e.Payload != nil && e.Payload.User != nil {
			t.Fatalf("reply carries a user for a removed sender: %+v", e)
		}
	}
}

func TestDispatchUnrecognizedKind(t *testing.T) {
	r := NewRouter(NewStore())
	sid, conn := connect(t, r, "alice", "Alice")
	usersBefore := len(r.Store.Users())
	roomsBefore := len(r.Store.Rooms())
	connsBefore := len(r.Store.Connections())

	r.Dispatch(sid, conn, core.Envelope{Kind: "bogus"})

	env := conn.lastEnvelope(t)
	if env.Kind != core.KindError || !strings.Contains(env.Payload.Error, "bogus") {
		t.Fatalf("expected error naming the kind, got %+v", env)
	}
	if len(r.Store.Users()) != usersBefore || len(r.Store.Rooms()) != roomsBefore || len(r.Store.Connections()) != connsBefore {
		t.Fatal("tables changed on unrecognized kind")
	}
}

func TestDispatchReauthenticationReplacesConnection(t *testing.T) {
	r := NewRouter(NewStore())
	aliceID, _ := connect(t, r, "alice", "Alice")

	fresh := &fakeConn{}
	newID := r.Dispatch("", fresh, authEnvelope("alice", "Alice"))
	if newID != aliceID {
		t.Fatalf("re-auth changed the user id: %q vs %q", newID, aliceID)
	}

	got, ok := r.Store.Connection(aliceID)
	if !ok {
		t.Fatal("connection missing after re-auth")
	}
	if got != core.SignalConnection(fresh) {
		t.Fatal("connection entry not replaced by the new socket")
	}
	if len(r.Store.Connections()) != 1 {
		t.Fatalf("expected one connection entry, got %d", len(r.Store.Connections()))
	}
}
