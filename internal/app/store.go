package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glagius/signal-server/internal/core"
	"github.com/glagius/signal-server/internal/domain"
)

var (
	ErrRoomExists  = errors.New("room already exists")
	ErrNoSuchRoom  = errors.New("no such room")
	ErrNoSuchUser  = errors.New("no such user")
	ErrDefaultRoom = errors.New("default room cannot be removed")
)

// Store is the sole authority over the Users, Rooms and Connections tables.
// Every mutation happens under one lock, so concurrent operations are
// linearized and a published snapshot always reflects a state the store was
// actually in. Nothing outside the store holds a writable reference to table
// contents: reads hand out deep copies.
type Store struct {
	mu    sync.RWMutex
	users map[string]*domain.AuthenticatedUser // keyed by login
	order []string                             // logins in registration order
	byID  map[string]string                    // user id -> login
	rooms map[domain.RoomID]*domain.Room
	conns map[string]core.SignalConnection // keyed by user id

	usersWatch *watch[[]domain.AuthenticatedUser]
	roomsWatch *watch[map[domain.RoomID]domain.Room]
	connsWatch *watch[map[string]core.SignalConnection]
}

// NewStore creates a store holding only the default room. The rooms table is
// non-empty from the start, so its watchers must replay the default room
// right away, before any mutation.
func NewStore() *Store {
	s := &Store{
		users:      make(map[string]*domain.AuthenticatedUser),
		byID:       make(map[string]string),
		rooms:      make(map[domain.RoomID]*domain.Room),
		conns:      make(map[string]core.SignalConnection),
		usersWatch: newWatch[[]domain.AuthenticatedUser](),
		roomsWatch: newWatch[map[domain.RoomID]domain.Room](),
		connsWatch: newWatch[map[string]core.SignalConnection](),
	}
	s.rooms[domain.DefaultRoomID] = domain.NewDefaultRoom()
	s.publishRoomsLocked()
	return s
}

// FindUser returns the registered user behind login, if any.
func (s *Store) FindUser(login string) (domain.AuthenticatedUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[login]
	if !ok {
		return domain.AuthenticatedUser{}, false
	}
	return u.Clone(), true
}

// Authenticate registers a claim, or returns the already registered user for
// the same login unchanged. New users join the default room; the user's room
// set and the room's membership are updated together, under the same lock.
func (s *Store) Authenticate(claim domain.User) domain.AuthenticatedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[claim.Login]; ok {
		return u.Clone()
	}
	u := domain.NewAuthenticatedUser(claim)
	s.users[claim.Login] = &u
	s.order = append(s.order, claim.Login)
	s.byID[u.ID] = claim.Login
	s.rooms[domain.DefaultRoomID].AddUser(u.Clone())
	log.Info().Str("module", "app.store").Str("login", claim.Login).Str("id", u.ID).Msg("registered user")
	s.publishUsersLocked()
	s.publishRoomsLocked()
	return u.Clone()
}

// Touch refreshes the user's last-active timestamp.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.byID[id]
	if !ok {
		return
	}
	s.users[login].LastActiveTime = time.Now()
	s.publishUsersLocked()
}

// RemoveUser deletes the user, its connection and every room membership in
// one step. The guaranteed flow never calls it; the integrator decides the
// retention policy on disconnect.
func (s *Store) RemoveUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.byID[id]
	if !ok {
		return ErrNoSuchUser
	}
	delete(s.users, login)
	delete(s.byID, id)
	for i, l := range s.order {
		if l == login {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for _, room := range s.rooms {
		room.RemoveUser(id)
	}
	connected := false
	if _, connected = s.conns[id]; connected {
		delete(s.conns, id)
	}
	log.Info().Str("module", "app.store").Str("id", id).Msg("removed user")
	s.publishUsersLocked()
	s.publishRoomsLocked()
	if connected {
		s.publishConnsLocked()
	}
	return nil
}

// RegisterConnection upserts the live connection for a user id.
// Re-authentication over a new socket replaces the old entry.
func (s *Store) RegisterConnection(id string, conn core.SignalConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = conn
	log.Info().Str("module", "app.store").Str("id", id).Msg("registered connection")
	s.publishConnsLocked()
}

// RemoveConnection deletes the connection entry if present; no-op otherwise.
func (s *Store) RemoveConnection(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return
	}
	delete(s.conns, id)
	log.Info().Str("module", "app.store").Str("id", id).Msg("removed connection")
	s.publishConnsLocked()
}

// RemoveConnectionIf deletes the connection entry only while it still points
// at conn. A socket closing after its user re-authenticated elsewhere must
// not evict the replacement, and the comparison has to share the table lock
// with RegisterConnection to survive that race.
func (s *Store) RemoveConnectionIf(id string, conn core.SignalConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conns[id]
	if !ok || cur != conn {
		return
	}
	delete(s.conns, id)
	log.Info().Str("module", "app.store").Str("id", id).Msg("removed connection")
	s.publishConnsLocked()
}

// Connection returns the live connection for a user id.
func (s *Store) Connection(id string) (core.SignalConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// CreateRoom adds an empty room under a unique id.
func (s *Store) CreateRoom(id domain.RoomID, name domain.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; ok {
		return ErrRoomExists
	}
	s.rooms[id] = &domain.Room{ID: id, Name: name}
	log.Info().Str("module", "app.store").Str("room", string(id)).Msg("created room")
	s.publishRoomsLocked()
	return nil
}

// RemoveRoom deletes a room and strips it from every member's room set.
// The default room is protected.
func (s *Store) RemoveRoom(id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == domain.DefaultRoomID {
		return ErrDefaultRoom
	}
	room, ok := s.rooms[id]
	if !ok {
		return ErrNoSuchRoom
	}
	for _, member := range room.Users {
		if login, ok := s.byID[member.ID]; ok {
			s.users[login].RemoveRoom(id)
		}
	}
	delete(s.rooms, id)
	log.Info().Str("module", "app.store").Str("room", string(id)).Msg("removed room")
	s.publishUsersLocked()
	s.publishRoomsLocked()
	return nil
}

// JoinRoom adds the user to the room's membership and the room to the user's
// room set as one atomic step. Joining a room twice is a no-op.
func (s *Store) JoinRoom(userID string, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.byID[userID]
	if !ok {
		return ErrNoSuchUser
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrNoSuchRoom
	}
	u := s.users[login]
	if u.InRoom(roomID) && room.Contains(userID) {
		return nil
	}
	u.AddRoom(roomID)
	room.AddUser(u.Clone())
	log.Info().Str("module", "app.store").Str("id", userID).Str("room", string(roomID)).Msg("joined room")
	s.publishUsersLocked()
	s.publishRoomsLocked()
	return nil
}

// LeaveRoom removes the user from the room's membership and the room from the
// user's room set as one atomic step.
func (s *Store) LeaveRoom(userID string, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.byID[userID]
	if !ok {
		return ErrNoSuchUser
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrNoSuchRoom
	}
	s.users[login].RemoveRoom(roomID)
	room.RemoveUser(userID)
	log.Info().Str("module", "app.store").Str("id", userID).Str("room", string(roomID)).Msg("left room")
	s.publishUsersLocked()
	s.publishRoomsLocked()
	return nil
}

// Users returns the registered users in registration order.
func (s *Store) Users() []domain.AuthenticatedUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersSnapshotLocked()
}

// Rooms returns a copy of every room keyed by id.
func (s *Store) Rooms() map[domain.RoomID]domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomsSnapshotLocked()
}

// Connections returns a copy of the live connection table.
func (s *Store) Connections() map[string]core.SignalConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connsSnapshotLocked()
}

// WatchUsers subscribes to the users table: latest non-empty snapshot first,
// then one per change.
func (s *Store) WatchUsers() (<-chan []domain.AuthenticatedUser, func()) {
	return s.usersWatch.Subscribe()
}

// WatchRooms subscribes to the rooms table.
func (s *Store) WatchRooms() (<-chan map[domain.RoomID]domain.Room, func()) {
	return s.roomsWatch.Subscribe()
}

// WatchConnections subscribes to the connections table.
func (s *Store) WatchConnections() (<-chan map[string]core.SignalConnection, func()) {
	return s.connsWatch.Subscribe()
}

func (s *Store) usersSnapshotLocked() []domain.AuthenticatedUser {
	out := make([]domain.AuthenticatedUser, 0, len(s.order))
	for _, login := range s.order {
		out = append(out, s.users[login].Clone())
	}
	return out
}

func (s *Store) roomsSnapshotLocked() map[domain.RoomID]domain.Room {
	out := make(map[domain.RoomID]domain.Room, len(s.rooms))
	for id, room := range s.rooms {
		out[id] = room.Clone()
	}
	return out
}

func (s *Store) connsSnapshotLocked() map[string]core.SignalConnection {
	out := make(map[string]core.SignalConnection, len(s.conns))
	for id, c := range s.conns {
		out[id] = c
	}
	return out
}

// Empty states are never published, matching the replay contract: a
// subscriber either sees data or waits for the first real content.
func (s *Store) publishUsersLocked() {
	if len(s.users) == 0 {
		return
	}
	s.usersWatch.Publish(s.usersSnapshotLocked())
}

func (s *Store) publishRoomsLocked() {
	if len(s.rooms) == 0 {
		return
	}
	s.roomsWatch.Publish(s.roomsSnapshotLocked())
}

func (s *Store) publishConnsLocked() {
	if len(s.conns) == 0 {
		return
	}
	s.connsWatch.Publish(s.connsSnapshotLocked())
}
