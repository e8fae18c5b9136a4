package domain

type (
	RoomName string
	RoomID   string
)

// DefaultRoomID is the one room guaranteed to exist for the whole process
// lifetime. It can never be removed.
const DefaultRoomID RoomID = "default"

// Room groups users. Users is ordered by join time and never holds the same
// user twice.
type Room struct {
	ID    RoomID              `json:"id"`
	Name  RoomName            `json:"name"`
	Users []AuthenticatedUser `json:"users"`
}

func NewDefaultRoom() *Room {
	return &Room{ID: DefaultRoomID, Name: "default"}
}

// Contains reports whether the membership sequence holds userID.
func (r *Room) Contains(userID string) bool {
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// AddUser appends the user to the membership sequence unless already present.
func (r *Room) AddUser(u AuthenticatedUser) {
	if r.Contains(u.ID) {
		return
	}
	r.Users = append(r.Users, u)
}

// RemoveUser drops userID from the membership sequence; absent ids are ignored.
func (r *Room) RemoveUser(userID string) {
	for i, u := range r.Users {
		if u.ID == userID {
			r.Users = append(r.Users[:i], r.Users[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy safe to hand outside the store.
func (r *Room) Clone() Room {
	cp := *r
	cp.Users = make([]AuthenticatedUser, 0, len(r.Users))
	for i := range r.Users {
		cp.Users = append(cp.Users, r.Users[i].Clone())
	}
	return cp
}
