// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxLoginLen = 36
	MaxNameLen  = 64
)

var (
	ErrLoginEmpty   = errors.New("login empty")
	ErrLoginTooLong = errors.New("login too long")
	ErrNameEmpty    = errors.New("name empty")
	ErrNameTooLong  = errors.New("name too long")
)

// User is an unauthenticated identity claim. Transient: only ever used as
// input to authentication, never stored.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// NewUser validates a raw login/name pair into a claim.
func NewUser(login, name string) (User, error) {
	if login == "" {
		return User{}, ErrLoginEmpty
	}
	if len(login) > MaxLoginLen {
		return User{}, ErrLoginTooLong
	}
	if name == "" {
		return User{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return User{}, ErrNameTooLong
	}
	return User{Login: login, Name: name}, nil
}

// AuthenticatedUser is the registered identity behind a login. Created once
// per login for the lifetime of the process.
type AuthenticatedUser struct {
	ID             string    `json:"id"`
	Login          string    `json:"login"`
	Name           string    `json:"name"`
	LastActiveTime time.Time `json:"lastActiveTime"`
	Rooms          []RoomID  `json:"rooms"`
}

// NewAuthenticatedUser registers a claim under a fresh id. The login prefix
// keeps ids readable in logs; the uuid keeps them unique under concurrent
// registration.
func NewAuthenticatedUser(claim User) AuthenticatedUser {
	return AuthenticatedUser{
		ID:             claim.Login + "-" + uuid.NewString(),
		Login:          claim.Login,
		Name:           claim.Name,
		LastActiveTime: time.Now(),
		Rooms:          []RoomID{DefaultRoomID},
	}
}

// InRoom reports whether the user's room set contains id.
func (u *AuthenticatedUser) InRoom(id RoomID) bool {
	for _, r := range u.Rooms {
		if r == id {
			return true
		}
	}
	return false
}

// AddRoom adds id to the user's room set; duplicates are ignored.
func (u *AuthenticatedUser) AddRoom(id RoomID) {
	if u.InRoom(id) {
		return
	}
	u.Rooms = append(u.Rooms, id)
}

// RemoveRoom drops id from the user's room set; absent ids are ignored.
func (u *AuthenticatedUser) RemoveRoom(id RoomID) {
	for i, r := range u.Rooms {
		if r == id {
			u.Rooms = append(u.Rooms[:i], u.Rooms[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy safe to hand outside the store.
func (u *AuthenticatedUser) Clone() AuthenticatedUser {
	cp := *u
	cp.Rooms = append([]RoomID(nil), u.Rooms...)
	return cp
}
