package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/glagius/signal-server/internal/core"
	"github.com/glagius/signal-server/internal/domain"
)

// TargetOfflineMsg is the typed payload sent back when a signaling target has
// no live connection. An expected outcome, not a failure.
const TargetOfflineMsg = "User isn't online!"

// Router classifies one inbound envelope by kind and either mutates the
// store, reads it, or forwards the message to another connection. It keeps no
// state between messages; everything lives in the store.
type Router struct {
	Store *Store
}

func NewRouter(store *Store) *Router {
	return &Router{Store: store}
}

// Dispatch handles one envelope on behalf of the sending connection.
// senderID is empty until the connection has authenticated; the return value
// is the sender id to use for subsequent messages on the same connection.
// Protocol violations are reported to the sender as error replies, never by
// dropping the message or tearing anything down.
func (r *Router) Dispatch(senderID string, sender core.SignalConnection, env core.Envelope) string {
	switch env.Kind {
	case core.KindAuthenticate:
		return r.handleAuthenticate(senderID, sender, env)
	case core.KindUsers:
		r.send(sender, core.Envelope{Kind: core.KindUsers, Payload: &core.Payload{Users: r.Store.Users()}})
	case core.KindRooms:
		r.send(sender, core.Envelope{Kind: core.KindRooms, Payload: &core.Payload{Rooms: r.Store.Rooms()}})
	case core.KindCall, core.KindOffer, core.KindAnswer, core.KindCandidate:
		r.handleForward(senderID, sender, env)
	case core.KindJoin:
		r.handleMembership(senderID, sender, env, r.Store.JoinRoom)
	case core.KindLeave:
		r.handleMembership(senderID, sender, env, r.Store.LeaveRoom)
	case core.KindHeartbeat:
		// Owned by the heartbeat keeper in the signal adapter; nothing to do.
	default:
		log.Warn().Str("module", "app.router").Str("kind", string(env.Kind)).Msg("unexpected kind")
		r.protocolError(sender, fmt.Sprintf("unexpected kind %q", env.Kind))
	}
	return senderID
}

func (r *Router) handleAuthenticate(senderID string, sender core.SignalConnection, env core.Envelope) string {
	if env.Payload == nil {
		r.protocolError(sender, "authenticate requires login and name")
		return senderID
	}
	claim, err := domain.NewUser(env.Payload.Login, env.Payload.Name)
	if err != nil {
		r.protocolError(sender, err.Error())
		return senderID
	}
	user := r.Store.Authenticate(claim)
	r.Store.RegisterConnection(user.ID, sender)
	r.send(sender, core.Envelope{Kind: core.KindAuthenticate, Payload: &core.Payload{User: &user}})
	r.Broadcast(core.Envelope{Kind: core.KindUsers, Payload: &core.Payload{Users: r.Store.Users()}})
	return user.ID
}

// handleForward covers call, offer, answer and candidate: look the target up
// by id, rewrite the payload id to the sender so the peer knows who is
// signaling, and deliver. An offline target is reported back to the sender.
func (r *Router) handleForward(senderID string, sender core.SignalConnection, env core.Envelope) {
	if env.Payload == nil || env.Payload.ID == "" {
		r.protocolError(sender, fmt.Sprintf("%s requires a target id", env.Kind))
		return
	}
	if senderID == "" {
		r.protocolError(sender, "authenticate first")
		return
	}
	target, ok := r.Store.Connection(env.Payload.ID)
	if !ok {
		r.send(sender, core.Envelope{Kind: env.Kind, Payload: &core.Payload{Error: TargetOfflineMsg}})
		return
	}
	forwarded := *env.Payload
	forwarded.ID = senderID
	r.send(target, core.Envelope{Kind: env.Kind, Payload: &forwarded})
}

func (r *Router) handleMembership(senderID string, sender core.SignalConnection, env core.Envelope, op func(string, domain.RoomID) error) {
	if env.Payload == nil || env.Payload.ID == "" {
		r.protocolError(sender, fmt.Sprintf("%s requires a room id", env.Kind))
		return
	}
	if senderID == "" {
		r.protocolError(sender, "authenticate first")
		return
	}
	roomID := domain.RoomID(env.Payload.ID)
	if err := op(senderID, roomID); err != nil {
		r.send(sender, core.Envelope{Kind: env.Kind, Payload: &core.Payload{Error: err.Error()}})
		return
	}
	r.Store.Touch(senderID)
	user, ok := r.findByID(senderID)
	if !ok {
		// Removed between the membership update and the lookup.
		r.protocolError(sender, "sender is no longer registered")
		return
	}
	r.send(sender, core.Envelope{Kind: env.Kind, Payload: &core.Payload{User: &user}})
	r.Broadcast(core.Envelope{Kind: core.KindRooms, Payload: &core.Payload{Rooms: r.Store.Rooms()}})
}

func (r *Router) findByID(id string) (domain.AuthenticatedUser, bool) {
	for _, u := range r.Store.Users() {
		if u.ID == id {
			return u, true
		}
	}
	return domain.AuthenticatedUser{}, false
}

// Broadcast delivers the envelope to every live connection, reading an
// immutable snapshot of the connection table at call time.
func (r *Router) Broadcast(env core.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("broadcast encode")
		return
	}
	for id, conn := range r.Store.Connections() {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.router").Str("id", id).Msg("broadcast dropped")
		}
	}
}

func (r *Router) send(conn core.SignalConnection, env core.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("send encode")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("send dropped")
	}
}

func (r *Router) protocolError(conn core.SignalConnection, msg string) {
	r.send(conn, core.Envelope{Kind: core.KindError, Payload: &core.Payload{Error: msg}})
}
