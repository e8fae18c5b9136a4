package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/glagius/signal-server/internal/domain"
)

// Kind classifies a signaling message. Every envelope carries exactly one.
type Kind string

const (
	KindAuthenticate Kind = "authenticate"
	KindUsers        Kind = "users"
	KindRooms        Kind = "rooms"
	KindCall         Kind = "call"
	KindJoin         Kind = "join"
	KindLeave        Kind = "leave"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindCandidate    Kind = "candidate"
	KindHeartbeat    Kind = "heartbeat"
	KindError        Kind = "error"
)

// Envelope is the wire message exchanged with clients, both directions.
type Envelope struct {
	Kind    Kind     `json:"kind"`
	Payload *Payload `json:"payload,omitempty"`
}

// Payload is the union of all per-kind message bodies. SDP and ICE fields use
// pion types so malformed structures fail at decode rather than downstream.
type Payload struct {
	ID        string                        `json:"id,omitempty"`
	Login     string                        `json:"login,omitempty"`
	Name      string                        `json:"name,omitempty"`
	User      *domain.AuthenticatedUser     `json:"user,omitempty"`
	Users     []domain.AuthenticatedUser    `json:"users,omitempty"`
	Rooms     map[domain.RoomID]domain.Room `json:"rooms,omitempty"`
	Error     string                        `json:"error,omitempty"`
	Offer     *webrtc.SessionDescription    `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription    `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit      `json:"candidate,omitempty"`
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(data Frame) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode serializes the envelope into a frame ready for TrySend.
func (e Envelope) Encode() (Frame, error) {
	return json.Marshal(e)
}
