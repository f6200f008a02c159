package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedSignal = errors.New("malformed signal")

type SignalType string

const (
	SignalJoin      SignalType = "join"
	SignalLeave     SignalType = "leave"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalEnd       SignalType = "end"
	SignalError     SignalType = "error"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalJoin, SignalLeave, SignalOffer, SignalAnswer, SignalCandidate, SignalEnd, SignalError:
		return true
	}
	return false
}

// Message is the signaling envelope. Offer, Answer and Candidate are
// opaque to everything but the media engine.
type Message struct {
	Room      RoomID          `json:"room"`
	Type      SignalType      `json:"type"`
	From      ParticipantID   `json:"from,omitempty"`
	To        ParticipantID   `json:"to,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// DecodeMessage parses one frame. It fails on bad JSON, unknown types and
// frames without a room (error frames may omit it).
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedSignal, m.Type)
	}
	if m.Room == "" && m.Type != SignalError {
		return Message{}, fmt.Errorf("%w: missing room", ErrMalformedSignal)
	}
	return m, nil
}

// AddressedTo reports whether a relayed message is meant for id.
func (m Message) AddressedTo(id ParticipantID) bool {
	return m.To == "" || m.To == id
}
