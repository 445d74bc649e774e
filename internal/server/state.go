package server

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/registry"
)

// State is a connection's position in the relay protocol.
type State int

// Connection states. Closed is terminal.
const (
	StateConnecting State = iota
	StateAwaitingHello
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// allowedTransitions lists every legal state change.
var allowedTransitions = map[State][]State{
	StateConnecting:    {StateAwaitingHello, StateClosed},
	StateAwaitingHello: {StateActive, StateClosed},
	StateActive:        {StateActive, StateClosed},
}

func canTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// closeReason maps the error that ended a connection to the close frame sent
// to the peer.
func closeReason(err error) (int, string) {
	switch {
	case err == nil, errors.Is(err, ErrDisconnected):
		return websocket.CloseNormalClosure, ""
	case errors.Is(err, ErrHandshakeTimeout):
		return websocket.ClosePolicyViolation, "handshake timeout"
	case errors.Is(err, ErrInvalidHandshake):
		return websocket.ClosePolicyViolation, "invalid hello"
	case errors.Is(err, registry.ErrDuplicateIdentity):
		return websocket.ClosePolicyViolation, "identity already connected"
	case errors.Is(err, ErrHubClosed):
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseInternalServerErr, ""
	}
}
