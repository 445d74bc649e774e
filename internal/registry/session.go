//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../mocks/mock_transport.go -package=mocks

// Package registry tracks which identities are connected to the relay.
package registry

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the outbound half of a client connection. Send must not block
// on the network; Close must be safe to call more than once.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// Session binds an identity to its open transport.
type Session struct {
	identity    string
	connID      uuid.UUID
	transport   Transport
	connectedAt time.Time
}

// NewSession creates an unregistered session. ConnectedAt is stamped when the
// session is added to a Registry.
func NewSession(identity string, connID uuid.UUID, transport Transport) *Session {
	return &Session{
		identity:  identity,
		connID:    connID,
		transport: transport,
	}
}

func (s *Session) Identity() string     { return s.identity }
func (s *Session) ConnID() uuid.UUID    { return s.connID }
func (s *Session) Transport() Transport { return s.transport }

// ConnectedAt returns the registration time, or the zero time if the session
// was never registered.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
