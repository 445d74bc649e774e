package server

import "errors"

var (
	// ErrHandshakeTimeout reports that no hello arrived within the handshake deadline.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrInvalidHandshake reports a first envelope that is not a valid hello.
	ErrInvalidHandshake = errors.New("invalid handshake")
	// ErrMessageTooLong reports a send_message whose text exceeds the configured limit.
	ErrMessageTooLong = errors.New("message too long")
	// ErrTransportClosed is returned by Send once the client is closing.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSendBufferFull is returned by Send when the client's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrDisconnected reports a read failure on an established connection.
	ErrDisconnected = errors.New("client disconnected")
	// ErrHubClosed is reported to connections arriving during shutdown.
	ErrHubClosed = errors.New("hub closed")
)
