// Package server implements the chat relay's HTTP and WebSocket surface.
//
// The Hub owns the session registry and router for one server instance. Each
// accepted WebSocket becomes a Client, which runs the relay protocol as an
// explicit state machine:
//
//	connecting -> awaiting_hello -> active -> closed
//
// A client that does not send a valid hello before the handshake deadline is
// closed without touching the registry. Once active, a client is deregistered
// and its departure announced exactly once, whatever ends the connection.
package server
