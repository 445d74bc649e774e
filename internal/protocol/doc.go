// Package protocol defines the JSON envelope catalog exchanged over the chat
// relay WebSocket and the decoding rules applied to inbound traffic.
//
// Every frame is a JSON object of the form {"type": string, "data": object}.
// Inbound frames are decoded into a typed Inbound value in a single step that
// fails closed: unknown fields, ill-typed fields, and missing required fields
// are rejected with ErrInvalidEnvelope before any routing logic runs. Types a
// client is not allowed to send are reported as ErrUnknownType so callers can
// ignore them without treating them as malformed.
package protocol
