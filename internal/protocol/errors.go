package protocol

import "errors"

var (
	// ErrInvalidEnvelope reports a frame that is not a well-formed envelope or
	// whose payload fails validation for its type.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrUnknownType reports a well-formed envelope whose type is not one a
	// client may send.
	ErrUnknownType = errors.New("unknown envelope type")
)
