package registry

import "errors"

// ErrDuplicateIdentity is returned by Add when the identity is already connected.
var ErrDuplicateIdentity = errors.New("identity already connected")
