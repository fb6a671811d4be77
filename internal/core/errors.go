package core

import "errors"

// ErrAlreadyRegistered is returned by the receiver's register operation when
// a correlation key is already live. Callers retry with a freshly drawn
// identifier (echo) or a fresh ephemeral bind (datagram/stream).
var ErrAlreadyRegistered = errors.New("pathtrace: correlation key already registered")

// ErrPermissionDenied surfaces a kernel EPERM/EACCES opening or using a raw
// socket.
var ErrPermissionDenied = errors.New("pathtrace: permission denied opening raw socket")

// ErrNoRoute surfaces a kernel ENETUNREACH on send.
var ErrNoRoute = errors.New("pathtrace: no route to host")

// ErrResolutionFailed surfaces a name-resolution failure at the boundary.
var ErrResolutionFailed = errors.New("pathtrace: name resolution failed")

// ErrHostUnreachable surfaces a kernel unreachable error on the initial
// bind/transmit of a probe.
var ErrHostUnreachable = errors.New("pathtrace: host unreachable")
