package client

import "errors"

var (
	// ErrNotConnected is returned by requests made without an open transport.
	ErrNotConnected = errors.New("not connected")
	// ErrNotInRoom is returned by room requests made before creating or joining a room.
	ErrNotInRoom = errors.New("not in a room")
	// ErrClosed is returned once the manager's event loop has exited.
	ErrClosed = errors.New("client manager closed")
	// errSuperseded completes a dial that a later Connect, Reconnect or Disconnect replaced.
	errSuperseded = errors.New("connection attempt superseded")
)
