package node

import "errors"

var (
	// ErrUnknownPeer is returned for ids that are not in the roster.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrNotConnected is returned when a peer has no outbound session.
	ErrNotConnected = errors.New("peer not connected")
	// ErrShortWrite is returned when a line was only partly written.
	ErrShortWrite = errors.New("short write")
	// ErrMultiline is returned for message text containing a newline.
	ErrMultiline = errors.New("message contains a newline")
	// ErrEmptyCommand is returned by SendExec for an empty command path.
	ErrEmptyCommand = errors.New("empty command path")
	// ErrClosed is returned by operations attempted after shutdown.
	ErrClosed = errors.New("node is shut down")
	// ErrBind wraps listener bind failures, which are fatal at startup.
	ErrBind = errors.New("bind failed")
)
