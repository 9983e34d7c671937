package session

import "errors"

var (
	// ErrAlreadyConnected is returned by Connect on a connected session.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrNotConnected is returned by operations that need a debuggee.
	ErrNotConnected = errors.New("session not connected")

	// ErrConnected is returned by Close on a connected session.
	ErrConnected = errors.New("session is connected")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("session closed")

	// ErrCurrentSession is returned when removing the current session.
	ErrCurrentSession = errors.New("cannot remove the current session")

	// ErrSessionNotFound is returned for a session the manager does not own.
	ErrSessionNotFound = errors.New("session not found")
)
