package encoder

import "errors"

var (
	// ErrEmptyCollection is returned by Open for a collection with no media.
	ErrEmptyCollection = errors.New("media collection is empty")
	// ErrNoBackend is returned by Run when the session has no backend.
	ErrNoBackend = errors.New("no encoding backend configured")
)
