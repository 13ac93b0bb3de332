package replica

import "errors"

var (
	// ErrDestroyed is returned by every operation on a destroyed State.
	ErrDestroyed = errors.New("replica: state destroyed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("replica: state already started")

	// ErrNotSerializable is returned when a value cannot be replicated.
	ErrNotSerializable = errors.New("replica: value is not serializable")

	// ErrNoResponders is returned by a Transport when no peer answered a request.
	ErrNoResponders = errors.New("replica: no responders")

	// ErrNotFound is returned by a Store when the key holds no record.
	ErrNotFound = errors.New("replica: record not found")

	// ErrMalformedRecord wraps decode failures of the durable record.
	ErrMalformedRecord = errors.New("replica: malformed durable record")
)
