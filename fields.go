package replica

import "github.com/zoobzio/capitan"

// Field keys for replica events.
var (
	// KeyRole is the role of the emitting context.
	KeyRole = capitan.NewStringKey("role")

	// KeyOrigin is the id of the emitting context.
	KeyOrigin = capitan.NewStringKey("origin")

	// KeyScope is the scope of the emitting context.
	KeyScope = capitan.NewIntKey("scope")

	// KeyKey is the state key that changed, or "*" for a full replacement.
	KeyKey = capitan.NewStringKey("key")

	// KeySource is the change source of a mutation.
	KeySource = capitan.NewStringKey("source")

	// KeyAction is the envelope action.
	KeyAction = capitan.NewStringKey("action")

	// KeyChannel is the channel a message was sent or received on.
	KeyChannel = capitan.NewStringKey("channel")

	// KeyReason explains why an envelope was dropped.
	KeyReason = capitan.NewStringKey("reason")

	// KeyRevision is the logical clock carried by an envelope.
	KeyRevision = capitan.NewIntKey("revision")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDuration is the time an operation took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyStorageKey is the durable store key.
	KeyStorageKey = capitan.NewStringKey("storage_key")
)
