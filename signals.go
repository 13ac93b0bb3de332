package replica

import "github.com/zoobzio/capitan"

// State lifecycle signals.
var (
	// StateStarted is emitted when a State begins bootstrapping.
	StateStarted = capitan.NewSignal(
		"replica.state.started",
		"State bootstrap started",
	)

	// StateReady is emitted once, when both bootstrap prerequisites completed.
	StateReady = capitan.NewSignal(
		"replica.state.ready",
		"State ready",
	)

	// StateDestroyed is emitted when a State is torn down.
	StateDestroyed = capitan.NewSignal(
		"replica.state.destroyed",
		"State destroyed",
	)

	// StateChanged is emitted for every observable mutation.
	StateChanged = capitan.NewSignal(
		"replica.state.changed",
		"State value changed",
	)
)

// Synchronization signals.
var (
	// SyncPushed is emitted after a snapshot was handed to the transport.
	SyncPushed = capitan.NewSignal(
		"replica.sync.pushed",
		"Snapshot pushed to peers",
	)

	// SyncPulled is emitted when a pull completes, with or without a reply.
	SyncPulled = capitan.NewSignal(
		"replica.sync.pulled",
		"Pull completed",
	)

	// SyncApplied is emitted when a remote snapshot replaced local state.
	SyncApplied = capitan.NewSignal(
		"replica.sync.applied",
		"Remote snapshot applied",
	)

	// SyncDropped is emitted when an inbound envelope was discarded.
	SyncDropped = capitan.NewSignal(
		"replica.sync.dropped",
		"Inbound envelope dropped",
	)

	// SyncFailed is emitted when a peer was unreachable or a send failed.
	SyncFailed = capitan.NewSignal(
		"replica.sync.failed",
		"Peer unreachable",
	)

	// SyncMisconfigured is emitted when a scoped broadcast has no scope.
	SyncMisconfigured = capitan.NewSignal(
		"replica.sync.misconfigured",
		"Scoped broadcast without a resolved scope",
	)
)

// Durable storage signals.
var (
	// StorageWritten is emitted after the durable record was written.
	StorageWritten = capitan.NewSignal(
		"replica.storage.written",
		"Durable record written",
	)

	// StorageApplied is emitted after an external record change was applied.
	StorageApplied = capitan.NewSignal(
		"replica.storage.applied",
		"Durable record applied",
	)

	// StorageFailed is emitted when reading, decoding or writing the record failed.
	StorageFailed = capitan.NewSignal(
		"replica.storage.failed",
		"Durable storage operation failed",
	)
)
