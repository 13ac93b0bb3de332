package replica

// Source tags a mutation with its origin. It decides whether a change is
// re-broadcast or written through to storage and is never persisted.
type Source int

const (
	// SourceUser is a local mutation made by application code.
	SourceUser Source = iota

	// SourceSync is a snapshot received from a peer.
	SourceSync

	// SourceStorage is a value applied from the durable store.
	SourceStorage

	// SourceHubRelay is a snapshot relayed to the hub by an indirect leaf.
	SourceHubRelay

	// SourceLeafRelay is a snapshot an indirect leaf received through the hub.
	SourceLeafRelay
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceSync:
		return "sync"
	case SourceStorage:
		return "storage"
	case SourceHubRelay:
		return "hub-relay"
	case SourceLeafRelay:
		return "leaf-relay"
	default:
		return "unknown"
	}
}

// Local reports whether the change was made in this context and should be
// written through to durable storage.
func (s Source) Local() bool {
	return s == SourceUser || s == SourceHubRelay
}
