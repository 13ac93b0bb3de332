package replica

// Status represents the lifecycle stage of a State.
type Status int32

const (
	// StatusIdle indicates the State has been created but Start has not run.
	StatusIdle Status = iota

	// StatusBootstrapping indicates the initial pull and durable fetch are
	// still in flight. Mutations are accepted locally but not broadcast.
	StatusBootstrapping

	// StatusReady indicates both bootstrap prerequisites completed.
	StatusReady

	// StatusDestroyed indicates the State was torn down. Every operation
	// fails with ErrDestroyed.
	StatusDestroyed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBootstrapping:
		return "bootstrapping"
	case StatusReady:
		return "ready"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
