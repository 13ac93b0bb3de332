package replica

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key replication events.
type MetricsProvider interface {
	// OnPush is called after a snapshot was handed to the transport.
	OnPush(channel Channel)

	// OnPull is called when a pull completes. Found is false when no peer
	// answered before the timeout.
	OnPull(found bool, duration time.Duration)

	// OnApply is called when a change was applied to the local state.
	OnApply(source Source)

	// OnDrop is called when an inbound envelope was discarded.
	// Reason is one of "scope", "stale", "not-ready" or "self".
	OnDrop(reason string)

	// OnStorageWrite is called after a durable write attempt.
	OnStorageWrite(duration time.Duration, err error)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnPush(_ Channel)                        {}
func (NoOpMetricsProvider) OnPull(_ bool, _ time.Duration)          {}
func (NoOpMetricsProvider) OnApply(_ Source)                        {}
func (NoOpMetricsProvider) OnDrop(_ string)                         {}
func (NoOpMetricsProvider) OnStorageWrite(_ time.Duration, _ error) {}
