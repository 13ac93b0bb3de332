package replica

import "fmt"

// Role identifies the kind of context hosting a State. It is fixed for the
// lifetime of the State and selects the reachability strategy used for
// synchronization and whether the context may touch durable storage.
type Role int

const (
	// RolePopup is a transient UI surface. It behaves as a hub but does not
	// serve relay traffic.
	RolePopup Role = iota

	// RoleBackground is the long-lived coordinating context. It is reachable
	// by every other context and relays for contexts that cannot address
	// scoped contexts themselves.
	RoleBackground

	// RoleContent is a per-document context bound to a single scope.
	RoleContent

	// RoleOffscreen is a scope-less context that can only reach the
	// background context through the relay channel.
	RoleOffscreen
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RolePopup:
		return "popup"
	case RoleBackground:
		return "background"
	case RoleContent:
		return "content"
	case RoleOffscreen:
		return "offscreen"
	default:
		return "unknown"
	}
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "popup":
		return RolePopup, nil
	case "background":
		return RoleBackground, nil
	case "content":
		return RoleContent, nil
	case "offscreen":
		return RoleOffscreen, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Channel names a logical message route between contexts.
type Channel int

const (
	// ChannelShared is the broadcast channel every hub listens on.
	ChannelShared Channel = iota

	// ChannelScoped addresses the contexts bound to one scope.
	ChannelScoped

	// ChannelRelay reaches the relaying hub on behalf of indirect leaves.
	ChannelRelay
)

// String returns the string representation of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelShared:
		return "shared"
	case ChannelScoped:
		return "scoped"
	case ChannelRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Topology is the position of a context in the replication graph.
type Topology int

const (
	// TopologyHub contexts are reachable by all others.
	TopologyHub Topology = iota

	// TopologyLeaf contexts are reachable by scope.
	TopologyLeaf

	// TopologyIndirectLeaf contexts reach everything through the relaying hub.
	TopologyIndirectLeaf
)

// String returns the string representation of the topology.
func (t Topology) String() string {
	switch t {
	case TopologyHub:
		return "hub"
	case TopologyLeaf:
		return "leaf"
	case TopologyIndirectLeaf:
		return "indirect-leaf"
	default:
		return "unknown"
	}
}

// Reachability describes which channels a context listens on, publishes to
// and pulls from. It is plain data; a single sync implementation interprets it.
type Reachability struct {
	Topology Topology

	// Listen lists the channels whose pushes and pulls this context answers.
	Listen []Channel

	// Publish lists the channels a push is sent on.
	Publish []Channel

	// Pull lists the channels queried concurrently during a pull.
	Pull []Channel

	// ServeRelay subscribes the relay handler. Only one context per group
	// should set it.
	ServeRelay bool

	// Durable reports direct access to the durable store.
	Durable bool
}

// Relayed reports whether push and pull go through the relay channel.
func (r Reachability) Relayed() bool {
	return r.Topology == TopologyIndirectLeaf
}

// Reachability returns the strategy for the role.
func (r Role) Reachability() Reachability {
	switch r {
	case RoleBackground:
		return Reachability{
			Topology:   TopologyHub,
			Listen:     []Channel{ChannelShared},
			Publish:    []Channel{ChannelShared, ChannelScoped},
			Pull:       []Channel{ChannelShared, ChannelScoped},
			ServeRelay: true,
			Durable:    true,
		}
	case RolePopup:
		return Reachability{
			Topology: TopologyHub,
			Listen:   []Channel{ChannelShared},
			Publish:  []Channel{ChannelShared, ChannelScoped},
			Pull:     []Channel{ChannelShared, ChannelScoped},
			Durable:  true,
		}
	case RoleContent:
		return Reachability{
			Topology: TopologyLeaf,
			Listen:   []Channel{ChannelScoped},
			Publish:  []Channel{ChannelShared},
			Pull:     []Channel{ChannelShared},
			Durable:  true,
		}
	default:
		return Reachability{
			Topology: TopologyIndirectLeaf,
			Listen:   []Channel{ChannelShared},
			Publish:  []Channel{ChannelRelay},
			Pull:     []Channel{ChannelRelay},
		}
	}
}
