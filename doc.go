/*
Package replica keeps a key/value state object replicated across isolated
contexts that only talk to each other through asynchronous messages.

Every context owns a State. A State is created for a Role, which fixes how
the context reaches its peers: hubs are reachable by everyone, leaves are
reachable per scope, and indirect leaves only reach the relaying hub.
Replicas converge by exchanging full snapshots over a Transport; keys marked
durable are also written to a Store and restored by contexts created later.

# Basic Usage

Create a State, wire a transport and a store, and start it:

	state := replica.New(replica.RoleContent, map[string]any{"count": 0}).
	    Transport(bus).
	    Store(store).
	    PersistentKeys("theme")

	if err := state.Start(ctx); err != nil {
	    return err
	}
	defer state.Destroy()

	<-state.Ready()
	_ = state.Set("count", 1)

Start returns immediately. Bootstrap resolves the scope, pulls a snapshot
from a peer and reads the durable record concurrently; the State is ready
when both finished. Mutations made before that are kept locally but not
broadcast.

# Change Events

Every observable mutation raises exactly one Change, tagged with its Source:

	cancel, err := state.OnChange(func(c replica.Change) {
	    fmt.Println(c.Key, c.Value, c.Source)
	})

Only SourceUser changes of non-durable keys are pushed to peers. Durable
keys travel through the Store. Changes received from peers or from storage
are never re-broadcast, so replication cannot feed back into itself.

# Transports and Stores

Bus and MemoryStore connect contexts inside one process. The pkg/ tree
carries networked implementations: pkg/nats for the message channel and
durable stores over files, Redis, NATS KV, etcd, Consul, PostgreSQL,
Kubernetes ConfigMaps, ZooKeeper and Firestore.

# Observability

Lifecycle and replication events are emitted as capitan signals (see
signals.go). Attach a MetricsProvider for counters and an hclog.Logger for
debug output; both default to no-ops.
*/
package replica
