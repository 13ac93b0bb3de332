package replica

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultPullTimeout bounds how long bootstrap waits for a peer snapshot.
const DefaultPullTimeout = 5 * time.Second

// DefaultGroup is the replication group used when none is configured.
const DefaultGroup = "default"

// bootstrapPrerequisites is the number of markPrerequisiteDone calls after
// which a State is ready: the initial pull and the initial durable fetch.
const bootstrapPrerequisites = 2

// State is one context's replica of the shared state. Every context owns its
// own State; replicas converge through snapshots carried by a Transport and
// through the durable subset kept in a Store.
type State struct {
	role    Role
	reach   Reachability
	id      string
	durable map[string]struct{}
	initErr error

	transport   Transport
	store       Store
	resolver    ScopeResolver
	scope       *int
	storageKey  string
	group       string
	pullTimeout time.Duration
	clock       clockz.Clock
	codec       Codec
	logger      hclog.Logger
	metrics     MetricsProvider
	failures    *failureRing
	syncMode    bool

	mu       sync.RWMutex
	value    map[string]any
	revision uint64
	seen     map[string]uint64

	status    atomic.Int32
	resolved  atomic.Int64
	gate      atomic.Int32
	ready     chan struct{}
	lastError atomic.Pointer[error]
	events    *dispatcher

	modMu       sync.Mutex
	started     bool
	syncer      atomic.Pointer[syncer]
	persistence *persistence
	cancel      context.CancelFunc
}

// New creates a State for role seeded with initial. The initial value is
// used until a peer or the durable store provides something newer.
//
// Instance configuration uses chainable methods before calling Start():
//
//	state := replica.New(replica.RoleContent, map[string]any{"count": 0}).
//	    Transport(bus).
//	    Store(store).
//	    PersistentKeys("theme")
//
//	if err := state.Start(ctx); err != nil {
//	    return err
//	}
//	defer state.Destroy()
func New(role Role, initial map[string]any) *State {
	value, err := normalizeSnapshot(initial)
	if err != nil {
		value = map[string]any{}
	}

	s := &State{
		role:        role,
		reach:       role.Reachability(),
		id:          uuid.NewString(),
		durable:     map[string]struct{}{},
		initErr:     err,
		resolver:    StaticScope(Wildcard),
		storageKey:  DefaultStorageKey,
		group:       DefaultGroup,
		pullTimeout: DefaultPullTimeout,
		clock:       clockz.RealClock,
		codec:       JSONCodec{},
		logger:      hclog.NewNullLogger(),
		metrics:     NoOpMetricsProvider{},
		value:       value,
		seen:        map[string]uint64{},
		ready:       make(chan struct{}),
		events:      newDispatcher(),
	}
	s.resolved.Store(Wildcard)
	s.status.Store(int32(StatusIdle))
	return s
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// PersistentKeys marks keys as durable. Durable keys are written through to
// the Store and restored by contexts created later. Must be called before Start().
func (s *State) PersistentKeys(keys ...string) *State {
	for _, k := range keys {
		s.durable[k] = struct{}{}
	}
	return s
}

// Scope binds the State to a fixed scope instead of resolving it.
// Must be called before Start().
func (s *State) Scope(id int) *State {
	s.scope = &id
	return s
}

// ScopeResolver sets how the scope is discovered during bootstrap.
// Default: StaticScope(Wildcard). Must be called before Start().
func (s *State) ScopeResolver(r ScopeResolver) *State {
	s.resolver = r
	return s
}

// Transport sets the message channel to peer contexts. Without one the
// State only replicates through the Store. Must be called before Start().
func (s *State) Transport(t Transport) *State {
	s.transport = t
	return s
}

// Store sets the durable store. Without one durable keys live only as long
// as the process. Must be called before Start().
func (s *State) Store(st Store) *State {
	s.store = st
	return s
}

// StorageKey sets the key under which the durable subset is stored.
// Default: DefaultStorageKey. Must be called before Start().
func (s *State) StorageKey(key string) *State {
	s.storageKey = key
	return s
}

// Group sets the replication group. Contexts only exchange messages with
// contexts in the same group. Default: DefaultGroup. Must be called before Start().
func (s *State) Group(name string) *State {
	s.group = name
	return s
}

// PullTimeout bounds the wait for a peer snapshot during bootstrap.
// Default: DefaultPullTimeout. Must be called before Start().
func (s *State) PullTimeout(d time.Duration) *State {
	s.pullTimeout = d
	return s
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic timeout testing.
// Must be called before Start().
func (s *State) Clock(clock clockz.Clock) *State {
	s.clock = clock
	return s
}

// Codec sets the codec for the durable record. Default: JSONCodec.
// Must be called before Start().
func (s *State) Codec(codec Codec) *State {
	s.codec = codec
	return s
}

// Logger sets the debug logger. Default: a logger that discards everything.
// Must be called before Start().
func (s *State) Logger(logger hclog.Logger) *State {
	s.logger = logger
	return s
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (s *State) Metrics(provider MetricsProvider) *State {
	s.metrics = provider
	return s
}

// ErrorHistorySize sets the number of recent best-effort failures to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (s *State) ErrorHistorySize(n int) *State {
	s.failures = newFailureRing(n)
	return s
}

// SyncMode makes Start run bootstrap to completion before returning.
// Use for deterministic tests. Must be called before Start().
func (s *State) SyncMode() *State {
	s.syncMode = true
	return s
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start spawns the sync and persistence modules and begins bootstrap: scope
// resolution followed by the initial pull, concurrently with the initial
// durable fetch. The State becomes ready when both complete; see Ready().
//
// ctx bounds the lifetime of background work. Start can only be called once.
func (s *State) Start(ctx context.Context) error {
	runCtx, err := s.prepare(ctx)
	if err != nil {
		return err
	}

	if s.syncMode {
		s.bootstrap(runCtx)
		return nil
	}
	go s.bootstrap(runCtx)
	return nil
}

// prepare validates and freezes configuration and registers the
// persistence module.
func (s *State) prepare(ctx context.Context) (context.Context, error) {
	s.modMu.Lock()
	defer s.modMu.Unlock()

	if s.Status() == StatusDestroyed {
		return nil, ErrDestroyed
	}
	if s.started {
		return nil, ErrAlreadyStarted
	}
	if s.initErr != nil {
		return nil, fmt.Errorf("initial value: %w", s.initErr)
	}
	s.started = true

	if s.transport == nil {
		s.transport = NewBus()
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	s.logger = s.logger.Named("replica").With("role", s.role.String(), "origin", s.id)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.status.Store(int32(StatusBootstrapping))

	capitan.Emit(ctx, StateStarted,
		KeyRole.Field(s.role.String()),
		KeyOrigin.Field(s.id),
	)

	s.persistence = newPersistence(s)
	s.persistence.start(runCtx)
	return runCtx, nil
}

// bootstrap runs the initial durable fetch and the connect sequence
// concurrently and returns when both finished.
func (s *State) bootstrap(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.persistence.fetch(ctx)
	}()
	go func() {
		defer wg.Done()
		s.connect(ctx)
	}()
	wg.Wait()
}

// connect resolves the scope, registers the sync module and performs the
// initial pull. It always marks its prerequisite done.
func (s *State) connect(ctx context.Context) {
	defer s.markPrerequisiteDone()

	scope := s.resolveScope(ctx)

	s.modMu.Lock()
	if s.Status() == StatusDestroyed {
		s.modMu.Unlock()
		return
	}
	s.resolved.Store(int64(scope))
	y := newSyncer(s, scope)
	if err := y.listen(); err != nil {
		s.fail("listen", err)
	}
	s.syncer.Store(y)
	s.modMu.Unlock()

	y.pull(ctx)
}

func (s *State) resolveScope(ctx context.Context) int {
	if s.scope != nil {
		return *s.scope
	}
	scope, err := s.resolver.ResolveScope(ctx, s.role)
	if err != nil {
		s.logger.Warn("scope resolution failed, operating as broadcast", "error", err)
		return Wildcard
	}
	return scope
}

// markPrerequisiteDone records one completed bootstrap prerequisite. Each
// prerequisite must call it exactly once.
func (s *State) markPrerequisiteDone() {
	if s.gate.Add(1) != bootstrapPrerequisites {
		return
	}
	if !s.status.CompareAndSwap(int32(StatusBootstrapping), int32(StatusReady)) {
		return
	}
	close(s.ready)
	s.logger.Debug("ready", "scope", s.ScopeID())
	capitan.Emit(context.Background(), StateReady,
		KeyRole.Field(s.role.String()),
		KeyOrigin.Field(s.id),
		KeyScope.Field(s.ScopeID()),
	)
}

// Ready returns a channel that is closed once bootstrap completed.
// It never closes for a State destroyed before becoming ready.
func (s *State) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the State is ready, ctx expires, or the State is destroyed.
func (s *State) WaitReady(ctx context.Context) error {
	if s.Status() == StatusDestroyed {
		return ErrDestroyed
	}
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy unregisters the sync module, then the persistence module, and
// marks the State destroyed. Every later operation fails with ErrDestroyed.
// Background work still in flight observes the status and stops without
// emitting further changes.
func (s *State) Destroy() error {
	s.modMu.Lock()
	if s.Status() == StatusDestroyed {
		s.modMu.Unlock()
		return ErrDestroyed
	}

	var result *multierror.Error
	if y := s.syncer.Load(); y != nil {
		if err := y.destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.persistence != nil {
		if err := s.persistence.destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.status.Store(int32(StatusDestroyed))
	s.events.close()
	if s.cancel != nil {
		s.cancel()
	}
	s.modMu.Unlock()

	capitan.Emit(context.Background(), StateDestroyed,
		KeyRole.Field(s.role.String()),
		KeyOrigin.Field(s.id),
	)
	return result.ErrorOrNil()
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// ID returns the unique id of this context.
func (s *State) ID() string {
	return s.id
}

// Role returns the role the State was created with.
func (s *State) Role() Role {
	return s.role
}

// Status returns the lifecycle status.
func (s *State) Status() Status {
	return Status(s.status.Load())
}

// ScopeID returns the resolved scope, or Wildcard before resolution.
func (s *State) ScopeID() int {
	return int(s.resolved.Load())
}

// Revision returns the logical clock of the local replica.
func (s *State) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// IsKeyDurable reports whether key is written through to the Store.
func (s *State) IsKeyDurable(key string) bool {
	_, ok := s.durable[key]
	return ok
}

// LastError returns the last best-effort failure, or nil.
func (s *State) LastError() error {
	ptr := s.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns recent best-effort failures, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (s *State) ErrorHistory() []error {
	return s.failures.all()
}

// Get returns a copy of the value stored under key.
func (s *State) Get(key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Status() == StatusDestroyed {
		return nil, false, ErrDestroyed
	}
	v, ok := s.value[key]
	if !ok {
		return nil, false, nil
	}
	return deepCopy(v), true, nil
}

// Snapshot returns a copy of the whole state. The caller owns the result.
func (s *State) Snapshot() (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Status() == StatusDestroyed {
		return nil, ErrDestroyed
	}
	return deepCopy(s.value), nil
}

// Decode decodes the whole state into dst, typically a pointer to a struct
// with json tags.
func (s *State) Decode(dst any) error {
	snapshot, err := s.Snapshot()
	if err != nil {
		return err
	}
	return decodeInto(snapshot, dst)
}

// Value returns the value under key decoded into V. A missing key yields
// the zero value of V.
func Value[V any](s *State, key string) (V, error) {
	var out V
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return out, err
	}
	if err := decodeInto(v, &out); err != nil {
		return out, fmt.Errorf("key %q: %w", key, err)
	}
	return out, nil
}

// OnChange registers fn to receive every change in mutation order. The
// returned function unregisters it.
func (s *State) OnChange(fn func(Change)) (func(), error) {
	if s.Status() == StatusDestroyed {
		return nil, ErrDestroyed
	}
	return s.events.subscribe(fn), nil
}

// -----------------------------------------------------------------------------
// Mutation
// -----------------------------------------------------------------------------

// Set stores value under key. Setting a value equal to the current one is a
// no-op. Otherwise non-durable keys are pushed to peers and one change
// event is raised.
func (s *State) Set(key string, value any) error {
	_, err := s.mutate(key, value, SourceUser)
	return err
}

// Replace swaps the whole state and raises one change event for AllKeys.
// Replacing with an equal snapshot is a no-op. Replace never pushes.
func (s *State) Replace(snapshot map[string]any, source Source) error {
	_, err := s.replace(snapshot, source, "", 0)
	return err
}

// mutate applies a single key change tagged with source and reports
// whether anything changed.
func (s *State) mutate(key string, value any, source Source) (bool, error) {
	if s.Status() == StatusDestroyed {
		return false, ErrDestroyed
	}
	v, err := normalize(value)
	if err != nil {
		return false, fmt.Errorf("key %q: %w", key, err)
	}

	s.mu.Lock()
	if s.Status() == StatusDestroyed {
		s.mu.Unlock()
		return false, ErrDestroyed
	}
	if cur, ok := s.value[key]; ok && equal(cur, v) {
		s.mu.Unlock()
		return false, nil
	}
	next := maps.Clone(s.value)
	next[key] = v
	s.value = next
	s.revision++
	change := Change{Key: key, Value: deepCopy(v), Source: source}
	s.events.enqueue(change)
	s.mu.Unlock()

	if source == SourceUser && s.shouldPush(key) {
		s.requestPush(context.Background())
	}
	s.emit(change)
	return true, nil
}

// shouldPush reports whether a user change of key goes out on the message
// channel. Durable keys travel through the Store instead, unless this
// context cannot reach the Store and relies on the hub to persist them.
func (s *State) shouldPush(key string) bool {
	return !s.IsKeyDurable(key) || !s.reach.Durable
}

// replace swaps the whole state. A snapshot from a peer (origin set) is
// rejected when that peer already delivered a later revision; revisions of
// different peers are never compared. It reports whether anything changed.
func (s *State) replace(snapshot map[string]any, source Source, origin string, revision uint64) (bool, error) {
	if s.Status() == StatusDestroyed {
		return false, ErrDestroyed
	}
	next, err := normalizeSnapshot(snapshot)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.Status() == StatusDestroyed {
		s.mu.Unlock()
		return false, ErrDestroyed
	}
	if origin != "" {
		if revision < s.seen[origin] {
			s.mu.Unlock()
			return false, errStale
		}
		s.seen[origin] = revision
	}
	if equal(s.value, next) {
		s.revision = max(s.revision, revision)
		s.mu.Unlock()
		return false, nil
	}
	s.value = next
	s.revision = max(s.revision, revision) + 1
	change := Change{Key: AllKeys, Value: deepCopy(next), Source: source}
	s.events.enqueue(change)
	s.mu.Unlock()

	s.emit(change)
	return true, nil
}

// envelope builds an envelope carrying the current snapshot.
func (s *State) envelope(action Action, scope int) Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Envelope{
		Kind:     Kind,
		Action:   action,
		Scope:    scope,
		Payload:  s.value,
		Origin:   s.id,
		Revision: s.revision,
	}
}

// durableSubset returns the durable keys of the current state, sorted by
// key so encodings are stable.
func (s *State) durableSubset() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.durable))
	for _, k := range slices.Sorted(maps.Keys(s.durable)) {
		if v, ok := s.value[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (s *State) requestPush(ctx context.Context) {
	y := s.syncer.Load()
	if y == nil {
		s.logger.Debug("push requested before sync module connected")
		return
	}
	y.push(ctx)
}

// emit reports c to observers and delivers it, with every change queued
// before it, to OnChange listeners. c must already be enqueued.
func (s *State) emit(c Change) {
	s.metrics.OnApply(c.Source)
	capitan.Emit(context.Background(), StateChanged,
		KeyRole.Field(s.role.String()),
		KeyOrigin.Field(s.id),
		KeyKey.Field(c.Key),
		KeySource.Field(c.Source.String()),
	)
	s.events.drain()
}

// fail records a best-effort failure. It never surfaces to callers.
func (s *State) fail(op string, err error) {
	f := Failure{Op: op, Err: err, At: s.clock.Now()}
	var e error = f
	s.lastError.Store(&e)
	s.failures.push(f)
	s.logger.Debug("operation failed", "op", op, "error", err)
}
