package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/zoobzio/capitan"
)

// errStale marks a snapshot older than one its sender already delivered.
var errStale = errors.New("stale snapshot")

// Drop reasons reported through metrics and SyncDropped.
const (
	dropScope    = "scope"
	dropStale    = "stale"
	dropNotReady = "not-ready"
	dropSelf     = "self"
)

// syncer exchanges snapshots with peer contexts. One implementation serves
// every role; the Reachability value decides which channels it uses.
type syncer struct {
	state     *State
	reach     Reachability
	transport Transport
	group     string
	scope     int
	logger    hclog.Logger

	subs     []Subscription
	warnOnce sync.Once
}

func newSyncer(s *State, scope int) *syncer {
	return &syncer{
		state:     s,
		reach:     s.reach,
		transport: s.transport,
		group:     s.group,
		scope:     scope,
		logger:    s.logger.Named("sync").With("topology", s.reach.Topology.String(), "scope", scope),
	}
}

// listen registers the inbound handlers. Subscriptions made before a
// failure stay registered and are released by destroy.
func (y *syncer) listen() error {
	for _, ch := range y.reach.Listen {
		for _, subject := range listenSubjects(y.group, ch, y.scope) {
			sub, err := y.transport.Subscribe(subject, y.handler(ch))
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			y.subs = append(y.subs, sub)
		}
	}

	if y.reach.ServeRelay {
		subject := Subject(y.group, ChannelRelay, y.scope)
		sub, err := y.transport.Subscribe(subject, y.relayHandler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		y.subs = append(y.subs, sub)
	}
	return nil
}

// push broadcasts the current snapshot on every publish channel. Pushes
// before bootstrap completed are skipped.
func (y *syncer) push(ctx context.Context) {
	if y.state.Status() != StatusReady {
		y.logger.Debug("tried to push before setup done")
		return
	}

	action := ActionPush
	if y.reach.Relayed() {
		action = ActionRelayPush
	}
	env := y.state.envelope(action, y.scope)
	data, err := env.Encode()
	if err != nil {
		y.failed(ctx, "push", ChannelShared, err)
		return
	}

	for _, ch := range y.reach.Publish {
		if ch == ChannelScoped && y.scope == Wildcard {
			y.warnOnce.Do(func() {
				y.logger.Warn("pushing to scoped contexts without a resolved scope; every scope will apply this snapshot")
			})
			capitan.Emit(ctx, SyncMisconfigured,
				KeyRole.Field(y.state.role.String()),
				KeyOrigin.Field(y.state.id),
			)
		}

		subject := Subject(y.group, ch, y.scope)
		if err := y.transport.Publish(ctx, subject, data); err != nil {
			y.failed(ctx, "push", ch, err)
			continue
		}
		y.state.metrics.OnPush(ch)
		capitan.Emit(ctx, SyncPushed,
			KeyOrigin.Field(y.state.id),
			KeyChannel.Field(ch.String()),
			KeyAction.Field(string(action)),
			KeyRevision.Field(int(env.Revision)), //nolint:gosec // Revision counts local mutations
		)
	}
	y.logger.Debug("pushed updates", "revision", env.Revision)
}

// pull asks every pull channel for a snapshot concurrently and applies the
// first answer. Without an answer before the timeout the State keeps its
// current value.
func (y *syncer) pull(ctx context.Context) {
	start := y.state.clock.Now()
	ctx, cancel := y.state.clock.WithTimeout(ctx, y.state.pullTimeout)
	defer cancel()

	action := ActionPull
	source := SourceSync
	if y.reach.Relayed() {
		action = ActionRelayPull
		source = SourceLeafRelay
	}
	req := Envelope{Kind: Kind, Action: action, Scope: y.scope, Origin: y.state.id}
	data, err := req.Encode()
	if err != nil {
		y.failed(ctx, "pull", ChannelShared, err)
		return
	}

	type answer struct {
		env Envelope
		ch  Channel
		ok  bool
	}
	answers := make(chan answer, len(y.reach.Pull))
	for _, ch := range y.reach.Pull {
		go func(ch Channel) {
			reply, err := y.transport.Request(ctx, Subject(y.group, ch, y.scope), data)
			if err != nil {
				if !errors.Is(err, ErrNoResponders) && ctx.Err() == nil {
					y.failed(ctx, "pull", ch, err)
				}
				answers <- answer{ch: ch}
				return
			}
			env, ok := DecodeEnvelope(reply)
			answers <- answer{env: env, ch: ch, ok: ok && env.Action == ActionPush}
		}(ch)
	}

	found := false
	for range y.reach.Pull {
		var a answer
		select {
		case <-ctx.Done():
		case a = <-answers:
		}
		if ctx.Err() != nil && !a.ok {
			break
		}
		if !a.ok {
			continue
		}
		found = true
		y.apply(ctx, a.env, source)
		break
	}

	elapsed := y.state.clock.Since(start)
	y.state.metrics.OnPull(found, elapsed)
	capitan.Emit(ctx, SyncPulled,
		KeyOrigin.Field(y.state.id),
		KeyDuration.Field(elapsed),
	)
	if !found {
		y.logger.Info("no peer answered the initial pull; keeping initial state", "timeout", y.state.pullTimeout)
		return
	}
	y.logger.Debug("fetched state from peer", "elapsed", elapsed)
}

// apply replaces the local state with a remote snapshot unless its sender
// already delivered a later one. It reports whether the snapshot was
// accepted, changed or not.
func (y *syncer) apply(ctx context.Context, env Envelope, source Source) bool {
	changed, err := y.state.replace(env.Payload, source, env.Origin, env.Revision)
	switch {
	case errors.Is(err, errStale):
		y.dropped(ctx, env, dropStale)
		return false
	case err != nil:
		y.logger.Debug("could not apply remote snapshot", "error", err)
		return false
	}
	if changed {
		capitan.Emit(ctx, SyncApplied,
			KeyOrigin.Field(y.state.id),
			KeySource.Field(source.String()),
			KeyRevision.Field(int(env.Revision)), //nolint:gosec // Revision counts mutations
		)
	}
	return true
}

// handler returns the inbound handler for a listen channel.
func (y *syncer) handler(ch Channel) MessageHandler {
	return func(ctx context.Context, data []byte) ([]byte, bool) {
		env, ok := DecodeEnvelope(data)
		if !ok {
			return nil, false
		}
		if !y.accept(ctx, env) {
			return nil, false
		}

		switch env.Action {
		case ActionPush:
			y.apply(ctx, env, SourceSync)
		case ActionPull:
			return y.reply(ctx, env)
		default:
			y.logger.Trace("ignoring relay action on listen channel", "channel", ch.String(), "action", env.Action)
		}
		return nil, false
	}
}

// relayHandler serves contexts that can only reach the hub. A relayed push
// is applied locally and re-broadcast so scoped contexts observe it. A
// dropped push is not re-broadcast.
func (y *syncer) relayHandler(ctx context.Context, data []byte) ([]byte, bool) {
	env, ok := DecodeEnvelope(data)
	if !ok {
		return nil, false
	}
	if !y.accept(ctx, env) {
		return nil, false
	}

	switch env.Action {
	case ActionRelayPush:
		if y.apply(ctx, env, SourceHubRelay) {
			y.push(ctx)
		}
	case ActionRelayPull:
		return y.reply(ctx, env)
	}
	return nil, false
}

// accept applies the origin and scope filters.
func (y *syncer) accept(ctx context.Context, env Envelope) bool {
	if y.state.Status() == StatusDestroyed {
		return false
	}
	if env.Origin != "" && env.Origin == y.state.id {
		y.state.metrics.OnDrop(dropSelf)
		return false
	}
	if !env.Matches(y.scope) {
		y.logger.Trace("ignoring message from other scope", "from", env.Scope)
		y.dropped(ctx, env, dropScope)
		return false
	}
	return true
}

// reply answers a pull with the current snapshot once bootstrap completed.
func (y *syncer) reply(ctx context.Context, req Envelope) ([]byte, bool) {
	if y.state.Status() != StatusReady {
		y.dropped(ctx, req, dropNotReady)
		return nil, false
	}
	data, err := y.state.envelope(ActionPush, y.scope).Encode()
	if err != nil {
		y.failed(ctx, "reply", ChannelShared, err)
		return nil, false
	}
	y.logger.Debug("sending requested state", "to", req.Origin)
	return data, true
}

func (y *syncer) dropped(ctx context.Context, env Envelope, reason string) {
	y.state.metrics.OnDrop(reason)
	capitan.Emit(ctx, SyncDropped,
		KeyOrigin.Field(y.state.id),
		KeyAction.Field(string(env.Action)),
		KeyReason.Field(reason),
		KeyScope.Field(env.Scope),
	)
}

func (y *syncer) failed(ctx context.Context, op string, ch Channel, err error) {
	y.state.fail(op, err)
	capitan.Emit(ctx, SyncFailed,
		KeyOrigin.Field(y.state.id),
		KeyChannel.Field(ch.String()),
		KeyError.Field(err.Error()),
	)
}

// destroy unregisters every inbound handler.
func (y *syncer) destroy() error {
	var result *multierror.Error
	for _, sub := range y.subs {
		if err := sub.Unsubscribe(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	y.subs = nil
	return result.ErrorOrNil()
}
