package integration

import (
	"testing"
	"time"

	"github.com/zoobzio/replica"
	rtesting "github.com/zoobzio/replica/testing"
)

// settle bounds every convergence wait. Stores deliver changes asynchronously.
const settle = 5 * time.Second

// topology is one background hub, two content leaves in scopes 1 and 2 and
// an offscreen worker sharing an asynchronous bus and a store.
type topology struct {
	bus        *replica.Bus
	background *replica.State
	tab1       *replica.State
	tab2       *replica.State
	worker     *replica.State
}

func newTopology(t *testing.T, store replica.Store, initial map[string]any, configure ...func(*replica.State)) *topology {
	t.Helper()
	bus := replica.NewBus()
	with := func(scope int) []func(*replica.State) {
		return append([]func(*replica.State){func(s *replica.State) {
			s.Scope(scope).PersistentKeys("theme").PullTimeout(time.Second)
		}}, configure...)
	}

	return &topology{
		bus:        bus,
		background: rtesting.StartState(t, replica.RoleBackground, bus, store, initial, with(replica.Wildcard)...),
		tab1:       rtesting.StartState(t, replica.RoleContent, bus, store, initial, with(1)...),
		tab2:       rtesting.StartState(t, replica.RoleContent, bus, store, initial, with(2)...),
		worker:     rtesting.StartState(t, replica.RoleOffscreen, bus, store, initial, with(replica.Wildcard)...),
	}
}

func (tp *topology) all() []*replica.State {
	return []*replica.State{tp.background, tp.tab1, tp.tab2, tp.worker}
}

// requireEverywhere waits until every context holds want under key.
func (tp *topology) requireEverywhere(t *testing.T, key string, want any) {
	t.Helper()
	for _, s := range tp.all() {
		if !rtesting.WaitForValue(t, s, key, want, settle) {
			got, _, _ := s.Get(key)
			t.Fatalf("%s (scope %d): expected %s=%v, got %v", s.Role(), s.ScopeID(), key, want, got)
		}
	}
}
