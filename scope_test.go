package replica

import (
	"context"
	"testing"
)

func TestStaticScope(t *testing.T) {
	got, err := StaticScope(9).ResolveScope(context.Background(), RoleContent)
	if err != nil || got != 9 {
		t.Errorf("expected 9, got %d, %v", got, err)
	}
}

func TestScopeFunc(t *testing.T) {
	r := ScopeFunc(func(_ context.Context, role Role) (int, error) {
		if role == RoleContent {
			return 3, nil
		}
		return Wildcard, nil
	})

	if got, _ := r.ResolveScope(context.Background(), RoleContent); got != 3 {
		t.Errorf("expected 3 for content, got %d", got)
	}
	if got, _ := r.ResolveScope(context.Background(), RoleBackground); got != Wildcard {
		t.Errorf("expected wildcard for background, got %d", got)
	}
}
