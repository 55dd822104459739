package resolver

import (
	"context"
	"testing"
)

func TestStaticResolverAlwaysReturnsConfiguredEndpoint(t *testing.T) {
	ep := Endpoint{Host: "10.0.0.1", Port: 1113}
	r := NewStaticResolver(ep)

	got, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != ep {
		t.Fatalf("got %v, want %v", got, ep)
	}

	r.MarkFailed(ep)
	got, err = r.Next(context.Background())
	if err != nil || got != ep {
		t.Fatalf("MarkFailed should not change StaticResolver's answer, got %v, %v", got, err)
	}
}

func TestGossipResolverRoundRobinsAcrossHealthyMembers(t *testing.T) {
	members := []Member{
		{Endpoint: Endpoint{Host: "a", Port: 1}, Weight: 1},
		{Endpoint: Endpoint{Host: "b", Port: 2}, Weight: 1},
	}
	seed := func(ctx context.Context) ([]Member, error) { return members, nil }
	r := NewGossipResolver(seed)

	seen := map[Endpoint]int{}
	for i := 0; i < 4; i++ {
		ep, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[ep]++
	}
	if len(seen) != 2 {
		t.Fatalf("expected both members to be picked over 4 rounds, got %v", seen)
	}
}

func TestGossipResolverExcludesFailedMemberUntilMarkedReachable(t *testing.T) {
	a := Endpoint{Host: "a", Port: 1}
	b := Endpoint{Host: "b", Port: 2}
	members := []Member{{Endpoint: a, Weight: 1}, {Endpoint: b, Weight: 1}}
	seed := func(ctx context.Context) ([]Member, error) { return members, nil }
	r := NewGossipResolver(seed)

	r.MarkFailed(a)
	for i := 0; i < 5; i++ {
		ep, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ep == a {
			t.Fatalf("failed endpoint %v should not be selected while in cooldown", a)
		}
	}

	r.MarkReachable(a)
	delete(r.failed, a) // cooldown is time-based; simulate expiry for the test
	ep, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ep != a && ep != b {
		t.Fatalf("unexpected endpoint %v", ep)
	}
}

func TestGossipResolverReturnsErrNoEndpointsWhenAllFailed(t *testing.T) {
	a := Endpoint{Host: "a", Port: 1}
	members := []Member{{Endpoint: a, Weight: 1}}
	seed := func(ctx context.Context) ([]Member, error) { return members, nil }
	r := NewGossipResolver(seed)

	r.MarkFailed(a)
	_, err := r.Next(context.Background())
	if err != ErrNoEndpoints {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}
