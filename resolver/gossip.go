package resolver

import (
	"context"
	"sync"
	"time"
)

// failedCooldown is how long a gossip-reported member is excluded from
// selection after MarkFailed, mirroring the teacher's etcd lease TTL: a
// bad member is not retried immediately, but it is not permanently
// banished either, since gossip membership can flap.
const failedCooldown = 10 * time.Second

// SeedFunc discovers the current cluster membership. It plays the role of
// EtcdRegistry.Discover: a one-shot query against whatever gossip/seed-list
// mechanism the deployment uses. GossipResolver does not speak any gossip
// wire protocol itself — it only consumes whatever SeedFunc returns (spec
// §9's "pluggable cluster resolver" decision: the wire format is out of
// scope, the polling contract is not).
type SeedFunc func(ctx context.Context) ([]Member, error)

// WatchFunc optionally pushes membership updates as they happen, the
// resolver-level analogue of EtcdRegistry.Watch's server-push channel.
// With or without one, Next calls SeedFunc only while the cached
// membership is empty; when every cached member is in its failure
// cooldown, Next returns ErrNoEndpoints without re-seeding.
type WatchFunc func(ctx context.Context) <-chan []Member

// GossipResolver tracks a polled or pushed cluster membership and picks a
// healthy member per Next call, adapted from registry/etcd_registry.go's
// Discover/Watch pair generalized from "service instances under a
// etcd prefix" to "members of a gossip-discovered cluster."
type GossipResolver struct {
	seed    SeedFunc
	watch   WatchFunc
	pick    strategy

	mu      sync.Mutex
	members []Member
	failed  map[Endpoint]time.Time
}

// GossipOption configures a GossipResolver.
type GossipOption func(*GossipResolver)

// WithWatch attaches a push-based membership feed alongside SeedFunc.
func WithWatch(w WatchFunc) GossipOption {
	return func(r *GossipResolver) { r.watch = w }
}

// WithWeightedRandom switches the member-selection strategy from the
// default round robin to weight-proportional random selection.
func WithWeightedRandom() GossipOption {
	return func(r *GossipResolver) { r.pick = weightedRandomStrategy{} }
}

// NewGossipResolver builds a resolver over seed, the caller-supplied
// membership source.
func NewGossipResolver(seed SeedFunc, opts ...GossipOption) *GossipResolver {
	r := &GossipResolver{
		seed:   seed,
		pick:   &roundRobinStrategy{},
		failed: make(map[Endpoint]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts consuming the optional WatchFunc channel in the background,
// replacing the cached membership on every push. It returns immediately if
// no WatchFunc was configured. Mirrors the teacher's pattern of draining a
// Watch channel in a dedicated goroutine for the lifetime of the registry.
func (r *GossipResolver) Run(ctx context.Context) {
	if r.watch == nil {
		return
	}
	ch := r.watch(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case members, ok := <-ch:
				if !ok {
					return
				}
				r.mu.Lock()
				r.members = members
				r.mu.Unlock()
			}
		}
	}()
}

func (r *GossipResolver) Next(ctx context.Context) (Endpoint, error) {
	candidates, err := r.healthyCandidates(ctx)
	if err != nil {
		return Endpoint{}, err
	}
	if len(candidates) == 0 {
		return Endpoint{}, ErrNoEndpoints
	}
	member, err := r.pick.pick(candidates)
	if err != nil {
		return Endpoint{}, err
	}
	return member.Endpoint, nil
}

// healthyCandidates refreshes the cached membership via SeedFunc when it is
// empty, then filters out anything still inside its failure cooldown.
func (r *GossipResolver) healthyCandidates(ctx context.Context) ([]Member, error) {
	r.mu.Lock()
	members := r.members
	r.mu.Unlock()

	if len(members) == 0 {
		fresh, err := r.seed(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.members = fresh
		members = fresh
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, 0, len(members))
	now := time.Now()
	for _, m := range members {
		until, down := r.failed[m.Endpoint]
		if down && now.Before(until) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *GossipResolver) MarkFailed(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[ep] = time.Now().Add(failedCooldown)
}

func (r *GossipResolver) MarkReachable(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failed, ep)
}
