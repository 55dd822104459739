package resolver

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

// Member is a gossip-reported cluster member with its advertised weight,
// the resolver-level analogue of the teacher's registry.ServiceInstance.
type Member struct {
	Endpoint Endpoint
	Weight   int
}

// strategy picks one member from a healthy candidate list. The interface
// and its two implementations are adapted from the teacher's
// loadbalance.Balancer family (RoundRobinBalancer, WeightedRandomBalancer);
// ConsistentHashBalancer has no analogue here since a database client picks
// a *connection target*, not a cache-affine shard, so it is not carried
// over (see DESIGN.md).
type strategy interface {
	pick(members []Member) (Member, error)
}

// roundRobinStrategy cycles through members in order using an atomic
// counter, exactly as the teacher's RoundRobinBalancer does.
type roundRobinStrategy struct {
	counter int64
}

func (s *roundRobinStrategy) pick(members []Member) (Member, error) {
	if len(members) == 0 {
		return Member{}, fmt.Errorf("resolver: no members to pick from")
	}
	idx := atomic.AddInt64(&s.counter, 1) - 1
	idx %= int64(len(members))
	return members[idx], nil
}

// weightedRandomStrategy favors higher-weight members probabilistically,
// the same subtract-until-negative algorithm as the teacher's
// WeightedRandomBalancer.
type weightedRandomStrategy struct{}

func (weightedRandomStrategy) pick(members []Member) (Member, error) {
	if len(members) == 0 {
		return Member{}, fmt.Errorf("resolver: no members to pick from")
	}
	total := 0
	for _, m := range members {
		total += m.Weight
	}
	if total <= 0 {
		return members[rand.Intn(len(members))], nil
	}
	r := rand.Intn(total)
	for _, m := range members {
		r -= m.Weight
		if r < 0 {
			return m, nil
		}
	}
	return Member{}, fmt.Errorf("resolver: weighted selection fell through")
}
