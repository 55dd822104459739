// Package resolver locates the endpoint a connection should dial next. It
// generalizes the teacher's registry+loadbalance pair — which together
// answer "which service instance should this RPC go to" — to the single
// question a database client asks repeatedly over a connection's lifetime:
// "what is the current endpoint I should be talking to."
package resolver

import (
	"context"
	"fmt"
)

// Endpoint is a dialable network location.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// Resolver is the pluggable endpoint source spec §4.G and §9 call for
// ("pluggable cluster resolver"). Next returns the endpoint a connection
// attempt should use; MarkFailed/MarkReachable let the connection manager
// feed back dial and heartbeat outcomes so future Next calls steer away
// from endpoints currently known to be down.
type Resolver interface {
	Next(ctx context.Context) (Endpoint, error)
	MarkFailed(ep Endpoint)
	MarkReachable(ep Endpoint)
}

// ErrNoEndpoints is returned by Next when a resolver has no candidate left
// to offer, e.g. every known member is currently marked failed.
var ErrNoEndpoints = fmt.Errorf("resolver: no endpoints available")
