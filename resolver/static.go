package resolver

import "context"

// StaticResolver always returns the one endpoint it was configured with.
// It is the degenerate case of Resolver: MarkFailed/MarkReachable are
// no-ops and never change what Next returns, since there is nothing
// else to fail over to — dialing is left to the connection manager's own
// retry/backoff loop.
type StaticResolver struct {
	endpoint Endpoint
}

// NewStaticResolver builds a resolver fixed to a single address.
func NewStaticResolver(ep Endpoint) *StaticResolver {
	return &StaticResolver{endpoint: ep}
}

func (r *StaticResolver) Next(ctx context.Context) (Endpoint, error) {
	return r.endpoint, nil
}

func (r *StaticResolver) MarkFailed(ep Endpoint)    {}
func (r *StaticResolver) MarkReachable(ep Endpoint) {}
