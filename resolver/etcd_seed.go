package resolver

import (
	"context"
	"encoding/json"
	"strings"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// memberRecord is the JSON value stored under an etcd cluster-membership
// key, the resolver-level analogue of the teacher's ServiceInstance.
type memberRecord struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Weight int    `json:"weight"`
}

// EtcdSeedSource discovers and watches cluster membership stored in etcd,
// generalizing the teacher's EtcdRegistry.Discover/Watch pair from "service
// instances under a service-name prefix" to "cluster members under a
// fixed membership prefix." A client doesn't register itself here — it
// only reads what the cluster's own membership-publishing process writes.
type EtcdSeedSource struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdSeedSource opens an etcd client against endpoints and returns a
// source that lists members under prefix (e.g. "/riverlog/cluster/members/").
func NewEtcdSeedSource(endpoints []string, prefix string) (*EtcdSeedSource, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdSeedSource{client: c, prefix: prefix}, nil
}

// Close releases the underlying etcd client connection.
func (s *EtcdSeedSource) Close() error {
	return s.client.Close()
}

// Seed implements SeedFunc: a one-shot prefix Get, deserializing each
// value into a Member.
func (s *EtcdSeedSource) Seed(ctx context.Context) ([]Member, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	return decodeMembers(resp.Kvs), nil
}

// Watch implements WatchFunc using etcd's server-push Watch API: on any
// change under the prefix, the full membership is re-fetched and pushed,
// mirroring the teacher's "simpler than parsing individual watch events"
// choice.
func (s *EtcdSeedSource) Watch(ctx context.Context) <-chan []Member {
	out := make(chan []Member, 1)
	watchChan := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watchChan:
				if !ok {
					return
				}
				members, err := s.Seed(ctx)
				if err != nil {
					continue
				}
				select {
				case out <- members:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func decodeMembers(kvs []*mvccpb.KeyValue) []Member {
	members := make([]Member, 0, len(kvs))
	for _, kv := range kvs {
		var rec memberRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		members = append(members, Member{
			Endpoint: Endpoint{Host: rec.Host, Port: rec.Port},
			Weight:   rec.Weight,
		})
	}
	return members
}
