// Package loadbalance chooses which discovered server a client dials.
//
// Strategies:
//   - RoundRobin:      equal-capacity servers, spread connections evenly
//   - WeightedRandom:  servers of different capacity, spread by Weight
//   - ConsistentHash:  keep a user or space on the same server across reconnects
package loadbalance

import (
	"errors"
	"fmt"

	"spacelink/registry"
)

var ErrNoInstances = errors.New("loadbalance: no available instances")

// Balancer picks one instance. key is the affinity key (user, space, session);
// strategies that do not need one ignore it. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name, as written in configuration.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer(100), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
